package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ClientIP 优先取 X-Forwarded-For 的第一个地址
func ClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return c.ClientIP()
}
