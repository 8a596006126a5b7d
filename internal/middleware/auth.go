package middleware

import (
	"errors"
	"strings"

	"aigateway/internal/apierr"
	"aigateway/internal/model"
	"aigateway/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	ContextKeyQuota        = "quota"
	ContextKeyAdminSubject = "admin_subject"
)

// KeyAuthMiddleware 校验调用密钥，通过后将预算记录放入上下文
func KeyAuthMiddleware(credentials *service.CredentialService) gin.HandlerFunc {
	return func(c *gin.Context) {
		quota, err := credentials.Authenticate(c.Request.Context(), extractAPIKey(c))
		if err != nil {
			apierr.Abort(c, err)
			return
		}
		c.Set(ContextKeyQuota, quota)
		c.Next()
	}
}

// extractAPIKey 依次读取 Authorization: Bearer 与 X-Api-Key
func extractAPIKey(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(c.GetHeader("X-Api-Key"))
}

// AdminAuthMiddleware 校验管理端 HS256 令牌
func AdminAuthMiddleware(jwtService *service.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			apierr.AbortWithKind(c, service.KindUnauthenticated, "missing Authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			apierr.AbortWithKind(c, service.KindUnauthenticated, "malformed Authorization header")
			return
		}

		claims, err := jwtService.ValidateToken(parts[1])
		if err != nil {
			msg := "invalid admin token"
			if errors.Is(err, service.ErrExpiredToken) {
				msg = "admin token expired"
			}
			apierr.AbortWithKind(c, service.KindUnauthenticated, msg)
			return
		}

		c.Set(ContextKeyAdminSubject, claims.Subject)
		c.Next()
	}
}

func GetQuota(c *gin.Context) *model.Quota {
	v, _ := c.Get(ContextKeyQuota)
	if q, ok := v.(*model.Quota); ok {
		return q
	}
	return nil
}

func GetAdminSubject(c *gin.Context) string {
	v, _ := c.Get(ContextKeyAdminSubject)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
