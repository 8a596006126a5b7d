// Package apierr 统一的 OpenAI 兼容错误响应
package apierr

import (
	"net/http"

	"aigateway/internal/service"
	"aigateway/internal/upstream"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// ErrorResponse 标准错误响应格式
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// StatusFor 错误类别对应的 HTTP 状态码
func StatusFor(kind service.ErrorKind) int {
	switch kind {
	case service.KindUnauthenticated:
		return http.StatusUnauthorized
	case service.KindModelNotFound, service.KindInvalidRequest:
		return http.StatusBadRequest
	case service.KindModelNotEntitled:
		return http.StatusForbidden
	case service.KindRateLimited, service.KindQuotaExhausted:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// New 构建错误响应；内部错误不向调用方暴露细节
func New(kind service.ErrorKind, message string) ErrorResponse {
	if kind == service.KindInternal || message == "" {
		message = http.StatusText(StatusFor(kind))
		if kind == service.KindInternal {
			message = "internal server error"
		}
	}
	return ErrorResponse{Error: ErrorDetail{
		Message: upstream.SanitizeErrorMessage(message),
		Type:    string(kind),
		Code:    string(kind),
	}}
}

// Abort 按错误类别写入响应并终止后续处理
func Abort(c *gin.Context, err error) {
	kind := service.KindOf(err)
	if kind == service.KindInternal {
		log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
		}).Errorf("request failed: %s", upstream.SanitizeError(err))
	}
	c.AbortWithStatusJSON(StatusFor(kind), New(kind, err.Error()))
}

// AbortWithKind 直接以给定类别与消息终止，用于参数校验等场景
func AbortWithKind(c *gin.Context, kind service.ErrorKind, message string) {
	c.AbortWithStatusJSON(StatusFor(kind), New(kind, message))
}
