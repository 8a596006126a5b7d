package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
)

// StatusError 上游返回非 2xx
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, msg)
}

// IsTimeout 是否为超时（含 context 截止）
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// classifyError 将错误分类为可观测的类型
func classifyError(err error) string {
	if err == nil {
		return "none"
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return "eof"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if IsTimeout(err) {
		return "timeout"
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return "status"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return "network"
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "connection reset"):
		return "reset"
	case strings.Contains(errStr, "connection refused"):
		return "refused"
	case strings.Contains(errStr, "dns") || strings.Contains(errStr, "no such host"):
		return "dns"
	case strings.Contains(errStr, "tls") || strings.Contains(errStr, "certificate"):
		return "tls"
	}
	return "unknown"
}

// ClassifyError 对外暴露的错误分类，用于指标标签
func ClassifyError(err error) string {
	return classifyError(err)
}

// sensitivePatterns 敏感信息正则模式（编译一次复用）
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)key=[^&\s]+`),
	regexp.MustCompile(`(?i)token=[^&\s]+`),
	regexp.MustCompile(`(?i)Bearer\s+[^\s"]+`),
	regexp.MustCompile(`(?i)x-api-key:\s*[^\s]+`),
	regexp.MustCompile(`(?i)authorization:\s*[^\s]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)secret=[^&\s]+`),
}

// SanitizeError 清理错误消息中的敏感信息
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeErrorMessage(err.Error())
}

func SanitizeErrorMessage(msg string) string {
	for _, pattern := range sensitivePatterns {
		msg = pattern.ReplaceAllString(msg, "[REDACTED]")
	}
	return msg
}
