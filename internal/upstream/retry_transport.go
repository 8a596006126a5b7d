package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryConfig 退避参数；MaxAttempts 含首次请求，通常由 WithMaxRetries 按提供商设置
type RetryConfig struct {
	MaxAttempts       int
	MaxBodyBytes      int64
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	RetryOn429        bool
	RetryOn5xx        bool
	RespectRetryAfter bool
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       1,
		MaxBodyBytes:      10 << 20,
		BackoffBase:       100 * time.Millisecond,
		BackoffMax:        2 * time.Second,
		RetryOn429:        true,
		RetryOn5xx:        true,
		RespectRetryAfter: true,
	}
}

// WithMaxRetries 提供商 max_retries 为 N 时最多发起 N+1 次请求
func (c RetryConfig) WithMaxRetries(maxRetries int) RetryConfig {
	c.MaxAttempts = max(maxRetries, 0) + 1
	return c
}

// RetryTransport 对单个提供商的有界重试
type RetryTransport struct {
	Base http.RoundTripper
	cfg  RetryConfig

	// OnRetry 决定重试时回调，statusCode 为 0 表示网络错误
	OnRetry func(attempt int, err error, statusCode int)
}

func NewRetryTransport(base http.RoundTripper, cfg RetryConfig) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	cfg.MaxAttempts = max(cfg.MaxAttempts, 1)
	return &RetryTransport{Base: base, cfg: cfg}
}

// RetryExhaustedError 所有尝试均以网络错误结束
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

func (rt *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if rt.cfg.MaxAttempts == 1 {
		return rt.Base.RoundTrip(req)
	}

	body, replayable, err := bufferBody(req, rt.cfg.MaxBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	if !replayable {
		log.WithField("host", req.URL.Host).Debug("upstream: body too large to replay, single attempt")
		return rt.Base.RoundTrip(req)
	}

	ctx := req.Context()
	var lastErr error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if lastErr == nil {
				return nil, ctxErr
			}
			return nil, &RetryExhaustedError{Attempts: attempt - 1, LastErr: ctxErr}
		}

		resp, err := rt.Base.RoundTrip(withBody(req, body))
		final := attempt >= rt.cfg.MaxAttempts

		if err != nil {
			lastErr = err
			if final || !retryableError(err) {
				if attempt == 1 {
					return nil, err
				}
				return nil, &RetryExhaustedError{Attempts: attempt, LastErr: err}
			}
			rt.retrying(req, attempt, err, 0)
			rt.sleep(ctx, rt.delay(attempt, 0))
			continue
		}

		if final || !rt.retryableStatus(resp.StatusCode) {
			if attempt > 1 {
				log.WithFields(log.Fields{"host": req.URL.Host, "attempts": attempt, "status": resp.StatusCode}).
					Info("upstream: finished after retries")
			}
			return resp, nil
		}

		wait := rt.retryAfter(resp.Header.Get("Retry-After"))
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		rt.retrying(req, attempt, nil, resp.StatusCode)
		rt.sleep(ctx, rt.delay(attempt, wait))
	}
}

func (rt *RetryTransport) retrying(req *http.Request, attempt int, err error, statusCode int) {
	entry := log.WithFields(log.Fields{
		"method":      req.Method,
		"host":        req.URL.Host,
		"attempt":     attempt,
		"maxAttempts": rt.cfg.MaxAttempts,
	})
	if err != nil {
		entry = entry.WithFields(log.Fields{"error": SanitizeError(err), "errorClass": classifyError(err)})
	} else {
		entry = entry.WithField("statusCode", statusCode)
	}
	entry.Warn("upstream: attempt failed, retrying")

	if rt.OnRetry != nil {
		rt.OnRetry(attempt, err, statusCode)
	}
}

func (rt *RetryTransport) retryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests:
		return rt.cfg.RetryOn429
	case code == http.StatusInternalServerError, code == http.StatusBadGateway,
		code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return rt.cfg.RetryOn5xx
	}
	return false
}

// retryAfter 解析秒数或 HTTP 日期形式的 Retry-After，无效时返回 0
func (rt *RetryTransport) retryAfter(v string) time.Duration {
	if !rt.cfg.RespectRetryAfter || v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = time.Until(t)
	}
	return min(max(d, 0), rt.cfg.BackoffMax)
}

// delay 优先使用上游给出的等待时间，否则指数退避加 ±25% 抖动
func (rt *RetryTransport) delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}
	d := min(rt.cfg.BackoffBase<<(attempt-1), rt.cfg.BackoffMax)
	return d - d/4 + time.Duration(rand.Int63n(int64(d/2)+1))
}

func (rt *RetryTransport) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// bufferBody 读出请求体以便重放；超过 limit 时恢复原始 body 并返回 false
func bufferBody(req *http.Request, limit int64) ([]byte, bool, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, true, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, false, err
		}
		src = fresh
	}
	data, err := io.ReadAll(io.LimitReader(src, limit+1))
	if err != nil {
		_ = src.Close()
		return nil, false, err
	}
	if int64(len(data)) > limit {
		if req.GetBody == nil {
			// 已读部分拼回未读部分
			req.Body = struct {
				io.Reader
				io.Closer
			}{io.MultiReader(bytes.NewReader(data), src), src}
		} else {
			_ = src.Close()
		}
		return nil, false, nil
	}
	_ = src.Close()
	return data, true, nil
}

func withBody(req *http.Request, body []byte) *http.Request {
	clone := req.Clone(req.Context())
	if body == nil {
		clone.Body, clone.ContentLength = http.NoBody, 0
		return clone
	}
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return clone
}

// retryableError 连接层的瞬时错误可重试；调用方取消或超时不重试
func retryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}
