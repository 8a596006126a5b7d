package service

import "errors"

// ErrorKind 对外错误类别，同时作为响应体中的 type 与 code
type ErrorKind string

const (
	KindUnauthenticated  ErrorKind = "unauthenticated"
	KindModelNotFound    ErrorKind = "model_not_found"
	KindInvalidRequest   ErrorKind = "invalid_request"
	KindModelNotEntitled ErrorKind = "model_not_entitled"
	KindRateLimited      ErrorKind = "rate_limited"
	KindQuotaExhausted   ErrorKind = "quota_exhausted"
	KindUpstream         ErrorKind = "upstream_error"
	KindInternal         ErrorKind = "internal_error"
)

var (
	ErrUnauthenticated  = errors.New("invalid or missing api key")
	ErrModelNotFound    = errors.New("model not found")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrModelNotEntitled = errors.New("model not available for this key")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrQuotaExhausted   = errors.New("quota exhausted")
	ErrUpstream         = errors.New("upstream request failed")
	ErrInternal         = errors.New("internal error")
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnauthenticated, KindUnauthenticated},
	{ErrModelNotFound, KindModelNotFound},
	{ErrInvalidRequest, KindInvalidRequest},
	{ErrModelNotEntitled, KindModelNotEntitled},
	{ErrRateLimited, KindRateLimited},
	{ErrQuotaExhausted, KindQuotaExhausted},
	{ErrUpstream, KindUpstream},
	{ErrInternal, KindInternal},
}

// KindOf 将错误归类；无法识别的错误一律视为内部错误
func KindOf(err error) ErrorKind {
	for _, m := range kindBySentinel {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return KindInternal
}
