package model

import "time"

// ProviderFormat 上游接口形态，决定模型目录的解析方式
type ProviderFormat string

const (
	ProviderFormatOpenAI    ProviderFormat = "openai"
	ProviderFormatAnthropic ProviderFormat = "anthropic"
	ProviderFormatGeneric   ProviderFormat = "generic"
)

func (f ProviderFormat) Valid() bool {
	switch f {
	case ProviderFormatOpenAI, ProviderFormatAnthropic, ProviderFormatGeneric:
		return true
	}
	return false
}

type Provider struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Format         ProviderFormat `json:"format"`
	BaseURL        string         `json:"baseUrl"`
	APIKey         string         `json:"-"`
	HeadersJSON    string         `json:"-"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
	MaxRetries     int            `json:"maxRetries"`
	IsActive       bool           `json:"isActive"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Timeout 返回上游请求超时，未配置时 30 秒
func (p *Provider) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

type ProviderLogAction string

const (
	ProviderLogActionSync ProviderLogAction = "sync"
	ProviderLogActionTest ProviderLogAction = "test"
)

type ProviderLog struct {
	ID           string            `json:"id"`
	ProviderID   string            `json:"providerId"`
	Action       ProviderLogAction `json:"action"`
	Success      bool              `json:"success"`
	DurationMs   int64             `json:"durationMs"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	DetailsJSON  string            `json:"-"`
	CreatedAt    time.Time         `json:"createdAt"`
}
