package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageRecord 单次调用的审计记录，写入后不再修改
type UsageRecord struct {
	ID           string          `json:"id"`
	RequestID    string          `json:"requestId"`
	QuotaID      string          `json:"quotaId"`
	UserID       string          `json:"userId"`
	VariantID    string          `json:"variantId"`
	ProviderID   string          `json:"providerId"`
	ModelGroupID string          `json:"modelGroupId"`
	ModelName    string          `json:"modelName"`
	Method       string          `json:"method"`
	Endpoint     string          `json:"endpoint"`
	RequestBody  string          `json:"requestBody,omitempty"`
	ResponseBody string          `json:"responseBody,omitempty"`
	InputTokens  int             `json:"inputTokens"`
	OutputTokens int             `json:"outputTokens"`
	TotalTokens  int             `json:"totalTokens"`
	InputCost    decimal.Decimal `json:"inputCost"`
	OutputCost   decimal.Decimal `json:"outputCost"`
	TotalCost    decimal.Decimal `json:"totalCost"`
	StatusCode   int             `json:"statusCode"`
	DurationMs   int64           `json:"durationMs"`
	IPAddress    string          `json:"ipAddress"`
	UserAgent    string          `json:"userAgent"`
	ErrorType    string          `json:"errorType,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Succeeded 上游是否成功返回
func (r *UsageRecord) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && r.ErrorType == ""
}
