package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultRateLimitPerMinute = 60
	DefaultRateLimitPerHour   = 3600
	DefaultRateLimitPerDay    = 86400
)

// Quota 预算记录：一把调用密钥对应一份额度、一个模型分组和三档频率上限
type Quota struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	ModelGroupID       string          `json:"modelGroupId"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	APIKey             string          `json:"-"`
	TotalQuota         decimal.Decimal `json:"totalQuota"`
	UsedQuota          decimal.Decimal `json:"usedQuota"`
	RateLimitPerMinute int             `json:"rateLimitPerMinute"`
	RateLimitPerHour   int             `json:"rateLimitPerHour"`
	RateLimitPerDay    int             `json:"rateLimitPerDay"`
	IsActive           bool            `json:"isActive"`
	DeletedAt          *time.Time      `json:"deletedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`

	// 关联查询时填充
	GroupName string `json:"groupName,omitempty"`
}

// Remaining 剩余额度，不小于 0
func (q *Quota) Remaining() decimal.Decimal {
	r := q.TotalQuota.Sub(q.UsedQuota)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// UsagePercentage 已用百分比；总额为 0 视为已用尽
func (q *Quota) UsagePercentage() decimal.Decimal {
	if !q.TotalQuota.IsPositive() {
		return decimal.NewFromInt(100)
	}
	return q.UsedQuota.Div(q.TotalQuota).Mul(decimal.NewFromInt(100)).Round(2)
}

// Exhausted 是否已无可用额度
func (q *Quota) Exhausted() bool {
	return !q.IsActive || q.UsedQuota.GreaterThanOrEqual(q.TotalQuota)
}

func (q *Quota) IsDeleted() bool {
	return q.DeletedAt != nil
}

func (q *Quota) MaskedAPIKey() string {
	return MaskAPIKey(q.APIKey)
}

// MaskAPIKey 日志与接口中展示的密钥形式
func MaskAPIKey(key string) string {
	if len(key) <= 12 {
		return "****"
	}
	return key[:8] + "****" + key[len(key)-4:]
}

type QuotaResponse struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"userId"`
	ModelGroupID       string          `json:"modelGroupId"`
	GroupName          string          `json:"groupName"`
	Name               string          `json:"name"`
	MaskedAPIKey       string          `json:"maskedApiKey"`
	APIKey             string          `json:"apiKey,omitempty"`
	TotalQuota         decimal.Decimal `json:"totalQuota"`
	UsedQuota          decimal.Decimal `json:"usedQuota"`
	RemainingQuota     decimal.Decimal `json:"remainingQuota"`
	UsagePercentage    decimal.Decimal `json:"usagePercentage"`
	RateLimitPerMinute int             `json:"rateLimitPerMinute"`
	RateLimitPerHour   int             `json:"rateLimitPerHour"`
	RateLimitPerDay    int             `json:"rateLimitPerDay"`
	IsActive           bool            `json:"isActive"`
	DeletedAt          *time.Time      `json:"deletedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
}

func (q *Quota) ToResponse() *QuotaResponse {
	return &QuotaResponse{
		ID:                 q.ID,
		UserID:             q.UserID,
		ModelGroupID:       q.ModelGroupID,
		GroupName:          q.GroupName,
		Name:               q.Name,
		MaskedAPIKey:       q.MaskedAPIKey(),
		TotalQuota:         q.TotalQuota,
		UsedQuota:          q.UsedQuota,
		RemainingQuota:     q.Remaining(),
		UsagePercentage:    q.UsagePercentage(),
		RateLimitPerMinute: q.RateLimitPerMinute,
		RateLimitPerHour:   q.RateLimitPerHour,
		RateLimitPerDay:    q.RateLimitPerDay,
		IsActive:           q.IsActive,
		DeletedAt:          q.DeletedAt,
		CreatedAt:          q.CreatedAt,
	}
}

// IssueQuotaRequest 管理端签发新密钥；TotalQuota 为空时取分组默认额度
type IssueQuotaRequest struct {
	UserID             string           `json:"userId" binding:"required"`
	ModelGroupID       string           `json:"modelGroupId" binding:"required"`
	Name               string           `json:"name" binding:"max=100"`
	Description        string           `json:"description" binding:"max=500"`
	TotalQuota         *decimal.Decimal `json:"totalQuota"`
	RateLimitPerMinute int              `json:"rateLimitPerMinute" binding:"min=0"`
	RateLimitPerHour   int              `json:"rateLimitPerHour" binding:"min=0"`
	RateLimitPerDay    int              `json:"rateLimitPerDay" binding:"min=0"`
}

type QuotaLogAction string

const (
	QuotaLogActionDeduct        QuotaLogAction = "deduct"
	QuotaLogActionReset         QuotaLogAction = "reset"
	QuotaLogActionRestore       QuotaLogAction = "restore"
	QuotaLogActionSoftDelete    QuotaLogAction = "soft_delete"
	QuotaLogActionRegenerateKey QuotaLogAction = "regenerate_key"
)

// QuotaUsageLog 额度变动流水
type QuotaUsageLog struct {
	ID          string          `json:"id"`
	QuotaID     string          `json:"quotaId"`
	Action      QuotaLogAction  `json:"action"`
	Amount      decimal.Decimal `json:"amount"`
	Remaining   decimal.Decimal `json:"remaining"`
	RequestID   string          `json:"requestId,omitempty"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

const AlertTypeQuotaExceeded = "quota_exceeded"

type QuotaAlert struct {
	ID           string          `json:"id"`
	QuotaID      string          `json:"quotaId"`
	AlertType    string          `json:"alertType"`
	Threshold    int             `json:"threshold"`
	CurrentValue decimal.Decimal `json:"currentValue"`
	Message      string          `json:"message"`
	IsResolved   bool            `json:"isResolved"`
	CreatedAt    time.Time       `json:"createdAt"`
	ResolvedAt   *time.Time      `json:"resolvedAt,omitempty"`
}
