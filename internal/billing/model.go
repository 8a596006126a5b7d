package billing

import "github.com/shopspring/decimal"

// PerUnitScale 价格按每 1,000,000 单位计
var PerUnitScale = decimal.NewFromInt(1_000_000)

// Pricing 单个模型变体的单价（每 1M 单位）
type Pricing struct {
	InputPrice  decimal.Decimal
	OutputPrice decimal.Decimal
}

// TokenUsage 上游返回的用量计数
type TokenUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
	TotalTokens  int `json:"totalTokens"`
}

// Normalize 负数归零，缺失的 total 用 input+output 补齐
func (u TokenUsage) Normalize() TokenUsage {
	if u.InputTokens < 0 {
		u.InputTokens = 0
	}
	if u.OutputTokens < 0 {
		u.OutputTokens = 0
	}
	if u.TotalTokens <= 0 {
		u.TotalTokens = u.InputTokens + u.OutputTokens
	}
	return u
}

// CostResult 成本计算结果，均为 6 位小数
type CostResult struct {
	InputCost  decimal.Decimal
	OutputCost decimal.Decimal
	TotalCost  decimal.Decimal
}

// CostMicros 总成本的微单位整数
func (r CostResult) CostMicros() int64 {
	return r.TotalCost.Shift(6).IntPart()
}
