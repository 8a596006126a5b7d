package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ModelVariant 某提供商下的一个具体计价模型，价格单位为每 1,000,000 单位
type ModelVariant struct {
	ID               string          `json:"id"`
	ProviderID       string          `json:"providerId"`
	Name             string          `json:"name"`
	DisplayName      string          `json:"displayName"`
	ExternalID       string          `json:"externalId"`
	InputPrice       decimal.Decimal `json:"inputPrice"`
	OutputPrice      decimal.Decimal `json:"outputPrice"`
	ContextLength    int             `json:"contextLength"`
	MaxOutputTokens  int             `json:"maxOutputTokens"`
	ModelType        string          `json:"modelType"`
	CapabilitiesJSON string          `json:"-"`
	IsActive         bool            `json:"isActive"`
	IsAvailable      bool            `json:"isAvailable"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`

	// 关联查询时填充
	ProviderName   string         `json:"providerName,omitempty"`
	ProviderFormat ProviderFormat `json:"-"`
}

// PriceSum 选路时比较的合计单价
func (v *ModelVariant) PriceSum() decimal.Decimal {
	return v.InputPrice.Add(v.OutputPrice)
}

// UpstreamModel 转发上游时使用的模型标识
func (v *ModelVariant) UpstreamModel() string {
	if v.ExternalID != "" {
		return v.ExternalID
	}
	return v.Name
}
