package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ModelGroup 模型分组；同名模型可来自不同提供商
type ModelGroup struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	DefaultQuota decimal.Decimal `json:"defaultQuota"`
	IsPublic     bool            `json:"isPublic"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}
