package billing

import (
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// CostScale 成本保留的小数位数
const CostScale = 6

// CostCalculator 成本计算器，全程使用定点小数
type CostCalculator struct{}

func NewCostCalculator() *CostCalculator {
	return &CostCalculator{}
}

var defaultCalculator = NewCostCalculator()

// GetCostCalculator 返回共享的计算器实例
func GetCostCalculator() *CostCalculator {
	return defaultCalculator
}

// Calculate cost = input/1M × inputPrice + output/1M × outputPrice
// 每一部分先四舍五入到 6 位小数；为负（异常价格）时归零，不做退款
func (c *CostCalculator) Calculate(usage TokenUsage, pricing Pricing) CostResult {
	usage = usage.Normalize()

	inputCost := partCost(usage.InputTokens, pricing.InputPrice)
	outputCost := partCost(usage.OutputTokens, pricing.OutputPrice)

	result := CostResult{
		InputCost:  inputCost,
		OutputCost: outputCost,
		TotalCost:  inputCost.Add(outputCost),
	}

	log.Debugf("billing: calculated cost - input=%d, output=%d -> %s (in=%s, out=%s)",
		usage.InputTokens, usage.OutputTokens,
		result.TotalCost.StringFixed(CostScale), inputCost.StringFixed(CostScale), outputCost.StringFixed(CostScale))

	return result
}

func partCost(units int, price decimal.Decimal) decimal.Decimal {
	if units <= 0 {
		return decimal.Zero
	}
	cost := decimal.NewFromInt(int64(units)).Div(PerUnitScale).Mul(price).Round(CostScale)
	if cost.IsNegative() {
		return decimal.Zero
	}
	return cost
}
