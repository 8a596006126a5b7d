package billing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCostCalculator_Calculate(t *testing.T) {
	calc := NewCostCalculator()

	tests := []struct {
		name       string
		usage      TokenUsage
		pricing    Pricing
		wantInput  string
		wantOutput string
		wantTotal  string
	}{
		{
			name:       "10 in / 20 out at 10 and 30 per million",
			usage:      TokenUsage{InputTokens: 10, OutputTokens: 20},
			pricing:    Pricing{InputPrice: d("10"), OutputPrice: d("30")},
			wantInput:  "0.0001",
			wantOutput: "0.0006",
			wantTotal:  "0.0007",
		},
		{
			name:       "10 in / 20 out at 10000 and 30000 per million",
			usage:      TokenUsage{InputTokens: 10, OutputTokens: 20},
			pricing:    Pricing{InputPrice: d("10000"), OutputPrice: d("30000")},
			wantInput:  "0.1",
			wantOutput: "0.6",
			wantTotal:  "0.7",
		},
		{
			name:       "zero usage",
			usage:      TokenUsage{},
			pricing:    Pricing{InputPrice: d("2.5"), OutputPrice: d("10")},
			wantInput:  "0",
			wantOutput: "0",
			wantTotal:  "0",
		},
		{
			name:       "negative tokens clamp to zero",
			usage:      TokenUsage{InputTokens: -5, OutputTokens: 1000},
			pricing:    Pricing{InputPrice: d("2.5"), OutputPrice: d("10")},
			wantInput:  "0",
			wantOutput: "0.01",
			wantTotal:  "0.01",
		},
		{
			name:       "negative price never refunds",
			usage:      TokenUsage{InputTokens: 1000, OutputTokens: 1000},
			pricing:    Pricing{InputPrice: d("-3"), OutputPrice: d("1")},
			wantInput:  "0",
			wantOutput: "0.001",
			wantTotal:  "0.001",
		},
		{
			name:       "rounds to six places",
			usage:      TokenUsage{InputTokens: 1, OutputTokens: 1},
			pricing:    Pricing{InputPrice: d("0.15"), OutputPrice: d("0.6")},
			wantInput:  "0",
			wantOutput: "0.000001",
			wantTotal:  "0.000001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.Calculate(tt.usage, tt.pricing)
			assert.True(t, got.InputCost.Equal(d(tt.wantInput)), "input cost = %s", got.InputCost)
			assert.True(t, got.OutputCost.Equal(d(tt.wantOutput)), "output cost = %s", got.OutputCost)
			assert.True(t, got.TotalCost.Equal(d(tt.wantTotal)), "total cost = %s", got.TotalCost)
		})
	}
}

func TestCostCalculator_NoFloatDrift(t *testing.T) {
	calc := NewCostCalculator()
	pricing := Pricing{InputPrice: d("0.1"), OutputPrice: d("0.2")}

	sum := decimal.Zero
	for i := 0; i < 100000; i++ {
		sum = sum.Add(calc.Calculate(TokenUsage{InputTokens: 10, OutputTokens: 5}, pricing).TotalCost)
	}
	// 每次 0.000002，累加 10 万次恰好 0.2
	assert.True(t, sum.Equal(d("0.2")), "sum = %s", sum)
}

func TestTokenUsage_Normalize(t *testing.T) {
	u := TokenUsage{InputTokens: 3, OutputTokens: 4}.Normalize()
	assert.Equal(t, 7, u.TotalTokens)

	u = TokenUsage{InputTokens: 3, OutputTokens: 4, TotalTokens: 9}.Normalize()
	assert.Equal(t, 9, u.TotalTokens)
}

func TestCostResult_CostMicros(t *testing.T) {
	r := CostResult{TotalCost: d("0.0007")}
	assert.Equal(t, int64(700), r.CostMicros())
}
