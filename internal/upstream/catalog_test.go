package upstream

import (
	"testing"

	"aigateway/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestModelListItems(t *testing.T) {
	assert.Len(t, ModelListItems([]byte(`{"data":[{"id":"a"},{"id":"b"}]}`)), 2)
	assert.Len(t, ModelListItems([]byte(`[{"id":"a"}]`)), 1)
	assert.Len(t, ModelListItems([]byte(`{"id":"solo"}`)), 1)
	assert.Empty(t, ModelListItems([]byte(`"nope"`)))
}

func TestOpenAINormalizer(t *testing.T) {
	n := NormalizerFor(model.ProviderFormatOpenAI)
	assert.False(t, n.ProvidesPricing())

	m, ok := n.Normalize(gjson.Parse(`{"id":"gpt-4o","created":1715367049,"owned_by":"system"}`))
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", m.Name)
	assert.Equal(t, "gpt-4o", m.ExternalID)
	assert.Equal(t, "chat", m.ModelType)
	assert.Contains(t, m.CapabilitiesJSON, `"owned_by":"system"`)

	m, ok = n.Normalize(gjson.Parse(`{"id":"text-embedding-3-small"}`))
	require.True(t, ok)
	assert.Equal(t, "text", m.ModelType)

	_, ok = n.Normalize(gjson.Parse(`{"object":"model"}`))
	assert.False(t, ok)
}

func TestAnthropicNormalizer(t *testing.T) {
	m, ok := NormalizerFor(model.ProviderFormatAnthropic).Normalize(
		gjson.Parse(`{"id":"claude-3-5-sonnet-20241022","display_name":"Claude 3.5 Sonnet","type":"model"}`))
	require.True(t, ok)
	assert.Equal(t, "claude-3-5-sonnet-20241022", m.Name)
	assert.Equal(t, "Claude 3.5 Sonnet", m.DisplayName)
}

func TestGenericNormalizer(t *testing.T) {
	n := NormalizerFor(model.ProviderFormatGeneric)
	assert.True(t, n.ProvidesPricing())

	m, ok := n.Normalize(gjson.Parse(`{
		"id":"openai/gpt-4o",
		"name":"OpenAI: GPT-4o",
		"context_length":128000,
		"pricing":{"prompt":"0.0000025","completion":"0.00001"},
		"top_provider":{"max_completion_tokens":16384}
	}`))
	require.True(t, ok)
	assert.Equal(t, "openai/gpt-4o", m.Name)
	assert.Equal(t, "OpenAI: GPT-4o", m.DisplayName)
	assert.Equal(t, 128000, m.ContextLength)
	assert.Equal(t, 16384, m.MaxOutputTokens)
	assert.True(t, m.InputPrice.Equal(decimal.RequireFromString("2.5")), "input = %s", m.InputPrice)
	assert.True(t, m.OutputPrice.Equal(decimal.NewFromInt(10)), "output = %s", m.OutputPrice)

	m, ok = n.Normalize(gjson.Parse(`{"id":"x","pricing":{"prompt":"-1","completion":"free"}}`))
	require.True(t, ok)
	assert.True(t, m.InputPrice.IsZero())
	assert.True(t, m.OutputPrice.IsZero())
	assert.Equal(t, 4096, m.ContextLength)
}
