package upstream

import (
	"encoding/json"
	"strings"

	"aigateway/internal/model"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// CatalogModel 上游模型目录中的一项，已归一化为网关字段
type CatalogModel struct {
	Name             string
	DisplayName      string
	ExternalID       string
	ModelType        string
	ContextLength    int
	MaxOutputTokens  int
	InputPrice       decimal.Decimal
	OutputPrice      decimal.Decimal
	CapabilitiesJSON string
}

// Normalizer 将某种上游格式的目录项转为 CatalogModel
type Normalizer interface {
	Normalize(item gjson.Result) (CatalogModel, bool)
	// ProvidesPricing 目录是否携带价格；否则同步时保留已配置的价格
	ProvidesPricing() bool
}

// NormalizerFor 按提供商格式选择解析器；新增格式只需新增实现
func NormalizerFor(format model.ProviderFormat) Normalizer {
	switch format {
	case model.ProviderFormatOpenAI:
		return openAINormalizer{}
	case model.ProviderFormatAnthropic:
		return anthropicNormalizer{}
	default:
		return genericNormalizer{}
	}
}

// ModelListItems 兼容 {data:[...]}、裸数组与单个对象三种返回
func ModelListItems(body []byte) []gjson.Result {
	root := gjson.ParseBytes(body)
	if data := root.Get("data"); data.IsArray() {
		return data.Array()
	}
	if root.IsArray() {
		return root.Array()
	}
	if root.IsObject() {
		return []gjson.Result{root}
	}
	return nil
}

type openAINormalizer struct{}

func (openAINormalizer) ProvidesPricing() bool { return false }

func (openAINormalizer) Normalize(item gjson.Result) (CatalogModel, bool) {
	id := item.Get("id").String()
	if id == "" {
		return CatalogModel{}, false
	}
	modelType := "text"
	if strings.Contains(strings.ToLower(id), "gpt") {
		modelType = "chat"
	}
	return CatalogModel{
		Name:        id,
		DisplayName: id,
		ExternalID:  id,
		ModelType:   modelType,
		CapabilitiesJSON: capabilities(map[string]any{
			"created":  item.Get("created").Int(),
			"owned_by": item.Get("owned_by").String(),
		}),
	}, true
}

type anthropicNormalizer struct{}

func (anthropicNormalizer) ProvidesPricing() bool { return false }

func (anthropicNormalizer) Normalize(item gjson.Result) (CatalogModel, bool) {
	id := item.Get("id").String()
	if id == "" {
		return CatalogModel{}, false
	}
	display := item.Get("display_name").String()
	if display == "" {
		display = id
	}
	return CatalogModel{
		Name:             id,
		DisplayName:      display,
		ExternalID:       id,
		ModelType:        "chat",
		CapabilitiesJSON: capabilities(map[string]any{"created_at": item.Get("created_at").String()}),
	}, true
}

// genericNormalizer 聚合平台格式：pricing.prompt / pricing.completion 为每单位价格
type genericNormalizer struct{}

func (genericNormalizer) ProvidesPricing() bool { return true }

func (genericNormalizer) Normalize(item gjson.Result) (CatalogModel, bool) {
	id := item.Get("id").String()
	name := id
	if name == "" {
		name = item.Get("name").String()
	}
	if name == "" {
		return CatalogModel{}, false
	}

	display := item.Get("display_name").String()
	if display == "" {
		display = item.Get("name").String()
	}
	if display == "" {
		display = name
	}

	contextLength := int(item.Get("context_length").Int())
	if contextLength <= 0 {
		contextLength = 4096
	}

	caps := map[string]any{}
	if desc := item.Get("description").String(); desc != "" {
		caps["description"] = desc
	}
	if mods := item.Get("architecture.input_modalities"); mods.IsArray() {
		caps["input_modalities"] = mods.Value()
	}

	return CatalogModel{
		Name:             name,
		DisplayName:      display,
		ExternalID:       id,
		ModelType:        "chat",
		ContextLength:    contextLength,
		MaxOutputTokens:  int(item.Get("top_provider.max_completion_tokens").Int()),
		InputPrice:       perMillion(item.Get("pricing.prompt")),
		OutputPrice:      perMillion(item.Get("pricing.completion")),
		CapabilitiesJSON: capabilities(caps),
	}, true
}

// perMillion 每单位价格换算为每 1M 单位价格；无法解析或为负时为 0
func perMillion(v gjson.Result) decimal.Decimal {
	if !v.Exists() {
		return decimal.Zero
	}
	price, err := decimal.NewFromString(strings.TrimSpace(v.String()))
	if err != nil || price.IsNegative() {
		return decimal.Zero
	}
	return price.Shift(6)
}

func capabilities(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
