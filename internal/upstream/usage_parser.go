package upstream

import (
	"aigateway/internal/billing"

	"github.com/tidwall/gjson"
)

// ParseUsage 从非流式响应体提取用量；兼容 OpenAI 与 Anthropic 两种字段名
// 缺少 usage 对象时返回全零且 ok 为 false
func ParseUsage(body []byte) (billing.TokenUsage, bool) {
	usage := gjson.GetBytes(body, "usage")
	if !usage.Exists() || !usage.IsObject() {
		return billing.TokenUsage{}, false
	}

	u := billing.TokenUsage{
		InputTokens:  int(firstInt(usage, "prompt_tokens", "input_tokens")),
		OutputTokens: int(firstInt(usage, "completion_tokens", "output_tokens")),
		TotalTokens:  int(usage.Get("total_tokens").Int()),
	}
	return u.Normalize(), true
}

func firstInt(obj gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := obj.Get(p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}
