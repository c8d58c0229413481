package proxy

import (
	"github.com/tidwall/gjson"
)

// Usage is the token accounting reported by an upstream.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// IsZero reports whether no tokens were recorded.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// ExtractUsage reads token counts from an OpenAI or Anthropic response payload.
// ok is false when the payload matches neither shape.
func ExtractUsage(payload []byte) (Usage, bool) {
	if !gjson.ValidBytes(payload) {
		return Usage{}, false
	}
	return usageFromResult(gjson.ParseBytes(payload))
}

func usageFromResult(root gjson.Result) (Usage, bool) {
	usage := root.Get("usage")
	if !usage.IsObject() {
		return Usage{}, false
	}

	if root.Get("type").String() == "message" {
		in := usage.Get("input_tokens").Int()
		out := usage.Get("output_tokens").Int()
		return Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}, true
	}

	prompt := usage.Get("prompt_tokens")
	completion := usage.Get("completion_tokens")
	if !prompt.Exists() && !completion.Exists() {
		return Usage{}, false
	}
	u := Usage{PromptTokens: prompt.Int(), CompletionTokens: completion.Int()}
	if total := usage.Get("total_tokens"); total.Exists() {
		u.TotalTokens = total.Int()
	} else {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u, true
}

// ExtractModel returns the top-level "model" field of a JSON payload.
func ExtractModel(payload []byte) string {
	if !gjson.ValidBytes(payload) {
		return ""
	}
	return gjson.GetBytes(payload, "model").String()
}
