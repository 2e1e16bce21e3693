package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	// Gemini standard text pricing.
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
}

// ResolvePricing returns hardcoded pricing for a model, zero when unknown.
func ResolvePricing(model string) Pricing {
	return defaultPricing[model]
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// TokenCount returns the total tokens reported on a model message. Providers
// that only report prompt/completion counts are summed.
func TokenCount(msg *schema.Message) int {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return 0
	}
	u := msg.ResponseMeta.Usage
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// Tally accumulates token and cost usage across model calls of one turn.
type Tally struct {
	Tokens  int
	CostUSD float64
}

// Add records one model response priced for modelName.
func (t *Tally) Add(modelName string, msg *schema.Message) {
	t.Tokens += TokenCount(msg)
	if msg != nil && msg.ResponseMeta != nil {
		_, _, total := ComputeCost(msg.ResponseMeta.Usage, ResolvePricing(modelName))
		t.CostUSD += total
	}
}

// Merge adds other into t.
func (t *Tally) Merge(other Tally) {
	t.Tokens += other.Tokens
	t.CostUSD += other.CostUSD
}
