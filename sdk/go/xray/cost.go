package xray

import "math"

// Pricing per 1K tokens (prompt, completion), in USD.
var llmPricing = map[string][2]float64{
	"gpt-4":         {0.03, 0.06},
	"gpt-4-turbo":   {0.01, 0.03},
	"gpt-3.5-turbo": {0.0015, 0.002},
	"gpt-4o":        {0.005, 0.015},
}

// EstimateLLMCost estimates the USD cost of an LLM call from its token
// usage. Unknown or empty models use gpt-4 pricing. The result is rounded
// to 6 decimal places.
func EstimateLLMCost(usage TokenUsage) float64 {
	prices, ok := llmPricing[usage.Model]
	if !ok {
		prices = llmPricing["gpt-4"]
	}
	cost := float64(usage.PromptTokens)/1000.0*prices[0] +
		float64(usage.CompletionTokens)/1000.0*prices[1]
	return math.Round(cost*1e6) / 1e6
}
