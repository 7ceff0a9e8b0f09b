// Package cost computes per-request billing figures from token counts and
// catalog prices. The per-token arithmetic follows the same shape as a
// flat-rate cost calculator, generalized to the gateway's per-1M-token
// tiered pricing and cached-token subtraction.
package cost

import "github.com/dban0001/llmgateway/catalog"

// Result is the breakdown returned for one request's billing.
type Result struct {
	InputCost       float64
	OutputCost      float64
	CachedInputCost float64
	RequestCost     float64
	TotalCost       float64
	EstimatedCost   bool
}

// Calculator resolves prices from a Catalog and computes Result.
type Calculator struct {
	cat *catalog.Catalog
}

// New builds a Calculator backed by cat.
func New(cat *catalog.Catalog) *Calculator {
	return &Calculator{cat: cat}
}

// Calculate computes the cost breakdown for one request. promptTokens,
// completionTokens, and cachedTokens are as reported (or imputed) by the
// tokenizer adapter; estimated is true iff any of those counts came from
// imputation rather than upstream-reported usage.
func (c *Calculator) Calculate(modelID, providerID string, promptTokens, completionTokens, cachedTokens int, estimated bool) (Result, bool) {
	price, ok := c.cat.PriceFor(modelID, providerID, promptTokens)
	if !ok {
		return Result{}, false
	}

	// Cached tokens are billed at CachedInputPrice and subtracted from the
	// prompt tokens billed at the full InputPrice.
	billablePrompt := promptTokens - cachedTokens
	if billablePrompt < 0 {
		billablePrompt = 0
	}

	inputCost := perMillion(billablePrompt, price.InputPrice)
	cachedCost := perMillion(cachedTokens, price.CachedInputPrice)
	outputCost := perMillion(completionTokens, price.OutputPrice)
	requestCost := price.RequestPrice

	return Result{
		InputCost:       inputCost,
		OutputCost:      outputCost,
		CachedInputCost: cachedCost,
		RequestCost:     requestCost,
		TotalCost:       inputCost + cachedCost + outputCost + requestCost,
		EstimatedCost:   estimated,
	}, true
}

func perMillion(tokens int, pricePerMillion float64) float64 {
	return float64(tokens) / 1_000_000 * pricePerMillion
}
