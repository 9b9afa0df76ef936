// Package extractor turns a card's name and description into structured
// order fields and line items via an LLM collaborator (§4.C).
package extractor

import (
	"context"
	"errors"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// ErrExtractionFailed is returned when the extractor collaborator times out
// or returns an error. Treated as a terminal failure for the triggering
// notification — the dispatcher does not retry extraction automatically
// (§7, error taxonomy).
var ErrExtractionFailed = errors.New("extractor: extraction failed")

// Input is what the extractor is given: a card's display name and
// description, untruncated; LLMExtractor applies the configured
// input-length cap itself.
type Input struct {
	CardID      string
	Name        string
	Description string
}

// Result is the extractor's structured output.
type Result struct {
	Fields    models.CardFields
	LineItems []models.LineItem
}

// Extractor is a pure-function-with-failure collaborator: given a card, it
// produces enrichment fields and line items, or ErrExtractionFailed.
type Extractor interface {
	Extract(ctx context.Context, in Input) (*Result, error)
}

// applyPostProcessing assigns 1-based line_index and derives unit_price /
// total_revenue for every item, per §4.C's numerical post-processing rule.
// Shared by every Extractor implementation so the derivation logic lives in
// exactly one place.
func applyPostProcessing(cardID string, items []models.LineItem) []models.LineItem {
	out := make([]models.LineItem, len(items))
	for i, item := range items {
		item.CardID = cardID
		item.LineIndex = i + 1
		item.DerivePricing()
		out[i] = item
	}
	return out
}
