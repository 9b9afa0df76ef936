package extractor

import (
	"context"
	"sync"
)

// Fake is a scriptable Extractor used by other packages' tests (dispatcher,
// integration) to exercise control flow without a real LLM endpoint.
// Scripted line items go through the same post-processing as LLMExtractor's.
type Fake struct {
	mu      sync.Mutex
	Results map[string]*Result // keyed by CardID
	Errs    map[string]error
	Calls   []Input
}

func NewFake() *Fake {
	return &Fake{
		Results: make(map[string]*Result),
		Errs:    make(map[string]error),
	}
}

func (f *Fake) Extract(_ context.Context, in Input) (*Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, in)

	if err, ok := f.Errs[in.CardID]; ok {
		return nil, err
	}
	if res, ok := f.Results[in.CardID]; ok {
		return &Result{Fields: res.Fields, LineItems: applyPostProcessing(in.CardID, res.LineItems)}, nil
	}
	return &Result{}, nil
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

var _ Extractor = (*Fake)(nil)
