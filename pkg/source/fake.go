package source

import (
	"context"
	"sync"
)

// Fake is a scriptable Client used by other packages' tests (dispatcher) to
// exercise control flow without a real source-platform connection.
type Fake struct {
	mu    sync.Mutex
	Cards map[string]*Card
	Calls []string
}

func NewFake() *Fake {
	return &Fake{Cards: make(map[string]*Card)}
}

func (f *Fake) GetCard(_ context.Context, cardID string) (*Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, cardID)

	card, ok := f.Cards[cardID]
	if !ok {
		return nil, ErrCardAbsent
	}
	cp := *card
	return &cp, nil
}

func (f *Fake) RegisterWebhook(_ context.Context, modelID, callbackURL string) (string, error) {
	return "fake-webhook-id", nil
}

func (f *Fake) ListWebhooks(_ context.Context) ([]Webhook, error) {
	return nil, nil
}

func (f *Fake) DeleteWebhook(_ context.Context, webhookID string) error {
	return nil
}

func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

var _ Client = (*Fake)(nil)
