package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// MemoryAdapter is an in-process Adapter used by package tests elsewhere in
// this module (dispatcher, retry, integration) so they can exercise real
// control-flow against the store interface without a BigQuery project.
// It is not used by production code.
type MemoryAdapter struct {
	mu sync.Mutex

	events          map[string]*models.NotificationEvent
	cardMaster      map[string]*models.CardMaster
	cardCurrent     map[string]*models.CardCurrent
	lineItemsMaster map[string][]models.LineItem
	lineItemsCurr   map[string][]models.LineItem
	pending         map[string]*models.PendingUpdate

	// DeferNextUpsert/DeferNextReplace let tests simulate a single
	// streaming-buffer rejection on the next call.
	DeferNextUpsert  bool
	DeferNextReplace bool
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		events:          make(map[string]*models.NotificationEvent),
		cardMaster:      make(map[string]*models.CardMaster),
		cardCurrent:     make(map[string]*models.CardCurrent),
		lineItemsMaster: make(map[string][]models.LineItem),
		lineItemsCurr:   make(map[string][]models.LineItem),
		pending:         make(map[string]*models.PendingUpdate),
	}
}

func (m *MemoryAdapter) InsertEvent(_ context.Context, ev *models.NotificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[ev.EventID]; ok {
		return ErrDuplicateKey
	}
	cp := *ev
	m.events[ev.EventID] = &cp
	return nil
}

func (m *MemoryAdapter) EventExists(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *MemoryAdapter) LastKnownDescription(_ context.Context, cardID string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cardCurrent[cardID]; ok {
		return c.Description, true, nil
	}
	if c, ok := m.cardMaster[cardID]; ok {
		return c.Description, true, nil
	}
	return "", false, nil
}

func (m *MemoryAdapter) GetCardCurrent(_ context.Context, cardID string) (*models.CardCurrent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cardCurrent[cardID]
	if !ok {
		return nil, false, nil
	}
	cp := *c
	return &cp, true, nil
}

func (m *MemoryAdapter) InsertCardMasterIfAbsent(_ context.Context, card *models.CardMaster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cardMaster[card.CardID]; ok {
		return nil
	}
	cp := *card
	m.cardMaster[card.CardID] = &cp
	return nil
}

func (m *MemoryAdapter) UpsertCardCurrent(_ context.Context, card *models.CardCurrent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeferNextUpsert {
		m.DeferNextUpsert = false
		return NewDeferredError("upsert_card_current", nil)
	}
	cp := *card
	m.cardCurrent[card.CardID] = &cp
	return nil
}

func (m *MemoryAdapter) ReplaceLineItemsCurrent(_ context.Context, cardID string, items []models.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeferNextReplace {
		m.DeferNextReplace = false
		return NewDeferredError("replace_line_items_current", nil)
	}
	cp := make([]models.LineItem, len(items))
	copy(cp, items)
	m.lineItemsCurr[cardID] = cp
	return nil
}

func (m *MemoryAdapter) InsertLineItemsMaster(_ context.Context, cardID string, items []models.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lineItemsMaster[cardID]; ok {
		return nil
	}
	cp := make([]models.LineItem, len(items))
	copy(cp, items)
	m.lineItemsMaster[cardID] = cp
	return nil
}

func (m *MemoryAdapter) FinalizeEvent(_ context.Context, eventID string, extractionTriggered bool, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	ev.Processed = true
	ev.ProcessedAt = &now
	ev.ExtractionTriggered = extractionTriggered
	ev.ErrorMessage = errMsg
	return nil
}

func (m *MemoryAdapter) EnqueuePending(_ context.Context, update *models.PendingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *update
	if cp.UpdateID == "" {
		cp.UpdateID = uuid.NewString()
	}
	m.pending[cp.UpdateID] = &cp
	return nil
}

func (m *MemoryAdapter) ClaimPending(_ context.Context, limit int, claimedBy string, now time.Time) ([]models.PendingUpdate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var candidates []*models.PendingUpdate
	for _, p := range m.pending {
		if p.Status == models.PendingStatusPending && !p.NextRetryAt.After(now) {
			candidates = append(candidates, p)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].NextRetryAt.Before(candidates[j].NextRetryAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	claimed := make([]models.PendingUpdate, 0, len(candidates))
	for _, p := range candidates {
		p.Status = models.PendingStatusProcessing
		p.ClaimedBy = claimedBy
		p.LastRetryAt = &now
		claimed = append(claimed, *p)
	}
	return claimed, nil
}

func (m *MemoryAdapter) CompletePending(_ context.Context, updateID string, success bool, errMsg string, nextRetryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[updateID]
	if !ok {
		return ErrNotFound
	}
	if success {
		now := time.Now()
		p.Status = models.PendingStatusCompleted
		p.CompletedAt = &now
		p.ErrorMessage = errMsg
		return nil
	}
	p.Status = models.PendingStatusPending
	p.RetryCount++
	p.NextRetryAt = nextRetryAt
	p.ErrorMessage = errMsg
	return nil
}

func (m *MemoryAdapter) FailPending(_ context.Context, updateID string, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[updateID]
	if !ok {
		return ErrNotFound
	}
	p.Status = models.PendingStatusFailed
	p.ErrorMessage = errMsg
	return nil
}

// eventIDPayload is the shape shared by every PendingUpdate payload variant
// (UpsertCardPayload, ReplaceLineItemsPayload, FinalizeEventPayload) — only
// the field OutstandingPendingForEvent needs.
type eventIDPayload struct {
	EventID string `json:"event_id"`
}

// OutstandingPendingForEvent reports whether any pending row carrying
// event_id is still unresolved (pending or processing).
func (m *MemoryAdapter) OutstandingPendingForEvent(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pending {
		if p.Status != models.PendingStatusPending && p.Status != models.PendingStatusProcessing {
			continue
		}
		var payload eventIDPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			continue
		}
		if payload.EventID == eventID {
			return true, nil
		}
	}
	return false, nil
}

// GetEvent is a test-only accessor exposing the recorded event for
// assertions outside the Adapter interface (dispatcher/retry tests).
func (m *MemoryAdapter) GetEvent(eventID string) (models.NotificationEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[eventID]
	if !ok {
		return models.NotificationEvent{}, false
	}
	return *ev, true
}

// ListPending is a test-only accessor returning a snapshot of every
// pending-update row, regardless of status.
func (m *MemoryAdapter) ListPending() []models.PendingUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.PendingUpdate, 0, len(m.pending))
	for _, p := range m.pending {
		out = append(out, *p)
	}
	return out
}

// GetLineItemsCurrent is a test-only accessor returning the current
// line-items snapshot for cardID.
func (m *MemoryAdapter) GetLineItemsCurrent(cardID string) []models.LineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.lineItemsCurr[cardID]
	out := make([]models.LineItem, len(items))
	copy(out, items)
	return out
}

func (m *MemoryAdapter) Close() error { return nil }

var _ Adapter = (*MemoryAdapter)(nil)
