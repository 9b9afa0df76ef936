// Package dispatcher implements the per-notification state machine: the
// idempotency check, classification, conditional fetch/extract, and the
// fixed-order store writes that follow (§4.F).
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/boardflow/pkg/classifier"
	"github.com/codeready-toolchain/boardflow/pkg/dispatcher/cardlock"
	"github.com/codeready-toolchain/boardflow/pkg/extractor"
	"github.com/codeready-toolchain/boardflow/pkg/models"
	"github.com/codeready-toolchain/boardflow/pkg/source"
	"github.com/codeready-toolchain/boardflow/pkg/store"
)

// Config tunes the dispatcher's worker pool and per-call deadlines.
type Config struct {
	WorkerConcurrency    int           // worker_concurrency, default 8
	SourceFetchTimeout   time.Duration // source_fetch_timeout_s, default 30s
	PodID                string        // observability tag recorded on events as ingested_by
}

func (c Config) withDefaults() Config {
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 8
	}
	if c.SourceFetchTimeout <= 0 {
		c.SourceFetchTimeout = 30 * time.Second
	}
	if c.PodID == "" {
		c.PodID = "dispatcher"
	}
	return c
}

// Dispatcher consumes notifications from a bounded channel and drives each
// one through the state machine, serialized per card_id by a cardlock
// registry (§4.F). It mirrors the teacher's fixed-size worker pool shape
// (pkg/queue.WorkerPool) but its hand-off mechanism is an in-memory channel
// rather than a polled database table.
type Dispatcher struct {
	cfg Config

	store      store.Adapter
	source     source.Client
	extractor  extractor.Extractor
	locks      *cardlock.Registry
	sem        chan struct{}

	input chan Notification

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// New builds a Dispatcher reading from input. input is owned by the caller
// (Event Intake) and is the bounded in-process hand-off channel from §4.E.
func New(cfg Config, st store.Adapter, src source.Client, ext extractor.Extractor, input chan Notification) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:       cfg,
		store:     st,
		source:    src,
		extractor: ext,
		locks:     cardlock.NewRegistry(),
		sem:       make(chan struct{}, cfg.WorkerConcurrency),
		input:     input,
		stopCh:    make(chan struct{}),
	}
}

// Run consumes notifications until ctx is cancelled or input is closed,
// draining in-flight work before returning (bounded worker pool semantics).
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case <-d.stopCh:
			d.wg.Wait()
			return
		case n, ok := <-d.input:
			if !ok {
				d.wg.Wait()
				return
			}
			d.dispatch(ctx, n)
		}
	}
}

// Stop signals Run to drain and return. Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *Dispatcher) dispatch(ctx context.Context, n Notification) {
	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() { <-d.sem }()

		unlock := d.locks.Lock(n.CardID)
		defer unlock()

		if err := d.process(ctx, n); err != nil {
			slog.Error("dispatcher: notification processing failed",
				"event_id", n.EventID, "card_id", n.CardID, "error", err)
		}
	}()
}

// process implements the state machine diagrammed in §4.F.
func (d *Dispatcher) process(ctx context.Context, n Notification) error {
	log := slog.With("event_id", n.EventID, "card_id", n.CardID)

	exists, err := d.store.EventExists(ctx, n.EventID)
	if err != nil {
		return fmt.Errorf("dispatcher: idempotency check: %w", err)
	}
	if exists {
		log.Debug("dispatcher: dropping duplicate event")
		return nil
	}

	ev := &models.NotificationEvent{
		EventID:          n.EventID,
		ActionKind:       n.ActionKind,
		ActionTime:       n.ActionTime,
		CardID:           n.CardID,
		BoardID:          n.BoardID,
		BoardName:        n.BoardName,
		ListBeforeID:     n.ListBeforeID,
		ListBeforeName:   n.ListBeforeName,
		ListAfterID:      n.ListAfterID,
		ListAfterName:    n.ListAfterName,
		IsListTransition: n.isListTransition(),
		ActorID:          n.ActorID,
		ActorName:        n.ActorName,
		RawPayload:       n.RawPayload,
		CreatedAt:        time.Now(),
		IngestedBy:       d.cfg.PodID,
	}
	if err := d.store.InsertEvent(ctx, ev); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
		return fmt.Errorf("dispatcher: insert event: %w", err)
	}

	prevDesc, hasMaster, err := d.store.LastKnownDescription(ctx, n.CardID)
	if err != nil {
		return fmt.Errorf("dispatcher: last known description: %w", err)
	}

	class := classifier.Classify(classifier.Input{
		ActionKind:           n.ActionKind,
		CardID:               n.CardID,
		HasMasterRow:         hasMaster,
		PreviousDescription:  prevDesc,
	})

	if class == classifier.ClassIrrelevant {
		return d.finalize(ctx, n.EventID, true, false, "")
	}

	fetchCtx, cancel := context.WithTimeout(ctx, d.cfg.SourceFetchTimeout)
	card, err := d.source.GetCard(fetchCtx, n.CardID)
	cancel()
	if err != nil {
		if errors.Is(err, source.ErrCardAbsent) {
			return d.finalize(ctx, n.EventID, false, false, "card_absent")
		}
		return d.finalize(ctx, n.EventID, false, false, err.Error())
	}

	// Re-derive classification against the fetched description: the
	// notification's own payload carries stale metadata for list moves but
	// the description comparison must use the authoritative fetched value.
	class = classifier.Classify(classifier.Input{
		ActionKind:          n.ActionKind,
		CardID:              n.CardID,
		HasMasterRow:        hasMaster,
		PreviousDescription: prevDesc,
		NewDescription:      card.Description,
	})

	extracted, err := d.applyWrites(ctx, n, card, class)
	if err != nil {
		if errors.Is(err, store.ErrDeferred) {
			// A dependent write was queued for retry. The event stays
			// processed=false; it is the retry worker's job to finalize it
			// once every pending operation for this event_id completes
			// (§4.F, §8 Scenario 5) — see retry.Worker.maybeFinalize.
			log.Info("dispatcher: deferred write queued for retry", "error", err)
			return nil
		}
		return d.finalize(ctx, n.EventID, false, extracted, err.Error())
	}
	return d.finalize(ctx, n.EventID, true, extracted, "")
}

// applyWrites executes the fixed write order for class: master inserts,
// then current-state replace, per §4.F. Returns whether extraction fired.
func (d *Dispatcher) applyWrites(ctx context.Context, n Notification, card *source.Card, class classifier.Class) (bool, error) {
	now := time.Now()

	switch class {
	case classifier.ClassNew:
		result, err := d.extractor.Extract(ctx, extractor.Input{CardID: n.CardID, Name: card.Name, Description: card.Description})
		if err != nil {
			return false, fmt.Errorf("%w", err)
		}

		master := &models.CardMaster{
			CardID: card.ID, Name: card.Name, Description: card.Description,
			Labels: card.Labels, Closed: card.Closed,
			BoardID: card.BoardID, BoardName: card.BoardName,
			ListID: card.ListID, ListName: card.ListName,
			CardFields:             result.Fields,
			CreatedAt:              parseCardCreatedAt(card.CreatedAt),
			LineItemCount:          len(result.LineItems),
			FirstExtractedAt:       &now,
			FirstExtractionEventID: n.EventID,
		}
		// insert_card_master_if_absent and insert_line_items_master are plain
		// appends — §4.A documents deferred rejection only for
		// upsert_card_current, replace_line_items_current, and
		// finalize_event, so failures here are treated as permanent.
		if err := d.store.InsertCardMasterIfAbsent(ctx, master); err != nil {
			return true, fmt.Errorf("dispatcher: insert card_master: %w", err)
		}
		if err := d.store.InsertLineItemsMaster(ctx, card.ID, result.LineItems); err != nil {
			return true, fmt.Errorf("dispatcher: insert line_items_master: %w", err)
		}

		current := cardCurrentFrom(card, result.Fields, len(result.LineItems), now, &now, n.EventID, string(n.ActionKind))
		return true, d.applyCardCurrentWrites(ctx, n.EventID, current, card.ID, result.LineItems)

	case classifier.ClassDescChanged:
		result, err := d.extractor.Extract(ctx, extractor.Input{CardID: n.CardID, Name: card.Name, Description: card.Description})
		if err != nil {
			return false, fmt.Errorf("%w", err)
		}

		current := cardCurrentFrom(card, result.Fields, len(result.LineItems), now, &now, n.EventID, string(n.ActionKind))
		return true, d.applyCardCurrentWrites(ctx, n.EventID, current, card.ID, result.LineItems)

	case classifier.ClassMetadataOnly:
		current, err := d.mergedMetadataOnlyRow(ctx, card, now, string(n.ActionKind))
		if err != nil {
			return false, fmt.Errorf("dispatcher: load prior card_current for metadata_only: %w", err)
		}
		if err := d.store.UpsertCardCurrent(ctx, current); err != nil {
			return false, d.deferOrFail(ctx, models.OpUpsertCard, "card_current",
				models.UpsertCardPayload{EventID: n.EventID, Card: *current, ExtractionTriggered: false}, err)
		}
		return false, nil
	}

	return false, fmt.Errorf("dispatcher: unhandled classification %q", class)
}

// mergedMetadataOnlyRow builds the card_current row for a metadata_only
// notification: metadata columns (name, closed, board/list identity) come
// from the freshly fetched card, but enrichment fields and
// last_extracted_at/last_extraction_event_id are carried over unchanged
// from the existing row — a metadata_only classification never re-runs
// extraction and must never clear what a prior extraction produced (§4.D,
// §8 invariant 5).
func (d *Dispatcher) mergedMetadataOnlyRow(ctx context.Context, card *source.Card, now time.Time, eventType string) (*models.CardCurrent, error) {
	existing, found, err := d.store.GetCardCurrent(ctx, card.ID)
	if err != nil {
		return nil, err
	}

	current := cardCurrentFrom(card, models.CardFields{}, 0, now, nil, "", eventType)
	if found {
		current.CardFields = existing.CardFields
		current.LineItemCount = existing.LineItemCount
		current.LastExtractedAt = existing.LastExtractedAt
		current.LastExtractionEventID = existing.LastExtractionEventID
	}
	return current, nil
}

func cardCurrentFrom(card *source.Card, fields models.CardFields, lineItemCount int, updatedAt time.Time, extractedAt *time.Time, extractionEventID, eventType string) *models.CardCurrent {
	return &models.CardCurrent{
		CardID: card.ID, Name: card.Name, Description: card.Description,
		Labels: card.Labels, Closed: card.Closed,
		BoardID: card.BoardID, BoardName: card.BoardName,
		ListID: card.ListID, ListName: card.ListName,
		CardFields:            fields,
		CreatedAt:             parseCardCreatedAt(card.CreatedAt),
		LineItemCount:         lineItemCount,
		LastUpdatedAt:         updatedAt,
		LastExtractedAt:       extractedAt,
		LastExtractionEventID: extractionEventID,
		LastEventType:         eventType,
	}
}

// parseCardCreatedAt parses the source platform's RFC3339 card-creation
// timestamp. A malformed or empty value (e.g. a fake Client in tests that
// leaves it unset) degrades to the zero time rather than failing the write —
// this field is informational, not part of any correctness invariant.
func parseCardCreatedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// applyCardCurrentWrites performs the two writes that follow a card_current
// update for classes that trigger extraction — upsert_card_current, then
// replace_line_items_current — unconditionally attempting both regardless of
// whether the first one deferred. A deferred upsert must never suppress the
// line-items replace (or vice versa): both are dependent writes for the same
// event. Only a write that deferred is enqueued for retry, and the event is
// not finalized until every enqueued write has completed (§3/§8 invariant 3).
func (d *Dispatcher) applyCardCurrentWrites(ctx context.Context, eventID string, current *models.CardCurrent, cardID string, lineItems []models.LineItem) error {
	upsertErr := d.store.UpsertCardCurrent(ctx, current)
	if upsertErr != nil && !errors.Is(upsertErr, store.ErrDeferred) {
		return fmt.Errorf("dispatcher: card_current: %w", upsertErr)
	}

	replaceErr := d.store.ReplaceLineItemsCurrent(ctx, cardID, lineItems)
	if replaceErr != nil && !errors.Is(replaceErr, store.ErrDeferred) {
		return fmt.Errorf("dispatcher: line_items_current: %w", replaceErr)
	}

	var deferred error
	if upsertErr != nil {
		if err := d.enqueuePending(ctx, models.OpUpsertCard, "card_current",
			models.UpsertCardPayload{EventID: eventID, Card: *current, ExtractionTriggered: true}); err != nil {
			return err
		}
		deferred = upsertErr
	}
	if replaceErr != nil {
		if err := d.enqueuePending(ctx, models.OpReplaceLineItems, "line_items_current",
			models.ReplaceLineItemsPayload{EventID: eventID, CardID: cardID, LineItems: lineItems}); err != nil {
			return err
		}
		deferred = replaceErr
	}
	return deferred
}

// enqueuePending captures one deferred store operation as a retry-queue row,
// due immediately.
func (d *Dispatcher) enqueuePending(ctx context.Context, op models.OperationKind, targetTable string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal pending payload: %w", err)
	}

	update := &models.PendingUpdate{
		UpdateID:      uuid.NewString(),
		OperationKind: op,
		TargetTable:   targetTable,
		Payload:       raw,
		FirstQueuedAt: time.Now(),
		NextRetryAt:   time.Now(),
		Status:        models.PendingStatusPending,
		CreatedAt:     time.Now(),
	}
	if err := d.store.EnqueuePending(ctx, update); err != nil {
		return fmt.Errorf("dispatcher: enqueue pending on %s: %w", targetTable, err)
	}
	return nil
}

// deferOrFail inspects cause: if it is store.ErrDeferred, the operation is
// captured as a pending-update row and the (still-deferred) error is
// returned so callers can recognize "already handled, leave unfinalized".
// Any other cause is a permanent failure and is returned unchanged (§4.F).
func (d *Dispatcher) deferOrFail(ctx context.Context, op models.OperationKind, targetTable string, payload any, cause error) error {
	if !errors.Is(cause, store.ErrDeferred) {
		return fmt.Errorf("dispatcher: %s: %w", targetTable, cause)
	}
	if err := d.enqueuePending(ctx, op, targetTable, payload); err != nil {
		return err
	}
	return cause
}

func (d *Dispatcher) finalize(ctx context.Context, eventID string, success, extractionTriggered bool, errMsg string) error {
	if err := d.store.FinalizeEvent(ctx, eventID, extractionTriggered, errMsg); err != nil {
		if errors.Is(err, store.ErrDeferred) {
			// finalize_event itself hit the streaming buffer — leave the
			// event processed=false; the retry worker's pending-update scan
			// will re-attempt finalization once the buffer clears.
			raw, _ := json.Marshal(models.FinalizeEventPayload{
				EventID: eventID, Success: success, ExtractionTriggered: extractionTriggered, ErrorMessage: errMsg,
			})
			update := &models.PendingUpdate{
				UpdateID: uuid.NewString(), OperationKind: models.OpFinalizeEvent, TargetTable: "notification_events",
				Payload: raw, FirstQueuedAt: time.Now(), NextRetryAt: time.Now(),
				Status: models.PendingStatusPending, CreatedAt: time.Now(),
			}
			return d.store.EnqueuePending(ctx, update)
		}
		return fmt.Errorf("dispatcher: finalize event %s: %w", eventID, err)
	}
	return nil
}
