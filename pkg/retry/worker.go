// Package retry implements the Retry Worker (§4.G): a ticking background
// loop that claims due pending-update rows, re-attempts their deferred
// store write, and finalizes the originating event once every pending
// operation it spawned has completed.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/codeready-toolchain/boardflow/pkg/models"
	"github.com/codeready-toolchain/boardflow/pkg/store"
)

// Config tunes the retry worker's tick cadence and backoff.
type Config struct {
	Tick        time.Duration // retry_tick_s, default 30s
	Base        time.Duration // retry_base_s, default 60s
	MaxAttempts int           // retry_max_attempts, default 10
	ClaimLimit  int           // max rows claimed per tick, default 50
	WorkerID    string        // recorded as claimed_by
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 30 * time.Second
	}
	if c.Base <= 0 {
		c.Base = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.ClaimLimit <= 0 {
		c.ClaimLimit = 50
	}
	if c.WorkerID == "" {
		c.WorkerID = "retry-worker"
	}
	return c
}

const backoffCap = time.Hour

// Worker periodically claims and re-attempts deferred store operations,
// modeled on the teacher's pkg/cleanup.Service ticker shape (context-cancelable
// background goroutine, done channel for graceful stop).
type Worker struct {
	cfg   Config
	store store.Adapter

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Worker against st.
func New(cfg Config, st store.Adapter) *Worker {
	return &Worker{cfg: cfg.withDefaults(), store: st}
}

// Start launches the background retry loop.
func (w *Worker) Start(ctx context.Context) {
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.run(ctx)

	slog.Info("retry worker started", "tick", w.cfg.Tick, "base", w.cfg.Base, "max_attempts", w.cfg.MaxAttempts)
}

// Stop signals the retry loop to exit and waits for it to finish.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	slog.Info("retry worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// RunOnce claims and attempts a single batch of due entries, synchronously.
// Exposed for callers that need manual control over the retry cadence
// (tests, one-shot reconciliation runs) instead of the ticking Start loop.
func (w *Worker) RunOnce(ctx context.Context) {
	w.tick(ctx)
}

// tick claims up to ClaimLimit due entries and attempts each independently;
// one failing entry never blocks the others (§4.G).
func (w *Worker) tick(ctx context.Context) {
	claimed, err := w.store.ClaimPending(ctx, w.cfg.ClaimLimit, w.cfg.WorkerID, time.Now())
	if err != nil {
		slog.Error("retry worker: claim_pending failed", "error", err)
		return
	}
	if len(claimed) == 0 {
		return
	}
	slog.Info("retry worker: claimed pending updates", "count", len(claimed))

	// Track which events had at least one pending row attempted this tick,
	// so maybeFinalize only runs once per event regardless of how many of
	// its operations were claimed together. The value is the extraction_
	// triggered flag carried by whichever op's payload was last attempted —
	// every pending row for a given event_id agrees on this value, since it
	// is fixed by the dispatcher's classification at the time of deferral.
	touched := make(map[string]bool)
	for _, p := range claimed {
		eventID, extractionTriggered := w.attempt(ctx, p)
		// A completed finalize_event op has already finalized its event with
		// the error message it carried; finalizing again would clear it.
		if eventID != "" && p.OperationKind != models.OpFinalizeEvent {
			touched[eventID] = extractionTriggered
		}
	}
	for eventID, extractionTriggered := range touched {
		w.maybeFinalize(ctx, eventID, extractionTriggered)
	}
}

// attempt re-runs one pending update's store operation and records the
// outcome, returning the event_id it belongs to and its intended
// extraction_triggered finalize value (for maybeFinalize) if one could be
// determined.
func (w *Worker) attempt(ctx context.Context, p models.PendingUpdate) (string, bool) {
	log := slog.With("update_id", p.UpdateID, "operation", p.OperationKind, "retry_count", p.RetryCount)

	eventID, extractionTriggered, err := w.apply(ctx, p)
	if err == nil {
		log.Info("retry worker: pending update completed")
		if compErr := w.store.CompletePending(ctx, p.UpdateID, true, "", time.Time{}); compErr != nil {
			log.Error("retry worker: failed to mark pending update completed", "error", compErr)
		}
		return eventID, extractionTriggered
	}

	if errors.Is(err, store.ErrDeferred) {
		// Still inside the streaming buffer window; reschedule with backoff
		// as any other retryable failure.
		log.Info("retry worker: pending update deferred again", "error", err)
	} else {
		log.Warn("retry worker: pending update attempt failed", "error", err)
	}

	if p.RetryCount+1 >= w.cfg.MaxAttempts {
		log.Error("retry worker: pending update exhausted retries, marking failed", "error", err)
		if failErr := w.store.FailPending(ctx, p.UpdateID, err.Error()); failErr != nil {
			log.Error("retry worker: failed to mark pending update failed", "error", failErr)
		}
		// The originating event stays processed=false permanently — an
		// operator must intervene (§4.G). It is not finalized here.
		return "", false
	}

	next := nextRetryAt(w.cfg.Base, p.RetryCount)
	if compErr := w.store.CompletePending(ctx, p.UpdateID, false, err.Error(), next); compErr != nil {
		log.Error("retry worker: failed to reschedule pending update", "error", compErr)
	}
	return "", false
}

// nextRetryAt implements next_retry_at = now + base*2^retry_count + jitter,
// capped at one hour (§4.G). cenkalti/backoff/v4's exponential curve tunes
// the multiplier; the worker computes and stores the timestamp explicitly
// since BigQuery has no server-side scheduling to lean on.
func nextRetryAt(base time.Duration, retryCount int) time.Time {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = base
	eb.Multiplier = 2
	eb.MaxInterval = backoffCap
	eb.RandomizationFactor = 0.2

	delay := base
	for i := 0; i < retryCount; i++ {
		delay = time.Duration(float64(delay) * eb.Multiplier)
		if delay > backoffCap {
			delay = backoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 5 + 1)) // up to 20% jitter
	total := delay + jitter
	if total > backoffCap {
		total = backoffCap
	}
	return time.Now().Add(total)
}

// apply dispatches p to the store operation matching its OperationKind, and
// returns the event_id carried in its payload along with the event's
// intended extraction_triggered finalize value, for maybeFinalize.
func (w *Worker) apply(ctx context.Context, p models.PendingUpdate) (string, bool, error) {
	switch p.OperationKind {
	case models.OpUpsertCard:
		var payload models.UpsertCardPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return "", false, fmt.Errorf("retry worker: unmarshal upsert_card payload: %w", err)
		}
		if err := w.store.UpsertCardCurrent(ctx, &payload.Card); err != nil {
			return payload.EventID, payload.ExtractionTriggered, err
		}
		return payload.EventID, payload.ExtractionTriggered, nil

	case models.OpReplaceLineItems:
		var payload models.ReplaceLineItemsPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return "", false, fmt.Errorf("retry worker: unmarshal replace_line_items payload: %w", err)
		}
		// replace_line_items_current is only ever enqueued for a
		// classification that triggered extraction (see
		// dispatcher.applyCardCurrentWrites).
		if err := w.store.ReplaceLineItemsCurrent(ctx, payload.CardID, payload.LineItems); err != nil {
			return payload.EventID, true, err
		}
		return payload.EventID, true, nil

	case models.OpFinalizeEvent:
		var payload models.FinalizeEventPayload
		if err := json.Unmarshal(p.Payload, &payload); err != nil {
			return "", false, fmt.Errorf("retry worker: unmarshal finalize_event payload: %w", err)
		}
		if err := w.store.FinalizeEvent(ctx, payload.EventID, payload.ExtractionTriggered, payload.ErrorMessage); err != nil {
			return payload.EventID, payload.ExtractionTriggered, err
		}
		return payload.EventID, payload.ExtractionTriggered, nil

	default:
		return "", false, fmt.Errorf("retry worker: unknown operation kind %q", p.OperationKind)
	}
}

// maybeFinalize finalizes eventID once none of its pending operations remain
// outstanding (pending or processing) — the dispatcher left the event
// processed=false when it deferred a write, and the retry worker, not the
// dispatcher, is responsible for completing that event's lifecycle (§4.F,
// §4.G, §8 Scenario 5). extractionTriggered is the value the dispatcher
// originally intended to finalize with — a deferred metadata_only upsert
// must still finalize with extraction_triggered=false (§8 invariant 5), so
// this can never be hardcoded to true.
func (w *Worker) maybeFinalize(ctx context.Context, eventID string, extractionTriggered bool) {
	lister, ok := w.store.(pendingLister)
	if !ok {
		// Adapters that can't enumerate by event_id (none in this module)
		// skip auto-finalization; an operator-triggered reconciliation would
		// be needed instead.
		return
	}

	outstanding, err := lister.OutstandingPendingForEvent(ctx, eventID)
	if err != nil {
		slog.Error("retry worker: checking outstanding pending updates failed", "event_id", eventID, "error", err)
		return
	}
	if outstanding {
		return
	}

	if err := w.store.FinalizeEvent(ctx, eventID, extractionTriggered, ""); err != nil {
		if errors.Is(err, store.ErrDeferred) {
			slog.Info("retry worker: finalize_event deferred again for event whose writes just completed", "event_id", eventID)
			return
		}
		slog.Error("retry worker: finalize_event failed", "event_id", eventID, "error", err)
	}
}

// pendingLister is an optional capability of a store.Adapter that lets the
// retry worker ask "does event_id still have unfinished pending work?"
// without needing a generic query surface on the Adapter interface itself.
type pendingLister interface {
	OutstandingPendingForEvent(ctx context.Context, eventID string) (bool, error)
}
