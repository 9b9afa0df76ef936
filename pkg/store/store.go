// Package store defines the analytical store adapter boundary and its
// BigQuery-backed implementation (§4.A). The interface is the seam the rest
// of the system is written against; Dispatcher, Retry Worker, and the CLI
// never import the bigquery package directly.
package store

import (
	"context"
	"time"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// Adapter is the analytical store boundary. Implementations must uphold the
// append-only invariants on notification_events, card_master, and
// line_items_master, and must never block indefinitely on BigQuery's
// streaming-buffer window — operations that would require UPDATE/DELETE/MERGE
// on just-streamed rows return ErrDeferred rather than waiting.
type Adapter interface {
	// InsertEvent appends a notification_events row. Returns ErrDuplicateKey
	// if event_id already exists (idempotent re-delivery).
	InsertEvent(ctx context.Context, ev *models.NotificationEvent) error

	// EventExists reports whether event_id has already been recorded.
	EventExists(ctx context.Context, eventID string) (bool, error)

	// LastKnownDescription returns the description on record for cardID —
	// preferring card_current when present, falling back to card_master —
	// along with whether any row was found. Used by the change classifier
	// to compute desc_changed (§4.D).
	LastKnownDescription(ctx context.Context, cardID string) (description string, found bool, err error)

	// GetCardCurrent returns the existing card_current row for cardID, if
	// any. Used by the dispatcher's metadata_only path to preserve
	// enrichment fields and last_extracted_at across a metadata-only
	// overwrite (§4.D, §8 invariant 5).
	GetCardCurrent(ctx context.Context, cardID string) (*models.CardCurrent, bool, error)

	// InsertCardMasterIfAbsent inserts the first-observed snapshot for a
	// card. A no-op (not an error) if a card_master row already exists.
	InsertCardMasterIfAbsent(ctx context.Context, card *models.CardMaster) error

	// UpsertCardCurrent applies a MERGE-based insert-or-update of the
	// latest-state projection. Returns ErrDeferred if the existing row is
	// still inside BigQuery's streaming buffer.
	UpsertCardCurrent(ctx context.Context, card *models.CardCurrent) error

	// ReplaceLineItemsCurrent atomically deletes and re-inserts cardID's
	// rows in line_items_current via a multi-statement BigQuery script.
	// Returns ErrDeferred if the delete half hits the streaming buffer.
	ReplaceLineItemsCurrent(ctx context.Context, cardID string, items []models.LineItem) error

	// InsertLineItemsMaster appends items to the immutable master table. A
	// no-op if cardID already has master rows (first-extraction-only,
	// mirrors InsertCardMasterIfAbsent).
	InsertLineItemsMaster(ctx context.Context, cardID string, items []models.LineItem) error

	// FinalizeEvent marks eventID processed, recording whether extraction
	// fired and any terminal error message.
	FinalizeEvent(ctx context.Context, eventID string, extractionTriggered bool, errMsg string) error

	// EnqueuePending appends a retry-queue row for a deferred operation.
	EnqueuePending(ctx context.Context, update *models.PendingUpdate) error

	// ClaimPending atomically selects and marks "processing" up to limit
	// rows whose next_retry_at has elapsed, mimicking FOR UPDATE SKIP
	// LOCKED via a MERGE that only matches rows still status=pending (§4.A,
	// §4.G). claimedBy identifies the retry worker instance making the
	// claim, recorded for observability.
	ClaimPending(ctx context.Context, limit int, claimedBy string, now time.Time) ([]models.PendingUpdate, error)

	// CompletePending marks update as completed, or reschedules it with an
	// incremented retry count and advanced next_retry_at on failure.
	CompletePending(ctx context.Context, updateID string, success bool, errMsg string, nextRetryAt time.Time) error

	// FailPending marks update as terminally failed: status=failed, no
	// further next_retry_at advance. Called by the retry worker once
	// retry_count has exhausted retry_max_attempts (§4.G) — the associated
	// event is left processed=false and requires operator intervention.
	FailPending(ctx context.Context, updateID string, errMsg string) error

	// Close releases underlying client resources.
	Close() error
}
