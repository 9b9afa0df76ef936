package models

import "time"

// OperationKind identifies which deferred store operation a pending update
// re-attempts.
type OperationKind string

const (
	OpUpsertCard       OperationKind = "upsert_card"
	OpReplaceLineItems OperationKind = "replace_line_items"
	OpFinalizeEvent    OperationKind = "finalize_event"
)

// PendingStatus is the lifecycle state of a retry-queue row.
type PendingStatus string

const (
	PendingStatusPending    PendingStatus = "pending"
	PendingStatusProcessing PendingStatus = "processing"
	PendingStatusCompleted  PendingStatus = "completed"
	PendingStatusFailed     PendingStatus = "failed"
)

// PendingUpdate is one deferred store operation captured for retry by the
// retry worker. The dispatcher only ever writes status=pending; the retry
// worker is the sole writer of status=completed (§4.G).
type PendingUpdate struct {
	UpdateID      string        `bigquery:"update_id"`
	OperationKind OperationKind `bigquery:"operation_kind"`
	TargetTable   string        `bigquery:"target_table"`

	// Payload carries everything required to re-attempt the operation.
	// Concrete shape depends on OperationKind — see UpsertCardPayload,
	// ReplaceLineItemsPayload, FinalizeEventPayload.
	Payload []byte `bigquery:"payload"`

	RetryCount   int       `bigquery:"retry_count"`
	FirstQueuedAt time.Time `bigquery:"first_queued_at"`
	LastRetryAt   *time.Time `bigquery:"last_retry_at"`
	NextRetryAt   time.Time  `bigquery:"next_retry_at"`

	Status       PendingStatus `bigquery:"status"`
	ErrorMessage string        `bigquery:"error_message"`
	CompletedAt  *time.Time    `bigquery:"completed_at"`
	CreatedAt    time.Time     `bigquery:"created_at"`

	// ClaimedBy records which retry-worker instance currently owns this row
	// while status=processing. Mirrors the teacher's pod_id bookkeeping
	// field on AlertSession; used for observability and to make claim_pending
	// race-safe under concurrent workers (§4.A, §5).
	ClaimedBy string `bigquery:"claimed_by"`
}

// UpsertCardPayload is the Payload shape for OpUpsertCard. ExtractionTriggered
// carries the classification's intended finalize value through the retry
// queue, since the event this write belongs to may not be finalized until
// long after the classifying dispatch goroutine has returned.
type UpsertCardPayload struct {
	EventID             string      `json:"event_id"`
	Card                CardCurrent `json:"card"`
	ExtractionTriggered bool        `json:"extraction_triggered"`
}

// ReplaceLineItemsPayload is the Payload shape for OpReplaceLineItems.
type ReplaceLineItemsPayload struct {
	EventID   string     `json:"event_id"`
	CardID    string     `json:"card_id"`
	LineItems []LineItem `json:"line_items"`
}

// FinalizeEventPayload is the Payload shape for OpFinalizeEvent.
type FinalizeEventPayload struct {
	EventID             string `json:"event_id"`
	Success             bool   `json:"success"`
	ExtractionTriggered bool   `json:"extraction_triggered"`
	ErrorMessage        string `json:"error_message,omitempty"`
}
