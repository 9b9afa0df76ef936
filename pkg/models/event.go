// Package models holds the plain Go representations of the five persistent
// entities from the data model: notification events, card/line-item master
// and current rows, and retry-queue pending updates.
package models

import "time"

// ActionKind is the source platform's notification action type.
type ActionKind string

// Recognized action kinds. Any other source action type (e.g. "commentCard")
// is recorded on the event as ActionOther (the original type survives only in
// the raw payload) and is classified irrelevant by the change classifier.
const (
	ActionCardCreated ActionKind = "card_created"
	ActionCardUpdated ActionKind = "card_updated"
	ActionOther       ActionKind = "other"
)

// NotificationEvent is the append-only audit row for one notification
// delivery. event_id is the idempotency key and is unique across all rows.
type NotificationEvent struct {
	EventID     string     `bigquery:"event_id"`
	ActionKind  ActionKind `bigquery:"action_kind"`
	ActionTime  time.Time  `bigquery:"action_time"`
	CardID      string     `bigquery:"card_id"`
	BoardID     string     `bigquery:"board_id"`
	BoardName   string     `bigquery:"board_name"`
	ListBeforeID   string `bigquery:"list_before_id"`
	ListBeforeName string `bigquery:"list_before_name"`
	ListAfterID    string `bigquery:"list_after_id"`
	ListAfterName  string `bigquery:"list_after_name"`

	// IsListTransition is derived, never set directly by callers — see
	// DeriveListTransition.
	IsListTransition bool `bigquery:"is_list_transition"`

	ActorID   string `bigquery:"actor_id"`
	ActorName string `bigquery:"actor_name"`

	// RawPayload is the full original notification body, stored verbatim and
	// never indexed or parsed again once recorded (see design note on the
	// opaque payload column).
	RawPayload []byte `bigquery:"raw_payload"`

	Processed           bool       `bigquery:"processed"`
	ProcessedAt          *time.Time `bigquery:"processed_at"`
	ExtractionTriggered  bool       `bigquery:"extraction_triggered"`
	ErrorMessage         string     `bigquery:"error_message"`

	CreatedAt time.Time `bigquery:"created_at"`

	// IngestedBy records which dispatcher worker/pod ingested this event.
	// Observability only — not part of any correctness invariant.
	IngestedBy string `bigquery:"ingested_by"`
}

// DeriveListTransition implements invariant 5: true iff both list ids are
// present and differ.
func DeriveListTransition(listBeforeID, listAfterID string) bool {
	return listBeforeID != "" && listAfterID != "" && listBeforeID != listAfterID
}
