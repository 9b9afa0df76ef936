package models

import "time"

// CardFields are the enriched fields the extractor produces from a card's
// name and description. Absent values are left as zero values (empty
// strings) — the extractor leaves them absent on an empty description
// rather than erroring.
type CardFields struct {
	Purchaser          string `bigquery:"purchaser"`
	BuyerName          string `bigquery:"buyer_name"`
	BuyerEmail         string `bigquery:"buyer_email"`
	OrderSummary       string `bigquery:"order_summary"`
}

// CardMaster is the append-only, immutable snapshot of a card's first
// observed state. Never updated after creation (invariant: exactly one row
// per card_id, and card-current always has a matching card-master row).
type CardMaster struct {
	CardID      string `bigquery:"card_id"`
	Name        string `bigquery:"name"`
	Description string `bigquery:"description"`
	Labels      []string `bigquery:"labels"`
	Closed      bool   `bigquery:"closed"`

	BoardID   string `bigquery:"board_id"`
	BoardName string `bigquery:"board_name"`
	ListID    string `bigquery:"list_id"`
	ListName  string `bigquery:"list_name"`

	CardFields

	CreatedAt time.Time `bigquery:"created_at"` // card's creation date on the source platform

	LineItemCount int `bigquery:"line_item_count"`

	FirstExtractedAt       *time.Time `bigquery:"first_extracted_at"`
	FirstExtractionEventID string     `bigquery:"first_extraction_event_id"`
}

// CardCurrent is the mutable latest-state projection for a card. Exactly
// one row per card_id, overwritten on every applicable notification.
type CardCurrent struct {
	CardID      string `bigquery:"card_id"`
	Name        string `bigquery:"name"`
	Description string `bigquery:"description"`
	Labels      []string `bigquery:"labels"`
	Closed      bool   `bigquery:"closed"`

	BoardID   string `bigquery:"board_id"`
	BoardName string `bigquery:"board_name"`
	ListID    string `bigquery:"list_id"`
	ListName  string `bigquery:"list_name"`

	CardFields

	CreatedAt time.Time `bigquery:"created_at"`

	LineItemCount int `bigquery:"line_item_count"`

	LastUpdatedAt         time.Time  `bigquery:"last_updated_at"`
	LastExtractedAt       *time.Time `bigquery:"last_extracted_at"`
	LastExtractionEventID string     `bigquery:"last_extraction_event_id"`
	LastEventType         string     `bigquery:"last_event_type"`
}
