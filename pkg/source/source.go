// Package source provides read-only access to the collaboration board
// platform that emits the webhook notifications this system ingests (§4.B).
// It never writes to the source platform.
package source

import (
	"context"
	"errors"
)

// ErrCardAbsent is returned when a card has been deleted or made
// unreachable on the source platform between the notification firing and
// the fetch attempt. Callers treat this as a terminal, non-retryable
// condition for that single event (§4.B, §7 card_absent).
var ErrCardAbsent = errors.New("source: card not found")

// Card is the subset of the source platform's card representation this
// system consumes.
type Card struct {
	ID          string
	Name        string
	Description string
	Labels      []string
	Closed      bool
	BoardID     string
	BoardName   string
	ListID      string
	ListName    string
	CreatedAt   string // platform's card creation timestamp, RFC3339
}

// Client is the read-only source-platform boundary. Implementations must
// apply their own request pacing and retry policy — callers make no
// assumption about how many underlying HTTP calls a single Client call
// costs.
type Client interface {
	// GetCard fetches the current state of cardID. Returns ErrCardAbsent if
	// the card no longer exists or the caller's credentials can no longer
	// see it.
	GetCard(ctx context.Context, cardID string) (*Card, error)

	// RegisterWebhook registers callbackURL to receive notifications for
	// modelID (a board or card id, depending on the platform's webhook
	// scope). Returns the created webhook's id.
	RegisterWebhook(ctx context.Context, modelID, callbackURL string) (string, error)

	// ListWebhooks returns all webhooks currently registered under this
	// client's credentials.
	ListWebhooks(ctx context.Context) ([]Webhook, error)

	// DeleteWebhook removes a previously registered webhook.
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// Webhook is a registered notification subscription on the source platform.
type Webhook struct {
	ID          string
	ModelID     string
	CallbackURL string
	Active      bool
}
