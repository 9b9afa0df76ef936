package dispatcher

import (
	"time"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// Notification is the parsed, normalized shape Event Intake hands to the
// Dispatcher over the bounded channel (§4.E, §4.F).
type Notification struct {
	EventID    string
	ActionKind models.ActionKind
	ActionTime time.Time

	CardID string

	BoardID   string
	BoardName string

	ListBeforeID   string
	ListBeforeName string
	ListAfterID    string
	ListAfterName  string

	ActorID   string
	ActorName string

	RawPayload []byte
}

func (n Notification) isListTransition() bool {
	return models.DeriveListTransition(n.ListBeforeID, n.ListAfterID)
}
