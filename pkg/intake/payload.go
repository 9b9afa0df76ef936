package intake

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/boardflow/pkg/dispatcher"
	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// webhookPayload is the source platform's notification envelope (§6). Only
// the fields the dispatcher's state machine needs are extracted; the full
// body is retained verbatim on Notification.RawPayload.
type webhookPayload struct {
	Action struct {
		ID            string    `json:"id"`
		Type          string    `json:"type"`
		Date          time.Time `json:"date"`
		MemberCreator struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"memberCreator"`
		Data struct {
			Board struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"board"`
			ListBefore struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"listBefore"`
			ListAfter struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"listAfter"`
			Card struct {
				ID string `json:"id"`
			} `json:"card"`
		} `json:"data"`
	} `json:"action"`
}

// actionKinds maps the source platform's action.type strings to the
// dispatcher's reduced ActionKind vocabulary. Anything else is "other" and
// is classified irrelevant by the change classifier.
var actionKinds = map[string]models.ActionKind{
	"createCard": models.ActionCardCreated,
	"updateCard": models.ActionCardUpdated,
}

// parseNotification decodes raw as a webhookPayload and converts it to a
// dispatcher.Notification, retaining the original bytes verbatim.
func parseNotification(raw []byte) (dispatcher.Notification, error) {
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return dispatcher.Notification{}, fmt.Errorf("malformed notification payload: %w", err)
	}
	if p.Action.ID == "" {
		return dispatcher.Notification{}, fmt.Errorf("malformed notification payload: missing action.id")
	}

	kind, ok := actionKinds[p.Action.Type]
	if !ok {
		kind = models.ActionOther
	}

	n := dispatcher.Notification{
		EventID:        p.Action.ID,
		ActionKind:     kind,
		ActionTime:     p.Action.Date,
		CardID:         p.Action.Data.Card.ID,
		BoardID:        p.Action.Data.Board.ID,
		BoardName:      p.Action.Data.Board.Name,
		ListBeforeID:   p.Action.Data.ListBefore.ID,
		ListBeforeName: p.Action.Data.ListBefore.Name,
		ListAfterID:    p.Action.Data.ListAfter.ID,
		ListAfterName:  p.Action.Data.ListAfter.Name,
		ActorID:        p.Action.MemberCreator.ID,
		ActorName:      p.Action.MemberCreator.Username,
		RawPayload:     raw,
	}
	return n, nil
}
