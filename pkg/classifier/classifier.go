// Package classifier decides how much work a notification requires before
// any expensive collaborator (source fetch, extraction) is invoked (§4.D).
package classifier

import (
	"strings"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

// Class is one of the four classification outcomes.
type Class string

const (
	// ClassNew means the card has no master row yet.
	ClassNew Class = "new"
	// ClassDescChanged means a master row exists and the description
	// differs from the previously known one under normalization.
	ClassDescChanged Class = "desc_changed"
	// ClassMetadataOnly means a master row exists and the description is
	// unchanged — only metadata fields need updating.
	ClassMetadataOnly Class = "metadata_only"
	// ClassIrrelevant means the notification carries no actionable change.
	ClassIrrelevant Class = "irrelevant"
)

// Input is what the classifier needs to decide.
type Input struct {
	ActionKind models.ActionKind
	CardID     string

	// HasMasterRow reports whether card_master already has a row for
	// CardID (looked up by the caller via store.Adapter.LastKnownDescription
	// returning found=true).
	HasMasterRow bool

	// PreviousDescription is the description on record, only meaningful
	// when HasMasterRow is true.
	PreviousDescription string

	// NewDescription is the freshly fetched card's description. Ignored
	// when the action is irrelevant.
	NewDescription string
}

// Classify implements §4.D's decision table.
func Classify(in Input) Class {
	if in.CardID == "" {
		return ClassIrrelevant
	}
	switch in.ActionKind {
	case models.ActionCardCreated, models.ActionCardUpdated:
	default:
		return ClassIrrelevant
	}

	if !in.HasMasterRow {
		return ClassNew
	}

	if normalize(in.PreviousDescription) != normalize(in.NewDescription) {
		return ClassDescChanged
	}
	return ClassMetadataOnly
}

// normalize implements the byte-equality rule from §4.D: trimmed,
// newline-canonicalized, null treated as equal to empty.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
