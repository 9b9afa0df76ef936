package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/boardflow/pkg/models"
)

func TestClassify_New(t *testing.T) {
	class := Classify(Input{ActionKind: models.ActionCardCreated, CardID: "c1", HasMasterRow: false})
	assert.Equal(t, ClassNew, class)
}

func TestClassify_DescChanged(t *testing.T) {
	class := Classify(Input{
		ActionKind: models.ActionCardUpdated, CardID: "c1", HasMasterRow: true,
		PreviousDescription: "1x Sign $100", NewDescription: "2x Sign $300 total",
	})
	assert.Equal(t, ClassDescChanged, class)
}

func TestClassify_MetadataOnly(t *testing.T) {
	class := Classify(Input{
		ActionKind: models.ActionCardUpdated, CardID: "c1", HasMasterRow: true,
		PreviousDescription: "same text", NewDescription: "same text",
	})
	assert.Equal(t, ClassMetadataOnly, class)
}

func TestClassify_MetadataOnlyNormalizesWhitespaceAndNewlines(t *testing.T) {
	class := Classify(Input{
		ActionKind: models.ActionCardUpdated, CardID: "c1", HasMasterRow: true,
		PreviousDescription: "line one\r\nline two  ", NewDescription: "  line one\nline two",
	})
	assert.Equal(t, ClassMetadataOnly, class)
}

func TestClassify_NullEqualsEmpty(t *testing.T) {
	class := Classify(Input{
		ActionKind: models.ActionCardUpdated, CardID: "c1", HasMasterRow: true,
		PreviousDescription: "", NewDescription: "   ",
	})
	assert.Equal(t, ClassMetadataOnly, class)
}

func TestClassify_IrrelevantActionKind(t *testing.T) {
	class := Classify(Input{ActionKind: models.ActionOther, CardID: "c1"})
	assert.Equal(t, ClassIrrelevant, class)
}

func TestClassify_IrrelevantMissingCardID(t *testing.T) {
	class := Classify(Input{ActionKind: models.ActionCardCreated, CardID: ""})
	assert.Equal(t, ClassIrrelevant, class)
}
