// Package integration exercises Event Intake, Dispatcher, and the Retry
// Worker wired together end to end against an in-memory store, the way
// cmd/boardflow wires them against BigQuery.
package integration

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/boardflow/pkg/dispatcher"
	"github.com/codeready-toolchain/boardflow/pkg/extractor"
	"github.com/codeready-toolchain/boardflow/pkg/intake"
	"github.com/codeready-toolchain/boardflow/pkg/models"
	"github.com/codeready-toolchain/boardflow/pkg/retry"
	"github.com/codeready-toolchain/boardflow/pkg/source"
	"github.com/codeready-toolchain/boardflow/pkg/store"
)

const notificationJSON = `{
  "action": {
    "id": "evt-1",
    "type": "createCard",
    "date": "2026-01-01T00:00:00Z",
    "memberCreator": {"id": "m1", "username": "alice"},
    "data": {
      "board": {"id": "b1", "name": "Orders"},
      "card":  {"id": "card-1", "name": "Order #1", "desc": "2x Sign"},
      "list":  {"id": "l1", "name": "New"}
    }
  }
}`

// startIntake launches a real intake server on an OS-assigned port and
// returns its base URL, tearing the listener down on test cleanup.
func startIntake(t *testing.T, srv *intake.Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go srv.StartWithListener(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return "http://" + ln.Addr().String()
}

// TestPipeline_WebhookToCardCurrent drives a single createCard notification
// through the HTTP boundary, the dispatcher state machine, and asserts the
// resulting card_current row — the whole pipeline in one pass, no deferred
// writes involved (Scenario 1, §8).
func TestPipeline_WebhookToCardCurrent(t *testing.T) {
	st := store.NewMemoryAdapter()

	src := source.NewFake()
	src.Cards["card-1"] = &source.Card{
		ID: "card-1", Name: "Order #1", Description: "2x Sign", BoardID: "b1", BoardName: "Orders",
		ListID: "l1", ListName: "New",
	}

	ext := extractor.NewFake()
	ext.Results["card-1"] = &extractor.Result{
		Fields:    models.CardFields{Purchaser: "Acme"},
		LineItems: []models.LineItem{{Quantity: 2, RawPrice: 50, PriceKind: models.PriceKindPerUnit}},
	}

	notifications := make(chan dispatcher.Notification, 8)
	disp := dispatcher.New(dispatcher.Config{WorkerConcurrency: 2}, st, src, ext, notifications)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	srv := intake.NewServer(intake.Config{}, notifications, nil)
	baseURL := startIntake(t, srv)

	resp, err := http.Post(baseURL+"/webhook", "application/json", bytes.NewBufferString(notificationJSON))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		cur, found, err := st.GetCardCurrent(ctx, "card-1")
		return err == nil && found && cur.Purchaser == "Acme"
	}, 2*time.Second, 10*time.Millisecond)

	ev, ok := st.GetEvent("evt-1")
	require.True(t, ok)
	assert.True(t, ev.Processed)
	assert.True(t, ev.ExtractionTriggered)

	items := st.GetLineItemsCurrent("card-1")
	require.Len(t, items, 1)
	assert.Equal(t, 100.0, items[0].TotalRevenue)
}

// TestPipeline_DeferredWriteFinalizesViaRetryWorker simulates a card_current
// upsert landing inside BigQuery's streaming-buffer window: the dispatcher
// defers the write and leaves the event unfinalized, and only the retry
// worker's next manual run completes it (Scenario 5, §8).
func TestPipeline_DeferredWriteFinalizesViaRetryWorker(t *testing.T) {
	st := store.NewMemoryAdapter()
	st.DeferNextUpsert = true

	src := source.NewFake()
	src.Cards["card-2"] = &source.Card{ID: "card-2", Name: "Order #2", BoardID: "b1", ListID: "l1"}
	ext := extractor.NewFake()
	ext.Results["card-2"] = &extractor.Result{
		Fields:    models.CardFields{Purchaser: "Acme"},
		LineItems: []models.LineItem{{Quantity: 1, RawPrice: 75, PriceKind: models.PriceKindPerUnit}},
	}

	notifications := make(chan dispatcher.Notification, 8)
	disp := dispatcher.New(dispatcher.Config{WorkerConcurrency: 2}, st, src, ext, notifications)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go disp.Run(ctx)

	notifications <- dispatcher.Notification{EventID: "evt-2", ActionKind: models.ActionCardCreated, CardID: "card-2"}

	// The deferred upsert must not suppress the line-items replace: the
	// replace is applied directly, and only the deferred upsert is queued.
	require.Eventually(t, func() bool {
		ev, ok := st.GetEvent("evt-2")
		return ok && !ev.Processed && len(st.ListPending()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	worker := retry.New(retry.Config{ClaimLimit: 10}, st)
	worker.RunOnce(ctx)

	ev, ok := st.GetEvent("evt-2")
	require.True(t, ok)
	assert.True(t, ev.Processed, "retry worker must finalize the event once its deferred writes succeed")
	assert.True(t, ev.ExtractionTriggered)

	items := st.GetLineItemsCurrent("card-2")
	require.Len(t, items, 1, "line_items_current must not be dropped when the upsert defers")
	assert.Equal(t, 75.0, items[0].TotalRevenue)
}
