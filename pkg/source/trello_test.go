package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestTrelloClient_GetCard(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/cards/card-1":
			_ = json.NewEncoder(w).Encode(trelloCard{
				ID: "card-1", Name: "Order #42", Desc: "2 signs", IDBoard: "board-1", IDList: "list-1",
				Labels: []label{{Name: "urgent"}},
			})
		case r.URL.Path == "/lists/list-1":
			_ = json.NewEncoder(w).Encode(trelloList{ID: "list-1", Name: "In Progress"})
		case r.URL.Path == "/boards/board-1":
			_ = json.NewEncoder(w).Encode(trelloBoard{ID: "board-1", Name: "Orders"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	c := NewTrelloClient("key", "token", WithBaseURL(srv.URL))
	card, err := c.GetCard(context.Background(), "card-1")
	require.NoError(t, err)

	assert.Equal(t, "Order #42", card.Name)
	assert.Equal(t, "2 signs", card.Description)
	assert.Equal(t, "In Progress", card.ListName)
	assert.Equal(t, "Orders", card.BoardName)
	assert.Equal(t, []string{"urgent"}, card.Labels)
}

func TestTrelloClient_GetCardNotFound(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := NewTrelloClient("key", "token", WithBaseURL(srv.URL), WithMaxRetries(0))
	_, err := c.GetCard(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCardAbsent)
}

func TestTrelloClient_RetriesServerErrors(t *testing.T) {
	var attempts int
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/cards/card-1":
			_ = json.NewEncoder(w).Encode(trelloCard{ID: "card-1", IDBoard: "b", IDList: "l"})
		case "/lists/l":
			_ = json.NewEncoder(w).Encode(trelloList{ID: "l"})
		case "/boards/b":
			_ = json.NewEncoder(w).Encode(trelloBoard{ID: "b"})
		}
	})

	c := NewTrelloClient("key", "token", WithBaseURL(srv.URL), WithMaxRetries(5))
	card, err := c.GetCard(context.Background(), "card-1")
	require.NoError(t, err)
	assert.Equal(t, "card-1", card.ID)
	assert.GreaterOrEqual(t, attempts, 3)
}

func TestTrelloClient_RegisterAndListWebhooks(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/webhooks":
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "hook-1"})
		case r.URL.Path == "/tokens/token/webhooks":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"id": "hook-1", "idModel": "board-1", "callbackURL": "https://example.com/hook", "active": true},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	c := NewTrelloClient("key", "token", WithBaseURL(srv.URL))
	id, err := c.RegisterWebhook(context.Background(), "board-1", "https://example.com/hook")
	require.NoError(t, err)
	assert.Equal(t, "hook-1", id)

	hooks, err := c.ListWebhooks(context.Background())
	require.NoError(t, err)
	require.Len(t, hooks, 1)
	assert.Equal(t, "board-1", hooks[0].ModelID)
	assert.True(t, hooks[0].Active)
}

func TestTrelloClient_DeleteWebhook(t *testing.T) {
	var deleted bool
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete && r.URL.Path == "/webhooks/hook-1" {
			deleted = true
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	c := NewTrelloClient("key", "token", WithBaseURL(srv.URL))
	require.NoError(t, c.DeleteWebhook(context.Background(), "hook-1"))
	assert.True(t, deleted)
}

func TestCreationTimeFromObjectID(t *testing.T) {
	// 5f1a2b3c -> 1595550524 (2020-07-24T00:28:44Z)
	got := creationTimeFromObjectID("5f1a2b3c0000000000000000")
	assert.Equal(t, int64(1595550524), got.Unix())

	assert.True(t, creationTimeFromObjectID("short").IsZero())
	assert.True(t, creationTimeFromObjectID("zzzzzzzzzzzzzzzzzzzzzzzz").IsZero())
}

func TestTrelloClient_RespectsContextCancellation(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	c := NewTrelloClient("key", "token", WithBaseURL(srv.URL), WithMaxRetries(0))
	_, err := c.GetCard(ctx, "card-1")
	assert.Error(t, err)
}
