package intake

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/boardflow/pkg/dispatcher"
)

type fakeOverflow struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeOverflow) Insert(_ context.Context, eventID, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, eventID)
	return nil
}

func (f *fakeOverflow) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

const sampleNotification = `{
  "action": {
    "id": "act1",
    "type": "createCard",
    "date": "2026-01-01T00:00:00Z",
    "memberCreator": {"id": "m1", "username": "alice"},
    "data": {
      "board": {"id": "b1", "name": "Orders"},
      "card":  {"id": "c1", "name": "Order #1", "desc": "1x Sign $100"},
      "list":  {"id": "l1", "name": "New"}
    }
  }
}`

func TestNotificationHandler_Success(t *testing.T) {
	output := make(chan dispatcher.Notification, 1)
	overflow := &fakeOverflow{}
	s := NewServer(Config{}, output, overflow)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(sampleNotification))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.notificationHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case n := <-output:
		assert.Equal(t, "act1", n.EventID)
		assert.Equal(t, "c1", n.CardID)
	default:
		t.Fatal("expected a notification on the output channel")
	}
	assert.Equal(t, 0, overflow.len())
}

func TestNotificationHandler_MalformedJSON(t *testing.T) {
	output := make(chan dispatcher.Notification, 1)
	s := NewServer(Config{}, output, &fakeOverflow{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.notificationHandler(c)
	require.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestNotificationHandler_ChannelFullOverflows(t *testing.T) {
	output := make(chan dispatcher.Notification) // unbuffered, always full without a reader
	overflow := &fakeOverflow{}
	s := NewServer(Config{}, output, overflow)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(sampleNotification))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.notificationHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code, "overflow must still answer 200 to avoid a retry storm")

	require.Eventually(t, func() bool { return overflow.len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "act1", overflow.entries[0])
}

func TestLivenessHandler(t *testing.T) {
	output := make(chan dispatcher.Notification, 1)
	s := NewServer(Config{}, output, &fakeOverflow{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodHead, "/webhook", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, s.livenessHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}
