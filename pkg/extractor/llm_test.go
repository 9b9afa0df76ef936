package extractor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatResponseWith(t *testing.T, payload extractionPayload) string {
	t.Helper()
	inner, err := json.Marshal(payload)
	require.NoError(t, err)
	resp := chatResponse{}
	resp.Choices = []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}{{}}
	resp.Choices[0].Message.Content = string(inner)
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(out)
}

func TestLLMExtractor_EmptyDescriptionShortCircuits(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	e, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), Input{CardID: "c1", Name: "Order", Description: "   "})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Empty(t, res.LineItems)
	assert.Equal(t, "", res.Fields.Purchaser)
}

func TestLLMExtractor_ExtractsAndDerivesPricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := chatResponseWith(t, extractionPayload{
			Purchaser:    "Acme Co",
			OrderSummary: "2x signs",
			LineItems: []lineItemPayload{
				{Quantity: 2, RawPrice: 300, PriceKind: "total", Description: "2x Sign", BusinessLine: "signage"},
			},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	e, err := New(Config{Endpoint: srv.URL, ModelID: "gpt-x"})
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), Input{CardID: "c1", Name: "Order", Description: "2x Sign $300 total"})
	require.NoError(t, err)

	assert.Equal(t, "Acme Co", res.Fields.Purchaser)
	require.Len(t, res.LineItems, 1)
	item := res.LineItems[0]
	assert.Equal(t, 1, item.LineIndex)
	assert.Equal(t, "c1", item.CardID)
	assert.Equal(t, 300.0, item.TotalRevenue)
	assert.Equal(t, 150.0, item.UnitPrice)
}

func TestLLMExtractor_PerUnitPricing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := chatResponseWith(t, extractionPayload{
			LineItems: []lineItemPayload{
				{Quantity: 1, RawPrice: 100, PriceKind: "per_unit", Description: "1x Sign"},
			},
		})
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	e, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	res, err := e.Extract(context.Background(), Input{CardID: "c1", Description: "1x Sign $100"})
	require.NoError(t, err)
	require.Len(t, res.LineItems, 1)
	assert.Equal(t, 100.0, res.LineItems[0].UnitPrice)
	assert.Equal(t, 100.0, res.LineItems[0].TotalRevenue)
}

func TestLLMExtractor_HTTPErrorIsExtractionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, err := New(Config{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = e.Extract(context.Background(), Input{CardID: "c1", Description: "something"})
	assert.ErrorIs(t, err, ErrExtractionFailed)
}

func TestLLMExtractor_TruncatesInput(t *testing.T) {
	var receivedLen int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		receivedLen = len(req.Messages[1].Content)
		body := chatResponseWith(t, extractionPayload{})
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	e, err := New(Config{Endpoint: srv.URL, MaxInputLength: 10})
	require.NoError(t, err)

	longDesc := "this description is much longer than ten characters"
	_, err = e.Extract(context.Background(), Input{CardID: "c1", Name: "", Description: longDesc})
	require.NoError(t, err)
	assert.Equal(t, 10, receivedLen)
}
