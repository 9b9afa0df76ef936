package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/codeready-toolchain/boardflow/pkg/version"
)

const defaultBaseURL = "https://api.trello.com/1"

// TrelloClient implements Client against a Trello-shaped REST API. Requests
// are paced by a token bucket (default 30 req/s, burst 300 — the platform's
// published rate limit window) and network-level failures are retried with
// jittered exponential backoff; a 404 from the card endpoint is translated
// to ErrCardAbsent and never retried.
type TrelloClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	apiToken   string
	limiter    *rate.Limiter
	maxRetries uint64
	logger     *slog.Logger
}

// TrelloClientOption configures a TrelloClient.
type TrelloClientOption func(*TrelloClient)

// WithBaseURL overrides the default Trello API origin, primarily for tests.
func WithBaseURL(u string) TrelloClientOption {
	return func(c *TrelloClient) { c.baseURL = u }
}

// WithMaxRetries overrides the number of retry attempts (default 3) for
// network-level failures.
func WithMaxRetries(n uint64) TrelloClientOption {
	return func(c *TrelloClient) { c.maxRetries = n }
}

// WithHTTPClient overrides the underlying *http.Client, primarily for tests.
func WithHTTPClient(h *http.Client) TrelloClientOption {
	return func(c *TrelloClient) { c.httpClient = h }
}

// NewTrelloClient builds a client authenticated with apiKey/apiToken.
func NewTrelloClient(apiKey, apiToken string, opts ...TrelloClientOption) *TrelloClient {
	c := &TrelloClient{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		apiKey:     apiKey,
		apiToken:   apiToken,
		limiter:    rate.NewLimiter(rate.Limit(30), 300),
		maxRetries: 3,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type trelloCard struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Desc    string  `json:"desc"`
	Closed  bool    `json:"closed"`
	IDBoard string  `json:"idBoard"`
	IDList  string  `json:"idList"`
	Labels  []label `json:"labels"`
}

// creationTimeFromObjectID recovers a Trello card's creation time from its
// id: Trello card ids are Mongo ObjectIDs, whose first 8 hex characters are
// a big-endian Unix timestamp. The card API exposes no dedicated "created"
// field, so this is the platform's only source for that value. A malformed
// id (too short, non-hex) degrades to the zero time.
func creationTimeFromObjectID(cardID string) time.Time {
	if len(cardID) < 8 {
		return time.Time{}
	}
	seconds, err := strconv.ParseInt(cardID[:8], 16, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}

type label struct {
	Name string `json:"name"`
}

type trelloList struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type trelloBoard struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (c *TrelloClient) GetCard(ctx context.Context, cardID string) (*Card, error) {
	var card trelloCard
	if err := c.getJSON(ctx, fmt.Sprintf("/cards/%s", cardID), url.Values{
		"fields": {"id,name,desc,closed,idBoard,idList,labels"},
	}, &card); err != nil {
		return nil, err
	}

	var list trelloList
	if err := c.getJSON(ctx, fmt.Sprintf("/lists/%s", card.IDList), nil, &list); err != nil {
		return nil, fmt.Errorf("source: fetch list %s for card %s: %w", card.IDList, cardID, err)
	}
	var board trelloBoard
	if err := c.getJSON(ctx, fmt.Sprintf("/boards/%s", card.IDBoard), nil, &board); err != nil {
		return nil, fmt.Errorf("source: fetch board %s for card %s: %w", card.IDBoard, cardID, err)
	}

	labels := make([]string, len(card.Labels))
	for i, l := range card.Labels {
		labels[i] = l.Name
	}

	return &Card{
		ID:          card.ID,
		Name:        card.Name,
		Description: card.Desc,
		Labels:      labels,
		Closed:      card.Closed,
		BoardID:     board.ID,
		BoardName:   board.Name,
		ListID:      list.ID,
		ListName:    list.Name,
		// Trello card ids are Mongo ObjectIDs: the first 8 hex characters
		// encode a Unix timestamp, the platform's only source for a card's
		// creation time (there is no dedicated "created" field).
		CreatedAt: creationTimeFromObjectID(card.ID).Format(time.RFC3339),
	}, nil
}

func (c *TrelloClient) RegisterWebhook(ctx context.Context, modelID, callbackURL string) (string, error) {
	form := url.Values{
		"idModel":     {modelID},
		"callbackURL": {callbackURL},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.postForm(ctx, "/webhooks", form, &resp); err != nil {
		return "", fmt.Errorf("source: register webhook for %s: %w", modelID, err)
	}
	return resp.ID, nil
}

func (c *TrelloClient) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	var resp []struct {
		ID          string `json:"id"`
		IDModel     string `json:"idModel"`
		CallbackURL string `json:"callbackURL"`
		Active      bool   `json:"active"`
	}
	if err := c.getJSON(ctx, fmt.Sprintf("/tokens/%s/webhooks", c.apiToken), nil, &resp); err != nil {
		return nil, fmt.Errorf("source: list webhooks: %w", err)
	}
	hooks := make([]Webhook, len(resp))
	for i, h := range resp {
		hooks[i] = Webhook{ID: h.ID, ModelID: h.IDModel, CallbackURL: h.CallbackURL, Active: h.Active}
	}
	return hooks, nil
}

func (c *TrelloClient) DeleteWebhook(ctx context.Context, webhookID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/webhooks/%s", webhookID), nil, nil)
}

// getJSON issues an authenticated GET and decodes the JSON response into
// dst, retrying network-level failures with jittered exponential backoff
// (§4.B). A 404 response is translated to ErrCardAbsent and never retried.
func (c *TrelloClient) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	return c.do(ctx, http.MethodGet, path, query, dst)
}

func (c *TrelloClient) postForm(ctx context.Context, path string, form url.Values, dst any) error {
	return c.doBody(ctx, http.MethodPost, path, form, dst)
}

func (c *TrelloClient) do(ctx context.Context, method, path string, query url.Values, dst any) error {
	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("source: rate limiter: %w", err))
		}

		u := c.buildURL(path, query)
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("source: build request: %w", err))
		}
		req.Header.Set("User-Agent", version.Full())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("source: request %s: %w", path, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("source: read response %s: %w", path, err)
		}

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(ErrCardAbsent)
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("source: server error %d for %s", resp.StatusCode, path)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("source: request %s failed with HTTP %d: %s", path, resp.StatusCode, b))
		}

		body = b
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}

	if dst == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("source: decode response %s: %w", path, err)
	}
	return nil
}

func (c *TrelloClient) doBody(ctx context.Context, method, path string, form url.Values, dst any) error {
	var body []byte
	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("source: rate limiter: %w", err))
		}

		u := c.buildURL(path, nil)
		req, err := http.NewRequestWithContext(ctx, method, u, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("source: build request: %w", err))
		}
		req.URL.RawQuery = c.withAuth(form).Encode()
		req.Header.Set("User-Agent", version.Full())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("source: request %s: %w", path, err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("source: read response %s: %w", path, err)
		}

		if resp.StatusCode >= 500 {
			return fmt.Errorf("source: server error %d for %s", resp.StatusCode, path)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("source: request %s failed with HTTP %d: %s", path, resp.StatusCode, b))
		}

		body = b
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return err
	}
	if dst == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

func (c *TrelloClient) buildURL(path string, query url.Values) string {
	q := c.withAuth(query)
	return c.baseURL + path + "?" + q.Encode()
}

func (c *TrelloClient) withAuth(v url.Values) url.Values {
	if v == nil {
		v = url.Values{}
	}
	v.Set("key", c.apiKey)
	v.Set("token", c.apiToken)
	return v
}

var _ Client = (*TrelloClient)(nil)
