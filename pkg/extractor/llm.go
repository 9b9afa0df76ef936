package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/codeready-toolchain/boardflow/pkg/models"
	"github.com/codeready-toolchain/boardflow/pkg/version"
)

const systemPrompt = `You extract structured order data from a collaboration board card.
Given the card's name and description, return JSON with this exact shape:
{
  "purchaser": string, "buyer_name": string, "buyer_email": string, "order_summary": string,
  "line_items": [
    {"quantity": number, "raw_price": number, "price_kind": "per_unit"|"total",
     "description": string, "business_line": "signage"|"printing"|"engraving"|"",
     "material": string, "dimensions": string}
  ]
}
If the description is empty, return all fields empty and line_items as an empty array.`

// LLMExtractor calls a chat-completion-style HTTP endpoint to perform
// extraction. Config wiring follows the teacher's "process-wide client with
// explicit init/teardown" shape (pkg/agent/llm_client.go): construct once
// via Init, share the *LLMExtractor across the process, Close on shutdown.
type LLMExtractor struct {
	httpClient *http.Client
	endpoint   string
	modelID    string
	maxInput   int
	timeout    time.Duration
}

// Config configures an LLMExtractor.
type Config struct {
	Endpoint       string        // chat-completion endpoint URL
	ModelID        string        // extractor_model_id
	MaxInputLength int           // max_input_length, default 10000
	Timeout        time.Duration // extractor_timeout_s, default 300s
}

var (
	globalOnce      sync.Once
	globalExtractor *LLMExtractor
	globalInitErr   error
)

// Init builds the process-wide LLMExtractor exactly once. Subsequent calls
// are no-ops and return the first call's error, if any.
func Init(cfg Config) error {
	globalOnce.Do(func() {
		globalExtractor, globalInitErr = New(cfg)
	})
	return globalInitErr
}

// Global returns the process-wide LLMExtractor set up by Init. Panics if
// Init has not been called — mirrors the teacher's fail-fast expectation
// that the LLM client is wired during startup, not lazily.
func Global() *LLMExtractor {
	if globalExtractor == nil {
		panic("extractor: Global called before Init")
	}
	return globalExtractor
}

// Close releases the process-wide extractor's resources. Safe to call even
// if Init was never called.
func Close() error {
	if globalExtractor == nil {
		return nil
	}
	return globalExtractor.Close()
}

// New builds a standalone LLMExtractor, primarily for tests that want their
// own instance rather than the process-wide singleton.
func New(cfg Config) (*LLMExtractor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("extractor: endpoint is required")
	}
	maxInput := cfg.MaxInputLength
	if maxInput <= 0 {
		maxInput = 10000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &LLMExtractor{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   cfg.Endpoint,
		modelID:    cfg.ModelID,
		maxInput:   maxInput,
		timeout:    timeout,
	}, nil
}

func (e *LLMExtractor) Close() error { return nil }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type extractionPayload struct {
	Purchaser    string           `json:"purchaser"`
	BuyerName    string           `json:"buyer_name"`
	BuyerEmail   string           `json:"buyer_email"`
	OrderSummary string           `json:"order_summary"`
	LineItems    []lineItemPayload `json:"line_items"`
}

type lineItemPayload struct {
	Quantity     float64 `json:"quantity"`
	RawPrice     float64 `json:"raw_price"`
	PriceKind    string  `json:"price_kind"`
	Description  string  `json:"description"`
	BusinessLine string  `json:"business_line"`
	Material     string  `json:"material"`
	Dimensions   string  `json:"dimensions"`
}

// Extract implements Extractor. An empty description short-circuits without
// calling the LLM at all, per §4.C policy.
func (e *LLMExtractor) Extract(ctx context.Context, in Input) (*Result, error) {
	if strings.TrimSpace(in.Description) == "" {
		return &Result{}, nil
	}

	userContent := e.truncate(in.Name + "\n\n" + in.Description)

	reqBody := chatRequest{
		Model: e.modelID,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: encode request: %v", ErrExtractionFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrExtractionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.Full())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrExtractionFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrExtractionFailed, resp.StatusCode, body)
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return nil, fmt.Errorf("%w: decode chat response: %v", ErrExtractionFailed, err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrExtractionFailed)
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode extraction payload: %v", ErrExtractionFailed, err)
	}

	items := make([]models.LineItem, len(payload.LineItems))
	for i, li := range payload.LineItems {
		items[i] = models.LineItem{
			Quantity:     li.Quantity,
			RawPrice:     li.RawPrice,
			PriceKind:    models.PriceKind(li.PriceKind),
			Description:  li.Description,
			BusinessLine: models.BusinessLine(li.BusinessLine),
			Material:     li.Material,
			Dimensions:   li.Dimensions,
		}
	}

	return &Result{
		Fields: models.CardFields{
			Purchaser:    payload.Purchaser,
			BuyerName:    payload.BuyerName,
			BuyerEmail:   payload.BuyerEmail,
			OrderSummary: payload.OrderSummary,
		},
		LineItems: applyPostProcessing(in.CardID, items),
	}, nil
}

func (e *LLMExtractor) truncate(s string) string {
	if len(s) <= e.maxInput {
		return s
	}
	return s[:e.maxInput]
}

var _ Extractor = (*LLMExtractor)(nil)
