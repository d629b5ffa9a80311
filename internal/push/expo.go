// Package push implements the Expo push gateway client.
//
// Expo accepts up to 100 messages per request and returns one ticket per
// message in order; a partially failing batch is normal and surfaces as
// per-ticket error statuses, not an HTTP error.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/emberlog/streakd/internal/notify"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// DefaultBaseURL is the Expo push send endpoint.
	DefaultBaseURL = "https://exp.host/--/api/v2/push/send"

	maxPerRequest     = 100 // Expo hard limit per send call
	requestTimeout    = 30 * time.Second
	requestsPerSecond = 5
)

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

// Client sends push batches to the Expo gateway.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates an Expo push client with rate limiting.
func NewClient(baseURL, accessToken string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient:  &http.Client{Timeout: requestTimeout},
		baseURL:     baseURL,
		accessToken: accessToken,
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		logger:      logger,
	}
}

// expoMessage is the wire shape of one push message.
type expoMessage struct {
	To       string            `json:"to"`
	Sound    string            `json:"sound"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority"`
}

// ticket is one per-message result from Expo.
type ticket struct {
	Status  string `json:"status"` // "ok" | "error"
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// ticketResponse is the Expo send response wrapper.
type ticketResponse struct {
	Data []ticket `json:"data"`
}

// SendBatch sends all messages in request-sized chunks and returns one
// outcome per message, in order. A chunk-level transport failure marks that
// chunk's messages as gateway errors and the remaining chunks still send.
func (c *Client) SendBatch(ctx context.Context, msgs []notify.Message) ([]notify.DeliveryOutcome, error) {
	outcomes := make([]notify.DeliveryOutcome, 0, len(msgs))

	for start := 0; start < len(msgs); start += maxPerRequest {
		end := min(start+maxPerRequest, len(msgs))
		chunk := msgs[start:end]

		chunkOutcomes, err := c.sendChunk(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Warn("expo chunk send failed", "messages", len(chunk), "error", err)
			for range chunk {
				outcomes = append(outcomes, notify.DeliveryOutcome{
					Status: notify.OutcomeGatewayError,
					Reason: err.Error(),
				})
			}
			continue
		}
		outcomes = append(outcomes, chunkOutcomes...)
	}
	return outcomes, nil
}

func (c *Client) sendChunk(ctx context.Context, chunk []notify.Message) ([]notify.DeliveryOutcome, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	wire := make([]expoMessage, len(chunk))
	for i, m := range chunk {
		wire[i] = expoMessage{
			To:       m.Token,
			Sound:    "default",
			Title:    m.Title,
			Body:     m.Body,
			Data:     m.Data,
			Priority: "high",
		}
	}

	payload, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expo push returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var result ticketResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Data) != len(chunk) {
		return nil, fmt.Errorf("expo returned %d tickets for %d messages", len(result.Data), len(chunk))
	}

	outcomes := make([]notify.DeliveryOutcome, len(chunk))
	for i, t := range result.Data {
		if t.Status == "ok" {
			outcomes[i] = notify.DeliveryOutcome{Status: notify.OutcomeDelivered}
			continue
		}
		reason := t.Details.Error
		if reason == "" {
			reason = t.Message
		}
		outcomes[i] = notify.DeliveryOutcome{Status: notify.OutcomeRejected, Reason: reason}
	}
	return outcomes, nil
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
