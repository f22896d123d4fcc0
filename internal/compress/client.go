package compress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/caseloop/contextengine/pkg/types"
)

// Client talks to a remote summarizer service. All HTTP calls are wrapped
// with circuit breaker protection; when the summarizer is down, in-flight
// regenerations fail fast instead of piling up on a dead dependency.
type Client struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	timeout        time.Duration
}

// ClientConfig holds summarizer client configuration.
type ClientConfig struct {
	// BaseURL is the base URL of the summarizer service.
	BaseURL string

	// Timeout is the per-request timeout (default: 15s; compression of a
	// full section can be slow).
	Timeout time.Duration

	// MaxFailures is the consecutive-failure threshold that opens the
	// circuit breaker (default: 3).
	MaxFailures int
}

type compressRequest struct {
	Text       string `json:"text"`
	TargetTier string `json:"target_tier"`
}

type compressResponse struct {
	Compressed string `json:"compressed"`
}

// NewClient creates a summarizer client.
func NewClient(config ClientConfig) *Client {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxFailures <= 0 {
		config.MaxFailures = 3
	}
	return &Client{
		baseURL: config.BaseURL,
		client:  &http.Client{Timeout: config.Timeout},
		circuitBreaker: NewCircuitBreakerWithConfig(CircuitBreakerConfig{
			MaxFailures:          uint32(config.MaxFailures),
			Timeout:              30 * time.Second,
			HalfOpenMaxSuccesses: 2,
		}),
		timeout: config.Timeout,
	}
}

// Compress sends text to the summarizer and returns the compressed rendition
// for the target tier.
func (c *Client) Compress(ctx context.Context, text string, tier types.Tier) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (any, error) {
		return c.compress(ctx, text, tier)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("summarizer circuit breaker open: %w", err)
		}
		return "", err
	}
	return result.(string), nil
}

func (c *Client) compress(ctx context.Context, text string, tier types.Tier) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := compressRequest{Text: text, TargetTier: string(tier)}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/compress", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("summarizer returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed compressResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return parsed.Compressed, nil
}

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() string {
	return c.circuitBreaker.State()
}
