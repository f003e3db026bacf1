// Package imgapi provides typed access to the image generation provider.
package imgapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bot-gambar/internal/metrics"
)

var (
	// ErrNotConfigured indicates the provider API key is missing.
	ErrNotConfigured = errors.New("image provider not configured")
	// ErrEmptyResult indicates the provider returned no usable image URL.
	ErrEmptyResult = errors.New("image provider returned no result")
)

// Config holds image provider client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Size    string
	Timeout time.Duration
}

// Client calls the image generation provider over HTTP.
type Client struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	baseURL string
	apiKey  string
	size    string
	timeout time.Duration
	http    *http.Client
}

// New creates a new image provider client.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com"
	}
	size := cfg.Size
	if size == "" {
		size = "1024x1024"
	}
	// A hung provider call is bounded by this ceiling and then treated as a
	// provider failure, which triggers the caller's refund path.
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "imgapi"),
		metrics: m,
		baseURL: base,
		apiKey:  cfg.APIKey,
		size:    size,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type generateResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate requests images for the given prompt and returns the result URLs.
// The response must be a non-empty list whose first element is a well-formed
// https URL; anything else is reported as a provider error.
func (c *Client) Generate(ctx context.Context, prompt string) ([]string, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(generateRequest{Prompt: prompt, N: 1, Size: c.size})
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	reqURL := c.baseURL + "/v1/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe("error", start)
		return nil, fmt.Errorf("image provider request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		c.observe("error", start)
		return nil, fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 400 {
		c.observe(fmt.Sprintf("%d", res.StatusCode), start)
		return nil, classifyHTTPError(res.StatusCode, body)
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		c.observe("decode_error", start)
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil {
		c.observe("provider_error", start)
		return nil, fmt.Errorf("image provider error: %s", decoded.Error.Message)
	}

	urls := make([]string, 0, len(decoded.Data))
	for _, entry := range decoded.Data {
		if entry.URL != "" {
			urls = append(urls, entry.URL)
		}
	}
	if len(urls) == 0 {
		c.observe("empty", start)
		return nil, ErrEmptyResult
	}
	if !secureURL(urls[0]) {
		c.observe("bad_url", start)
		return nil, fmt.Errorf("image provider returned malformed url: %q", urls[0])
	}

	c.observe("ok", start)
	return urls, nil
}

func (c *Client) observe(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.GenerationRequests.WithLabelValues(status).Inc()
	c.metrics.GenerationLatency.WithLabelValues(status).Observe(time.Since(start).Seconds())
}

func classifyHTTPError(status int, body []byte) error {
	snippet := strings.TrimSpace(string(body))
	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != nil {
		snippet = decoded.Error.Message
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrNotConfigured, snippet)
	}
	return fmt.Errorf("image provider error: status=%d %s", status, snippet)
}

func secureURL(raw string) bool {
	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return parsed.Scheme == "https" && parsed.Host != ""
}
