// Package wa integrates with the WhatsApp Business Cloud API: an HTTP client
// for outbound sends and a webhook handler for inbound events.
package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bot-gambar/internal/metrics"
)

// ErrNotConfigured indicates the access token or sender ID is missing.
var ErrNotConfigured = errors.New("whatsapp sender not configured")

// Config holds configuration for the Cloud API client.
type Config struct {
	BaseURL       string
	AccessToken   string
	PhoneNumberID string
	Timeout       time.Duration
}

// Client sends messages through the Cloud API messages endpoint.
type Client struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	baseURL       string
	accessToken   string
	phoneNumberID string
	http          *http.Client
}

// New creates a new Cloud API client. Missing credentials are tolerated here
// and surfaced as ErrNotConfigured on send.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://graph.facebook.com/v21.0"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:        logger.With("component", "wa"),
		metrics:       m,
		baseURL:       base,
		accessToken:   cfg.AccessToken,
		phoneNumberID: cfg.PhoneNumberID,
		http:          &http.Client{Timeout: timeout},
	}
}

type sendEnvelope struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             *textPayload `json:"text,omitempty"`
	Image            *linkPayload `json:"image,omitempty"`
}

type textPayload struct {
	Body string `json:"body"`
}

type linkPayload struct {
	Link    string `json:"link"`
	Caption string `json:"caption,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendText sends a plain text message and returns the provider message ID.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	id, err := c.send(ctx, sendEnvelope{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: text},
	})
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues("text").Inc()
	}
	return id, nil
}

// SendImage sends an image by URL with a caption and returns the provider
// message ID.
func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) (string, error) {
	id, err := c.send(ctx, sendEnvelope{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "image",
		Image:            &linkPayload{Link: imageURL, Caption: caption},
	})
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.OutgoingMessages.WithLabelValues("image").Inc()
	}
	return id, nil
}

func (c *Client) send(ctx context.Context, envelope sendEnvelope) (string, error) {
	if c.accessToken == "" || c.phoneNumberID == "" {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal send payload: %w", err)
	}

	reqURL := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp send: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var decoded sendResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if res.StatusCode >= 400 || decoded.Error != nil {
		message := strings.TrimSpace(string(body))
		if decoded.Error != nil {
			message = decoded.Error.Message
		}
		if res.StatusCode == http.StatusUnauthorized {
			return "", fmt.Errorf("%w: %s", ErrNotConfigured, message)
		}
		return "", fmt.Errorf("whatsapp send error: status=%d %s", res.StatusCode, message)
	}

	if len(decoded.Messages) == 0 || decoded.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp send: response missing message id")
	}
	return decoded.Messages[0].ID, nil
}
