// Package nlu wraps the chat model used for prompt refinement and freeform
// conversation.
package nlu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bot-gambar/internal/metrics"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrNotConfigured indicates no API key was provided at startup. Callers
// fail the current request; the process keeps running.
var ErrNotConfigured = errors.New("chat model not configured")

// refineInstruction bounds refinement to a fixed structural template.
const refineInstruction = "You are a prompt engineer for an image generation model. " +
	"Rewrite the user's request into a single richly detailed prompt made of exactly four clauses in this order: " +
	"an art style clause, a scene clause, a background clause, and a lighting clause. " +
	"Keep the user's subject and constraints. Reply with the prompt text only."

const chatInstruction = "You are a friendly assistant for an image-creation chat bot. " +
	"Answer briefly and conversationally. Do not invent capabilities beyond chatting and making images."

// Config holds chat model configuration.
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Client provides typed access to the chat model.
type Client struct {
	api     openai.Client
	logger  *slog.Logger
	metrics *metrics.Metrics
	model   string
	timeout time.Duration
	enabled bool
}

// Turn is one prior exchange supplied as conversation context.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// New creates a chat model client. A missing API key is tolerated here and
// surfaced as ErrNotConfigured per call.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		api:     openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		logger:  logger.With("component", "nlu"),
		metrics: m,
		model:   model,
		timeout: timeout,
		enabled: cfg.APIKey != "",
	}
}

// RefinePrompt rewrites a raw image request into the structured template.
func (c *Client) RefinePrompt(ctx context.Context, raw string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(refineInstruction),
		openai.UserMessage(raw),
	}
	return c.complete(ctx, "refine", messages)
}

// Chat produces a conversational reply using recent history as context.
func (c *Client) Chat(ctx context.Context, history []Turn, text string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(chatInstruction))
	for _, turn := range history {
		if turn.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(turn.Content))
		} else {
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	messages = append(messages, openai.UserMessage(text))
	return c.complete(ctx, "chat", messages)
}

func (c *Client) complete(ctx context.Context, operation string, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	if !c.enabled {
		return "", ErrNotConfigured
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: messages,
	})
	duration := time.Since(start).Seconds()

	status := "ok"
	if err != nil {
		status = "error"
	}
	if c.metrics != nil {
		c.metrics.ChatModelRequests.WithLabelValues(operation, status).Inc()
		c.metrics.ChatModelLatency.WithLabelValues(operation, status).Observe(duration)
	}

	if err != nil {
		return "", fmt.Errorf("chat completion (%s): %w", operation, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion (%s): empty choices", operation)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("chat completion (%s): empty content", operation)
	}
	return content, nil
}
