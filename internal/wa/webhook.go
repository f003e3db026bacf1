package wa

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bot-gambar/internal/metrics"
)

// InboundMessage is one user message extracted from a webhook delivery.
type InboundMessage struct {
	ExternalID  string
	From        string
	ProfileName string
	Kind        string
	Text        string
	Timestamp   time.Time
}

// StatusUpdate is one delivery-status callback for a previously sent message.
type StatusUpdate struct {
	ExternalID string
	Status     string
	Timestamp  time.Time
}

// EventProcessor handles webhook events after shape validation.
type EventProcessor interface {
	ProcessIncoming(ctx context.Context, msg InboundMessage) error
	ProcessStatus(ctx context.Context, update StatusUpdate) error
}

// WebhookHandler performs the platform handshake and shape validation before
// handing events to the processor.
type WebhookHandler struct {
	logger      *slog.Logger
	metrics     *metrics.Metrics
	verifyToken string
	processor   EventProcessor
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(logger *slog.Logger, m *metrics.Metrics, verifyToken string, processor EventProcessor) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger.With("component", "wa_webhook"),
		metrics:     m,
		verifyToken: verifyToken,
		processor:   processor,
	}
}

// webhookEnvelope mirrors the Cloud API event shape.
type webhookEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		Changes []struct {
			Value struct {
				Contacts []struct {
					Profile struct {
						Name string `json:"name"`
					} `json:"profile"`
					WAID string `json:"wa_id"`
				} `json:"contacts"`
				Messages []struct {
					From      string `json:"from"`
					ID        string `json:"id"`
					Timestamp string `json:"timestamp"`
					Type      string `json:"type"`
					Text      struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
				Statuses []struct {
					ID        string `json:"id"`
					Status    string `json:"status"`
					Timestamp string `json:"timestamp"`
				} `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// ServeHTTP satisfies http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleVerification(w, r)
	case http.MethodPost:
		h.handleEvent(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerification echoes the challenge iff the verify token matches.
func (h *WebhookHandler) handleVerification(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode != "subscribe" || h.verifyToken == "" || token != h.verifyToken {
		h.logger.Warn("webhook verification rejected", "mode", mode)
		http.Error(w, "verification failed", http.StatusForbidden)
		return
	}

	h.logger.Info("webhook verified")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(challenge))
}

func (h *WebhookHandler) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Unknown shapes are acknowledged so the platform does not retry.
		h.logger.Debug("ignoring malformed webhook payload", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	messages, statuses := flatten(envelope)
	if len(messages) == 0 && len(statuses) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if h.processor == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	for _, msg := range messages {
		if h.metrics != nil {
			h.metrics.WebhookEvents.WithLabelValues("message").Inc()
		}
		if err := h.processor.ProcessIncoming(r.Context(), msg); err != nil {
			h.logger.Error("failed processing inbound message", "error", err, "external_id", msg.ExternalID)
			if h.metrics != nil {
				h.metrics.Errors.WithLabelValues("wa_webhook").Inc()
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
	}

	for _, update := range statuses {
		if h.metrics != nil {
			h.metrics.WebhookEvents.WithLabelValues("status").Inc()
		}
		if err := h.processor.ProcessStatus(r.Context(), update); err != nil {
			h.logger.Error("failed processing status update", "error", err, "external_id", update.ExternalID)
			if h.metrics != nil {
				h.metrics.Errors.WithLabelValues("wa_webhook").Inc()
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func flatten(envelope webhookEnvelope) ([]InboundMessage, []StatusUpdate) {
	var messages []InboundMessage
	var statuses []StatusUpdate

	for _, entry := range envelope.Entry {
		for _, change := range entry.Changes {
			value := change.Value

			names := map[string]string{}
			for _, contact := range value.Contacts {
				if contact.WAID != "" {
					names[contact.WAID] = contact.Profile.Name
				}
			}

			for _, msg := range value.Messages {
				if msg.ID == "" || msg.From == "" {
					continue
				}
				messages = append(messages, InboundMessage{
					ExternalID:  msg.ID,
					From:        msg.From,
					ProfileName: names[msg.From],
					Kind:        msg.Type,
					Text:        msg.Text.Body,
					Timestamp:   parseUnix(msg.Timestamp),
				})
			}

			for _, st := range value.Statuses {
				if st.ID == "" || st.Status == "" {
					continue
				}
				statuses = append(statuses, StatusUpdate{
					ExternalID: st.ID,
					Status:     strings.ToLower(st.Status),
					Timestamp:  parseUnix(st.Timestamp),
				})
			}
		}
	}

	return messages, statuses
}

func parseUnix(raw string) time.Time {
	if secs, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0)
	}
	return time.Now()
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
