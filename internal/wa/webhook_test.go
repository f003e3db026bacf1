package wa

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type captureProcessor struct {
	messages []InboundMessage
	statuses []StatusUpdate
	fail     bool
}

func (p *captureProcessor) ProcessIncoming(_ context.Context, msg InboundMessage) error {
	if p.fail {
		return errors.New("boom")
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *captureProcessor) ProcessStatus(_ context.Context, update StatusUpdate) error {
	if p.fail {
		return errors.New("boom")
	}
	p.statuses = append(p.statuses, update)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestVerificationEchoesChallenge(t *testing.T) {
	h := NewWebhookHandler(testLogger(), nil, "secret-token", &captureProcessor{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "12345" {
		t.Fatalf("expected challenge echoed, got %q", body)
	}
}

func TestVerificationRejectsBadToken(t *testing.T) {
	h := NewWebhookHandler(testLogger(), nil, "secret-token", &captureProcessor{})

	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestVerificationRejectsWhenTokenUnset(t *testing.T) {
	h := NewWebhookHandler(testLogger(), nil, "", &captureProcessor{})

	// An empty configured token must never validate, even against an empty
	// incoming token.
	req := httptest.NewRequest(http.MethodGet,
		"/webhook/whatsapp?hub.mode=subscribe&hub.verify_token=&hub.challenge=12345", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestUnknownPayloadIsAcknowledged(t *testing.T) {
	proc := &captureProcessor{}
	h := NewWebhookHandler(testLogger(), nil, "secret-token", proc)

	for _, body := range []string{"not json", `{"object":"page"}`, `{}`} {
		req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(body))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for %q, got %d", body, rec.Code)
		}
	}
	if len(proc.messages) != 0 || len(proc.statuses) != 0 {
		t.Fatal("no events should reach the processor for unknown payloads")
	}
}

const sampleEventBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "changes": [{
      "value": {
        "contacts": [{"profile": {"name": "Jane"}, "wa_id": "15550001111"}],
        "messages": [{
          "from": "15550001111",
          "id": "wamid.incoming.1",
          "timestamp": "1756400000",
          "type": "text",
          "text": {"body": "draw a cat"}
        }],
        "statuses": [{
          "id": "wamid.outgoing.1",
          "status": "DELIVERED",
          "timestamp": "1756400001"
        }]
      }
    }]
  }]
}`

func TestEventDispatch(t *testing.T) {
	proc := &captureProcessor{}
	h := NewWebhookHandler(testLogger(), nil, "secret-token", proc)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(sampleEventBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(proc.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(proc.messages))
	}
	msg := proc.messages[0]
	if msg.ExternalID != "wamid.incoming.1" || msg.From != "15550001111" {
		t.Fatalf("unexpected message identity: %+v", msg)
	}
	if msg.ProfileName != "Jane" || msg.Kind != "text" || msg.Text != "draw a cat" {
		t.Fatalf("unexpected message content: %+v", msg)
	}

	if len(proc.statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(proc.statuses))
	}
	if st := proc.statuses[0]; st.ExternalID != "wamid.outgoing.1" || st.Status != "delivered" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestProcessorErrorReturns500(t *testing.T) {
	proc := &captureProcessor{fail: true}
	h := NewWebhookHandler(testLogger(), nil, "secret-token", proc)

	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(sampleEventBody))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := NewWebhookHandler(testLogger(), nil, "secret-token", &captureProcessor{})

	req := httptest.NewRequest(http.MethodDelete, "/webhook/whatsapp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
