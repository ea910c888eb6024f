package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foxseedlab/livescribe/internal/webhook"
)

func TestSendTranscript_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendTranscript(context.Background(), webhook.TranscriptWebhookPayload{}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendTranscript_Success(t *testing.T) {
	var got webhook.TranscriptWebhookPayload
	var gotSchemaHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		gotSchemaHeader = r.Header.Get("X-Livescribe-Schema-Version")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	payload := webhook.TranscriptWebhookPayload{
		SchemaVersion: webhook.TranscriptWebhookSchemaVersion,
		SessionID:     "session-1",
		StopReason:    "capture_ended",
		SegmentCount:  1,
		TranscriptSegments: []webhook.TranscriptWebhookSegment{
			{Index: 0, StartOffset: 0, EndOffset: 1.2, Transcript: "hello"},
		},
		Transcript: "hello",
	}
	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), payload); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.SessionID != "session-1" || got.StopReason != "capture_ended" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.TranscriptSegments) != 1 || got.TranscriptSegments[0].EndOffset != 1.2 {
		t.Fatalf("unexpected segments: %+v", got.TranscriptSegments)
	}
	if gotSchemaHeader != webhook.TranscriptWebhookSchemaVersion {
		t.Fatalf("unexpected schema header: %s", gotSchemaHeader)
	}
}

func TestSendTranscript_Non2xxIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), webhook.TranscriptWebhookPayload{}); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
