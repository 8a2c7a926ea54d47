package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foxseedlab/rokuon/internal/webhook"
)

func TestSendRecording_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendRecording(context.Background(), webhook.RecordingPayload{RecordingID: "r1"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendRecording_Success(t *testing.T) {
	var got webhook.RecordingPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	started := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	payload := webhook.RecordingPayload{
		RecordingID:      "r1",
		GuildID:          "g1",
		ChannelID:        "c1",
		Status:           "uploaded",
		URL:              "https://cdn.example/r1.mp3",
		StartedAt:        started,
		EndedAt:          started.Add(time.Minute),
		DurationMs:       60000,
		ParticipantCount: 3,
		ByteSize:         4096,
	}
	sender := NewHTTPSender(server.URL)
	if err := sender.SendRecording(context.Background(), payload); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.RecordingID != "r1" || got.URL != payload.URL || got.ParticipantCount != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if !got.StartedAt.Equal(started) {
		t.Fatalf("unexpected started_at: %s", got.StartedAt)
	}
}

func TestSendRecording_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendRecording(context.Background(), webhook.RecordingPayload{RecordingID: "r1"}); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
