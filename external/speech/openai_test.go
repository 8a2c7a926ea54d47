package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/openai/openai-go/option"
)

type speechRequest struct {
	Input          string `json:"input"`
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

func sine(samples, rate int) []byte {
	out := make([]int16, samples)
	for i := range out {
		out[i] = int16(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
	}
	return audio.SamplesToBytes(out)
}

func newSpeechServer(t *testing.T, body []byte, got *speechRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSynthesize_RequestsPCMAndPassesThroughAtNativeRate(t *testing.T) {
	pcm := sine(960, audio.SampleRate)
	var got speechRequest
	srv := newSpeechServer(t, pcm, &got)

	s := NewOpenAISynthesizer(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "tts-1", Voice: "alloy"}, option.WithMaxRetries(0))
	s.sourceRate = audio.SampleRate

	out, err := s.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, pcm) {
		t.Fatal("expected pcm to pass through unchanged")
	}
	if got.Input != "hello" || got.Model != "tts-1" || got.Voice != "alloy" || got.ResponseFormat != "pcm" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestSynthesize_ResamplesTo48k(t *testing.T) {
	srv := newSpeechServer(t, sine(openAISpeechSampleRate/2, openAISpeechSampleRate), nil)

	s := NewOpenAISynthesizer(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "tts-1", Voice: "alloy"}, option.WithMaxRetries(0))
	out, err := s.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 || len(out)%audio.BytesPerSample != 0 {
		t.Fatalf("unexpected output length %d", len(out))
	}
	// Half a second of audio at 48 kHz, allowing for filter latency.
	want := audio.SampleRate / 2 * audio.BytesPerSample
	if len(out) > want+want/10 {
		t.Fatalf("output too long: got %d bytes, want about %d", len(out), want)
	}
}

func TestSynthesize_EmptyBody(t *testing.T) {
	srv := newSpeechServer(t, []byte{0x01}, nil)

	s := NewOpenAISynthesizer(OpenAIConfig{APIKey: "k", BaseURL: srv.URL, Model: "tts-1", Voice: "alloy"}, option.WithMaxRetries(0))
	if _, err := s.Synthesize(context.Background(), "hello"); !errors.Is(err, errEmptySpeech) {
		t.Fatalf("expected errEmptySpeech, got %v", err)
	}
}
