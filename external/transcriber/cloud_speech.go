package transcriber

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"cloud.google.com/go/auth/credentials"
	speech "cloud.google.com/go/speech/apiv2"
	speechpb "cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/foxseedlab/rokuon/internal/transcriber"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	speechAPIEndpointPort = 443
	maxRecognizeAttempts  = 2
)

type CloudSpeechConfig struct {
	ProjectID       string
	CredentialsJSON string
	Language        string
	Location        string
	Model           string
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// CloudSpeechTranscriber sends each utterance to Cloud Speech-to-Text v2 as
// a single batch Recognize call. The gRPC client is created on first use.
type CloudSpeechTranscriber struct {
	projectID       string
	credentialsJSON string
	language        string
	location        string
	model           string

	once      sync.Once
	initErr   error
	client    *speech.Client
	recognize recognizeFunc
}

func NewCloudSpeechTranscriber(cfg CloudSpeechConfig) *CloudSpeechTranscriber {
	return &CloudSpeechTranscriber{
		projectID:       cfg.ProjectID,
		credentialsJSON: cfg.CredentialsJSON,
		language:        cfg.Language,
		location:        strings.TrimSpace(cfg.Location),
		model:           strings.TrimSpace(cfg.Model),
	}
}

func (t *CloudSpeechTranscriber) init(ctx context.Context) error {
	t.once.Do(func() {
		if t.recognize != nil {
			return
		}
		slog.Info("creating cloud speech client", "location", t.location, "model", t.model)
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			CredentialsJSON: []byte(t.credentialsJSON),
			Scopes:          []string{"https://www.googleapis.com/auth/cloud-platform"},
		})
		if err != nil {
			t.initErr = fmt.Errorf("detect credentials: %w", err)
			return
		}
		opts := []option.ClientOption{
			option.WithAuthCredentials(creds),
		}
		if t.location != "global" {
			opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", t.location, speechAPIEndpointPort)))
		}
		client, err := speech.NewClient(context.WithoutCancel(ctx), opts...)
		if err != nil {
			t.initErr = fmt.Errorf("create speech client: %w", err)
			return
		}
		t.client = client
		t.recognize = func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
			return client.Recognize(ctx, req)
		}
	})
	return t.initErr
}

func (t *CloudSpeechTranscriber) Transcribe(ctx context.Context, audio []byte, format transcriber.AudioFormat) (string, error) {
	if format != transcriber.FormatWAV {
		return "", fmt.Errorf("unsupported audio format %q", format)
	}
	if err := t.init(ctx); err != nil {
		return "", err
	}

	req := &speechpb.RecognizeRequest{
		Recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", t.projectID, t.location),
		Config: &speechpb.RecognitionConfig{
			Model:         t.model,
			LanguageCodes: []string{t.language},
			// The WAV header carries rate and channel count.
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
			Features: &speechpb.RecognitionFeatures{},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: audio},
	}

	var (
		resp *speechpb.RecognizeResponse
		err  error
	)
	for attempt := 1; attempt <= maxRecognizeAttempts; attempt++ {
		resp, err = t.recognize(ctx, req)
		if err == nil || !isRetryableRecognizeError(err) || ctx.Err() != nil {
			break
		}
		slog.Warn("cloud speech recognize failed with retryable error", "attempt", attempt, "error", err)
	}
	if err != nil {
		return "", fmt.Errorf("cloud speech recognize: %w", err)
	}

	parts := make([]string, 0, len(resp.GetResults()))
	for _, result := range resp.GetResults() {
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		if text := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (t *CloudSpeechTranscriber) Close() error {
	if t.client == nil {
		return nil
	}
	return t.client.Close()
}

func isRetryableRecognizeError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.Aborted:
		return true
	default:
		return false
	}
}
