// Package metrics holds the OpenTelemetry instruments recorded by the voice
// pipeline. Tests build a Metrics from an sdkmetric.ManualReader provider;
// components that do not care receive Noop().
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/foxseedlab/rokuon"

const (
	StageTranscribe = "transcribe"
	StageReply      = "reply"
	StageSynthesize = "synthesize"
	StagePlayback   = "playback"
	StageTranscode  = "transcode"
	StageUpload     = "upload"
)

type Metrics struct {
	ActiveSessions metric.Int64UpDownCounter
	ActiveStreams  metric.Int64UpDownCounter
	DecodeErrors   metric.Int64Counter
	Turns          metric.Int64Counter
	StageDuration  metric.Float64Histogram
	Artifacts      metric.Int64Counter
}

var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ActiveSessions, err = m.Int64UpDownCounter("rokuon.sessions.active",
		metric.WithDescription("Voice sessions currently holding a guild slot."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("rokuon.speaker_streams.active",
		metric.WithDescription("Per-speaker capture streams currently running."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("rokuon.decode.errors",
		metric.WithDescription("Voice frames skipped because they failed to decode."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("rokuon.conversation.turns",
		metric.WithDescription("Conversation turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("rokuon.stage.duration",
		metric.WithDescription("Latency of external pipeline stages."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Artifacts, err = m.Int64Counter("rokuon.recording.artifacts",
		metric.WithDescription("Recording artifacts by terminal status."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// Noop returns instruments that record nothing.
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}

func (m *Metrics) RecordStage(ctx context.Context, stage string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StageDuration.Record(ctx, time.Since(started).Seconds(), metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordArtifact(ctx context.Context, status string) {
	m.Artifacts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordDecodeError(ctx context.Context) {
	m.DecodeErrors.Add(ctx, 1)
}

func (m *Metrics) SessionStarted(ctx context.Context, mode string) {
	m.ActiveSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *Metrics) SessionEnded(ctx context.Context, mode string) {
	m.ActiveSessions.Add(ctx, -1, metric.WithAttributes(attribute.String("mode", mode)))
}

func (m *Metrics) StreamStarted(ctx context.Context) {
	m.ActiveStreams.Add(ctx, 1)
}

func (m *Metrics) StreamEnded(ctx context.Context) {
	m.ActiveStreams.Add(ctx, -1)
}
