package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/rokuon/internal/metrics"
	"github.com/foxseedlab/rokuon/internal/repository"
	"github.com/foxseedlab/rokuon/internal/storage"
	"github.com/foxseedlab/rokuon/internal/transcode"
	"github.com/google/uuid"
)

const logWriteTimeout = 10 * time.Second

// Notifier is told about every artifact that reached a terminal status.
type Notifier interface {
	RecordingFinished(ctx context.Context, artifact Artifact)
}

type ProcessorConfig struct {
	Dir              string
	MinBytes         int64
	TranscodeTimeout time.Duration
	UploadTimeout    time.Duration
}

type Processor struct {
	transcoder transcode.Transcoder
	store      storage.ArtifactStore
	log        repository.RecordingLog
	notifier   Notifier
	metrics    *metrics.Metrics
	cfg        ProcessorConfig
	now        func() time.Time
}

func NewProcessor(tc transcode.Transcoder, store storage.ArtifactStore, log repository.RecordingLog, notifier Notifier, m *metrics.Metrics, cfg ProcessorConfig) *Processor {
	if m == nil {
		m = metrics.Noop()
	}
	return &Processor{
		transcoder: tc,
		store:      store,
		log:        log,
		notifier:   notifier,
		metrics:    m,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Begin creates the artifact, its log row and the sink capturing into it.
func (p *Processor) Begin(ctx context.Context, guildID, channelID string) (*Artifact, *Sink, error) {
	if err := os.MkdirAll(p.cfg.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create recordings dir: %w", err)
	}
	startedAt := p.now()
	base := fmt.Sprintf("%s_%s_%s", guildID, channelID, strconv.FormatInt(startedAt.UnixMilli(), 10))
	a := &Artifact{
		ID:          uuid.NewString(),
		GuildID:     guildID,
		ChannelID:   channelID,
		RawPath:     filepath.Join(p.cfg.Dir, base+".pcm"),
		EncodedPath: filepath.Join(p.cfg.Dir, base+".mp3"),
		StartedAt:   startedAt,
		Status:      repository.RecordingStatusCapturing,
	}
	sink, err := NewSink(a.RawPath)
	if err != nil {
		return nil, nil, err
	}
	if _, err := p.log.CreateRecording(ctx, repository.CreateRecordingInput{
		ID:        a.ID,
		GuildID:   guildID,
		ChannelID: channelID,
		StartedAt: startedAt,
	}); err != nil {
		sink.Close()
		removeFile(a.RawPath)
		return nil, nil, fmt.Errorf("create recording log entry: %w", err)
	}
	return a, sink, nil
}

// Finish stamps the capture summary onto the artifact.
func (p *Processor) Finish(a *Artifact, summary Summary) {
	a.EndedAt = p.now()
	a.DurationMs = a.EndedAt.Sub(a.StartedAt).Milliseconds()
	a.ParticipantCount = len(summary.Participants)
	a.ByteSize = summary.Bytes
	if summary.WriteErr != nil {
		slog.Warn("raw recording had write errors", "artifact_id", a.ID, "error", summary.WriteErr)
	}
}

// Recent lists the guild's uploaded recordings, newest first.
func (p *Processor) Recent(ctx context.Context, guildID string, limit int) ([]*repository.Recording, error) {
	return p.log.ListRecordings(ctx, guildID, limit)
}

// Process drives a finished capture to a terminal status and notifies.
// Artifacts under the byte floor are discarded without transcoding.
func (p *Processor) Process(ctx context.Context, a *Artifact) error {
	err := p.process(ctx, a)
	p.metrics.RecordArtifact(ctx, string(a.Status))
	if p.notifier != nil {
		p.notifier.RecordingFinished(ctx, *a)
	}
	return err
}

// Abandon drops a capture whose session never went Active. The log row is
// marked discarded and nobody is notified.
func (p *Processor) Abandon(ctx context.Context, a *Artifact) {
	removeFile(a.RawPath)
	if err := p.advance(ctx, a, repository.RecordingStatusDiscarded); err != nil {
		slog.Warn("failed to discard abandoned recording", "artifact_id", a.ID, "status", a.Status, "error", err)
	}
}

func (p *Processor) process(ctx context.Context, a *Artifact) error {
	logger := slog.With("artifact_id", a.ID, "guild_id", a.GuildID, "channel_id", a.ChannelID)

	if a.ByteSize < p.cfg.MinBytes {
		logger.Info("recording too short; discarding", "bytes", a.ByteSize, "min_bytes", p.cfg.MinBytes)
		removeFile(a.RawPath)
		return p.advance(ctx, a, repository.RecordingStatusDiscarded)
	}

	if err := p.advance(ctx, a, repository.RecordingStatusConverting); err != nil {
		return err
	}
	if err := p.transcode(ctx, a); err != nil {
		logger.Error("transcode failed", "error", err)
		return errors.Join(err, p.failWith(ctx, a, err))
	}
	if info, err := os.Stat(a.EncodedPath); err == nil {
		a.ByteSize = info.Size()
	}

	if err := p.advance(ctx, a, repository.RecordingStatusUploading); err != nil {
		return err
	}
	res, err := p.upload(ctx, a)
	if err != nil {
		logger.Error("upload failed; keeping encoded file", "path", a.EncodedPath, "error", err)
		return errors.Join(err, p.failWith(ctx, a, err))
	}
	a.URL = res.URL
	if err := p.advance(ctx, a, repository.RecordingStatusUploaded); err != nil {
		return err
	}
	removeFile(a.EncodedPath)
	logger.Info("recording uploaded", "url", a.URL, "duration_ms", a.DurationMs, "participants", a.ParticipantCount)
	return nil
}

func (p *Processor) transcode(ctx context.Context, a *Artifact) error {
	tctx, cancel := context.WithTimeout(ctx, p.cfg.TranscodeTimeout)
	defer cancel()
	started := time.Now()
	err := p.transcoder.Transcode(tctx, a.RawPath, a.EncodedPath)
	p.metrics.RecordStage(ctx, metrics.StageTranscode, started, err)
	removeFile(a.RawPath)
	if err != nil {
		removeFile(a.EncodedPath)
		var tcErr *transcode.TranscodeError
		if !errors.As(err, &tcErr) {
			err = &transcode.TranscodeError{Err: err}
		}
		return err
	}
	return nil
}

func (p *Processor) upload(ctx context.Context, a *Artifact) (storage.UploadResult, error) {
	uctx, cancel := context.WithTimeout(ctx, p.cfg.UploadTimeout)
	defer cancel()
	started := time.Now()
	key := ObjectKey(a)
	res, err := p.store.Upload(uctx, a.EncodedPath, key)
	p.metrics.RecordStage(ctx, metrics.StageUpload, started, err)
	if err != nil {
		var upErr *storage.UploadError
		if !errors.As(err, &upErr) {
			err = &storage.UploadError{Name: key, Err: err}
		}
		return storage.UploadResult{}, err
	}
	return res, nil
}

func (p *Processor) advance(ctx context.Context, a *Artifact, to repository.RecordingStatus) error {
	if err := a.Advance(to); err != nil {
		return err
	}
	p.writeLog(ctx, a)
	return nil
}

func (p *Processor) failWith(ctx context.Context, a *Artifact, cause error) error {
	if err := a.fail(cause.Error()); err != nil {
		return err
	}
	p.writeLog(ctx, a)
	return nil
}

// writeLog never fails processing; the artifact on disk and in storage matters
// more than its bookkeeping row.
func (p *Processor) writeLog(ctx context.Context, a *Artifact) {
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
	defer cancel()
	if err := p.log.UpdateRecording(lctx, a.updateInput()); err != nil {
		slog.Error("failed to update recording log", "artifact_id", a.ID, "status", a.Status, "error", err)
	}
}

// ObjectKey is "<artifact id>/<UploadName>". The id keeps two recordings of
// the same channel on the same day from sharing an object.
func ObjectKey(a *Artifact) string {
	return a.ID + "/" + UploadName(a)
}

// UploadName is "<guild>_<channel>_<YYYY-MM-DD>.mp3" using resolved names
// when available.
func UploadName(a *Artifact) string {
	guild := firstNonEmpty(a.GuildName, a.GuildID)
	channel := firstNonEmpty(a.ChannelName, a.ChannelID)
	return fmt.Sprintf("%s_%s_%s.mp3", sanitizeName(guild), sanitizeName(channel), a.StartedAt.UTC().Format(time.DateOnly))
}

var nameReplacer = strings.NewReplacer("/", "-", "\\", "-", "\n", " ", "\r", " ")

func sanitizeName(s string) string {
	return strings.TrimSpace(nameReplacer.Replace(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func removeFile(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to remove recording file", "path", path, "error", err)
	}
}
