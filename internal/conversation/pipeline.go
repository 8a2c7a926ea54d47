package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/rokuon/internal/audio"
	"github.com/foxseedlab/rokuon/internal/metrics"
	"github.com/foxseedlab/rokuon/internal/responder"
	"github.com/foxseedlab/rokuon/internal/speech"
	"github.com/foxseedlab/rokuon/internal/transcriber"
)

const (
	StageTranscribe = metrics.StageTranscribe
	StageReply      = metrics.StageReply
	StageSynthesize = metrics.StageSynthesize
	StagePlayback   = metrics.StagePlayback
)

const (
	OutcomeCompleted       = "completed"
	OutcomeEmptyTranscript = "empty_transcript"
	OutcomeFailed          = "failed"
	OutcomeTooShort        = "too_short"
	OutcomeCanceled        = "canceled"
)

// StageError aborts a single turn; the session keeps running.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Player is the single audio output of a voice connection.
type Player interface {
	Play(ctx context.Context, pcm []byte) error
}

type PipelineConfig struct {
	StageTimeout time.Duration
}

// Pipeline turns finalized utterances into spoken replies. Every turn runs on
// its own goroutine; playback order is whatever order the player is reached.
type Pipeline struct {
	stt     transcriber.Transcriber
	llm     responder.Responder
	tts     speech.Synthesizer
	player  Player
	metrics *metrics.Metrics
	cfg     PipelineConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewPipeline(stt transcriber.Transcriber, llm responder.Responder, tts speech.Synthesizer, player Player, m *metrics.Metrics, cfg PipelineConfig) *Pipeline {
	if m == nil {
		m = metrics.Noop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		stt:     stt,
		llm:     llm,
		tts:     tts,
		player:  player,
		metrics: m,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// HandleTurn processes turn in the background. Turns submitted after Close
// are dropped.
func (p *Pipeline) HandleTurn(turn Turn) {
	if !p.spawn(func(ctx context.Context) {
		outcome := OutcomeCompleted
		err := p.Process(ctx, turn)
		switch {
		case errors.Is(err, errEmptyTranscript):
			outcome = OutcomeEmptyTranscript
		case err != nil && ctx.Err() != nil:
			outcome = OutcomeCanceled
		case err != nil:
			outcome = OutcomeFailed
			var stageErr *StageError
			if errors.As(err, &stageErr) {
				slog.Warn("conversation turn aborted", "user_id", turn.UserID, "stage", stageErr.Stage, "error", stageErr.Err)
			}
		}
		p.metrics.RecordTurn(ctx, outcome)
	}) {
		slog.Debug("pipeline closed; dropping turn", "user_id", turn.UserID)
	}
}

// Say synthesizes and plays text in the background.
func (p *Pipeline) Say(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	p.spawn(func(ctx context.Context) {
		if err := p.speak(ctx, text); err != nil && ctx.Err() == nil {
			slog.Warn("failed to speak", "error", err)
		}
	})
}

func (p *Pipeline) spawn(fn func(ctx context.Context)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn(p.ctx)
	}()
	return true
}

var errEmptyTranscript = errors.New("empty transcript")

// Process runs every stage for one turn synchronously.
func (p *Pipeline) Process(ctx context.Context, turn Turn) error {
	var text string
	err := p.stage(ctx, StageTranscribe, func(ctx context.Context) error {
		var err error
		text, err = p.stt.Transcribe(ctx, audio.EncodeWAV(turn.PCM, audio.SampleRate, audio.Channels), transcriber.FormatWAV)
		return err
	})
	if err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return errEmptyTranscript
	}
	slog.Info("user said", "user_id", turn.UserID, "text", text)

	var reply string
	if err := p.stage(ctx, StageReply, func(ctx context.Context) error {
		var err error
		reply, err = p.llm.Reply(ctx, text)
		return err
	}); err != nil {
		return err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return &StageError{Stage: StageReply, Err: errors.New("empty reply")}
	}
	slog.Info("assistant replied", "user_id", turn.UserID, "text", reply)

	return p.speak(ctx, reply)
}

func (p *Pipeline) speak(ctx context.Context, text string) error {
	var pcm []byte
	if err := p.stage(ctx, StageSynthesize, func(ctx context.Context) error {
		var err error
		pcm, err = p.tts.Synthesize(ctx, text)
		return err
	}); err != nil {
		return err
	}
	// Playback takes as long as the audio itself on top of the stage bound.
	timeout := p.cfg.StageTimeout + audio.PCMDuration(int64(len(pcm)))
	return p.stageWithTimeout(ctx, StagePlayback, timeout, func(ctx context.Context) error {
		return p.player.Play(ctx, pcm)
	})
}

func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return p.stageWithTimeout(ctx, name, p.cfg.StageTimeout, fn)
}

func (p *Pipeline) stageWithTimeout(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	started := time.Now()
	err := fn(stageCtx)
	p.metrics.RecordStage(ctx, name, started, err)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

// Close cancels in-flight turns and waits for them to return.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}
