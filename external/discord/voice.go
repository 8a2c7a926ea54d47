package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/foxseedlab/rokuon/internal/audio"
	discordpkg "github.com/foxseedlab/rokuon/internal/discord"
	"layeh.com/gopus"
)

const (
	subscriptionBuffer = 64
	readyPollInterval  = 250 * time.Millisecond
	// Frames kept per SSRC until a speaking update names its user: one second.
	maxHeldFrames = 50
	mappedBuffer  = 16

	// Discord sends and expects 48 kHz stereo Opus in 20 ms frames.
	playbackChannels   = 2
	playbackFrameBytes = audio.FrameSamples * playbackChannels * audio.BytesPerSample
	maxOpusPacketBytes = 4000
)

var errConnectionClosed = errors.New("voice connection closed")

type frameEncoder interface {
	Encode(pcm []int16, frameSize, maxBytes int) ([]byte, error)
}

func newGopusEncoder() (frameEncoder, error) {
	enc, err := gopus.NewEncoder(audio.SampleRate, playbackChannels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("create opus encoder: %w", err)
	}
	return enc, nil
}

// voiceConnection demultiplexes the shared receive channel by SSRC into
// per-user subscriptions and owns the single playback path.
type voiceConnection struct {
	vc *discordgo.VoiceConnection

	mu          sync.RWMutex
	ssrcUser    map[uint32]string
	mapped      chan uint32
	subs        map[string]*subscription
	speechStart func(userID string)
	stateChange func(discordpkg.ConnectionState)

	playMu     sync.Mutex
	encoder    frameEncoder
	newEncoder func() (frameEncoder, error)

	done      chan struct{}
	closeOnce sync.Once

	isReady      func() bool
	setSpeaking  func(bool) error
	disconnectVC func() error
}

func newVoiceConnection(vc *discordgo.VoiceConnection) *voiceConnection {
	v := &voiceConnection{
		vc:         vc,
		ssrcUser:   make(map[uint32]string),
		mapped:     make(chan uint32, mappedBuffer),
		subs:       make(map[string]*subscription),
		newEncoder: newGopusEncoder,
		done:       make(chan struct{}),
		isReady: func() bool {
			vc.RLock()
			defer vc.RUnlock()
			return vc.Ready
		},
		setSpeaking:  vc.Speaking,
		disconnectVC: vc.Disconnect,
	}
	vc.AddHandler(v.handleSpeakingUpdate)
	go v.recvLoop()
	go v.watchState(readyPollInterval)
	return v
}

func (v *voiceConnection) OnSpeechStart(handler func(userID string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speechStart = handler
}

func (v *voiceConnection) OnStateChange(handler func(discordpkg.ConnectionState)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stateChange = handler
}

func (v *voiceConnection) Subscribe(userID string) discordpkg.Subscription {
	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.subs[userID]; ok {
		return existing
	}
	sub := &subscription{owner: v, userID: userID, frames: make(chan []byte, subscriptionBuffer)}
	select {
	case <-v.done:
		sub.closed = true
		close(sub.frames)
		return sub
	default:
	}
	v.subs[userID] = sub
	return sub
}

func (v *voiceConnection) unsubscribe(sub *subscription) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	if v.subs[sub.userID] == sub {
		delete(v.subs, sub.userID)
	}
	close(sub.frames)
}

func (v *voiceConnection) Disconnect() error {
	var err error
	v.closeOnce.Do(func() {
		close(v.done)
		v.mu.Lock()
		for userID, sub := range v.subs {
			sub.closed = true
			close(sub.frames)
			delete(v.subs, userID)
		}
		v.mu.Unlock()
		if v.disconnectVC != nil {
			err = v.disconnectVC()
		}
	})
	return err
}

func (v *voiceConnection) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	ssrc := uint32(vs.SSRC)
	v.mu.Lock()
	v.ssrcUser[ssrc] = vs.UserID
	v.mu.Unlock()
	select {
	case v.mapped <- ssrc:
	default:
		// recvLoop also flushes on the SSRC's next frame.
	}
}

func (v *voiceConnection) userForSSRC(ssrc uint32) (string, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	userID, ok := v.ssrcUser[ssrc]
	return userID, ok
}

// recvLoop is the only goroutine that delivers frames, so a user's held
// frames always reach the subscription ahead of newer ones.
func (v *voiceConnection) recvLoop() {
	held := make(map[uint32][][]byte)
	flush := func(ssrc uint32, userID string) {
		for _, frame := range held[ssrc] {
			v.deliver(userID, frame)
		}
		delete(held, ssrc)
	}
	for {
		select {
		case <-v.done:
			return
		case ssrc := <-v.mapped:
			if userID, ok := v.userForSSRC(ssrc); ok {
				flush(ssrc, userID)
			}
		case p, ok := <-v.vc.OpusRecv:
			if !ok {
				v.emitState(discordpkg.ConnectionDisconnected)
				return
			}
			if p == nil || len(p.Opus) == 0 {
				continue
			}
			userID, known := v.userForSSRC(p.SSRC)
			if !known {
				if q := held[p.SSRC]; len(q) < maxHeldFrames {
					held[p.SSRC] = append(q, p.Opus)
				}
				continue
			}
			flush(p.SSRC, userID)
			v.deliver(userID, p.Opus)
		}
	}
}

// deliver announces speech start for unsubscribed users before handing the
// frame to whichever subscription the handler opened.
func (v *voiceConnection) deliver(userID string, frame []byte) {
	v.mu.RLock()
	_, subscribed := v.subs[userID]
	onStart := v.speechStart
	v.mu.RUnlock()
	if !subscribed && onStart != nil {
		onStart(userID)
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	sub, ok := v.subs[userID]
	if !ok || sub.closed {
		return
	}
	select {
	case sub.frames <- frame:
	default:
		slog.Debug("subscription buffer full; dropping voice frame", "user_id", userID)
	}
}

func (v *voiceConnection) watchState(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ready := true
	for {
		select {
		case <-v.done:
			return
		case <-ticker.C:
			now := v.isReady()
			if now == ready {
				continue
			}
			ready = now
			if now {
				v.emitState(discordpkg.ConnectionReady)
			} else {
				v.emitState(discordpkg.ConnectionReconnecting)
			}
		}
	}
}

func (v *voiceConnection) emitState(state discordpkg.ConnectionState) {
	select {
	case <-v.done:
		return
	default:
	}
	v.mu.RLock()
	cb := v.stateChange
	v.mu.RUnlock()
	if cb != nil {
		cb(state)
	}
}

func (v *voiceConnection) Play(ctx context.Context, pcm []byte) error {
	v.playMu.Lock()
	defer v.playMu.Unlock()

	if v.encoder == nil {
		enc, err := v.newEncoder()
		if err != nil {
			return err
		}
		v.encoder = enc
	}

	stereo := audio.MonoToStereo(pcm)
	if rem := len(stereo) % playbackFrameBytes; rem != 0 {
		stereo = append(stereo, make([]byte, playbackFrameBytes-rem)...)
	}

	if err := v.setSpeaking(true); err != nil {
		slog.Warn("failed to set speaking state", "speaking", true, "error", err)
	}
	defer func() {
		if err := v.setSpeaking(false); err != nil {
			slog.Warn("failed to set speaking state", "speaking", false, "error", err)
		}
	}()

	for off := 0; off < len(stereo); off += playbackFrameBytes {
		packet, err := v.encoder.Encode(audio.BytesToSamples(stereo[off:off+playbackFrameBytes]), audio.FrameSamples, maxOpusPacketBytes)
		if err != nil {
			return fmt.Errorf("encode playback frame: %w", err)
		}
		select {
		case v.vc.OpusSend <- packet:
		case <-ctx.Done():
			return ctx.Err()
		case <-v.done:
			return errConnectionClosed
		}
	}
	return nil
}

type subscription struct {
	owner  *voiceConnection
	userID string
	frames chan []byte
	// guarded by owner.mu
	closed bool
}

func (s *subscription) Frames() <-chan []byte {
	return s.frames
}

func (s *subscription) Close() {
	s.owner.unsubscribe(s)
}
