package conversation

import (
	"sync"
	"time"

	"github.com/foxseedlab/rokuon/internal/audio"
)

type TurnState int

const (
	TurnIdle TurnState = iota
	TurnAccumulating
	TurnFinalizing
)

func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnAccumulating:
		return "accumulating"
	case TurnFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

type Turn struct {
	UserID    string
	PCM       []byte
	StartedAt time.Time
	EndedAt   time.Time
}

func (t Turn) Duration() time.Duration {
	return audio.PCMDuration(int64(len(t.PCM)))
}

// TurnBuffer collects the utterance of whoever spoke first in a quiet period.
// Everyone else is ignored until that utterance ends.
type TurnBuffer struct {
	minDuration time.Duration
	now         func() time.Time

	mu        sync.Mutex
	state     TurnState
	owner     string
	pcm       []byte
	startedAt time.Time
}

func NewTurnBuffer(minDuration time.Duration) *TurnBuffer {
	return &TurnBuffer{minDuration: minDuration, now: time.Now}
}

// Begin binds the buffer to userID if it is idle. It reports whether userID
// owns the current turn.
func (b *TurnBuffer) Begin(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case TurnIdle:
		b.state = TurnAccumulating
		b.owner = userID
		b.pcm = nil
		b.startedAt = b.now()
		return true
	case TurnAccumulating:
		return b.owner == userID
	default:
		return false
	}
}

func (b *TurnBuffer) Append(userID string, pcm []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != TurnAccumulating || b.owner != userID {
		return
	}
	b.pcm = append(b.pcm, pcm...)
}

// End closes the owner's turn. ok is false for non-owners and for turns
// shorter than the minimum duration, which are dropped. The buffer is idle
// again when End returns.
func (b *TurnBuffer) End(userID string) (Turn, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != TurnAccumulating || b.owner != userID {
		return Turn{}, false
	}
	b.state = TurnFinalizing
	turn := Turn{
		UserID:    b.owner,
		PCM:       b.pcm,
		StartedAt: b.startedAt,
		EndedAt:   b.now(),
	}
	b.state = TurnIdle
	b.owner = ""
	b.pcm = nil

	if turn.Duration() < b.minDuration {
		return Turn{}, false
	}
	return turn, true
}

func (b *TurnBuffer) State() TurnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *TurnBuffer) Owner() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.owner
}
