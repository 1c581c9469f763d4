package session

import (
	"context"
	"time"

	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/resolve"
)

// State is the conversation lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// Config carries the session's timing knobs.
type Config struct {
	// SilenceWindow is how long listening waits without new transcript
	// text before the turn is considered finished.
	SilenceWindow time.Duration
	// ResumeDelay is the gap between speech-output end and re-arming
	// capture for the next turn.
	ResumeDelay time.Duration
	// ProcessTimeout bounds resolver work for one turn.
	ProcessTimeout time.Duration
	// SpeakTimeout forces the speaking state to end if the speech
	// adapter's completion never arrives.
	SpeakTimeout time.Duration
	// AutoResume controls whether the session re-enters listening after
	// a spoken reply, or returns to idle after every turn.
	AutoResume bool
}

func DefaultConfig() Config {
	return Config{
		SilenceWindow:  3 * time.Second,
		ResumeDelay:    400 * time.Millisecond,
		ProcessTimeout: 20 * time.Second,
		SpeakTimeout:   30 * time.Second,
		AutoResume:     true,
	}
}

// Resolver is the utterance-to-reply boundary the session drives.
type Resolver interface {
	Resolve(ctx context.Context, utterance string, snap catalog.Snapshot) (resolve.Result, error)
}

// MediaController is the slice of the playback coordinator the session
// uses around turns.
type MediaController interface {
	ApplyIntent(ctx context.Context, intent resolve.PlaybackIntent, snap catalog.Snapshot) error
	PauseForTurn() error
	ResumeAfterTurn() error
	Stop() error
}

// Notifier receives session observations. Implementations must not
// block; they are called from the event loop.
type Notifier interface {
	OnStateChange(s State)
	OnPartialTranscript(text string)
	OnReply(text string, intent *resolve.PlaybackIntent)
	OnFault(f *Fault)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) OnStateChange(State)                     {}
func (NopNotifier) OnPartialTranscript(string)              {}
func (NopNotifier) OnReply(string, *resolve.PlaybackIntent) {}
func (NopNotifier) OnFault(*Fault)                          {}
