package session

import "fmt"

// Kind classifies adapter failures before they reach the state machine.
// The machine never sees a raw transport error.
type Kind int

const (
	// KindCaptureAcquisition means the capture stream could not be
	// acquired; the session returns to idle with no retry.
	KindCaptureAcquisition Kind = iota
	// KindRecognition is a mid-listen recognition failure.
	KindRecognition
	// KindResolver is a failure while computing the reply.
	KindResolver
	// KindSynthesis is a speech-output failure after the reply was
	// computed; the reply text is still delivered as text.
	KindSynthesis
	// KindPlaybackTarget means a resolved segment's file is gone; the
	// conversation continues and nothing plays.
	KindPlaybackTarget
)

func (k Kind) String() string {
	switch k {
	case KindCaptureAcquisition:
		return "capture_acquisition"
	case KindRecognition:
		return "recognition"
	case KindResolver:
		return "resolver"
	case KindSynthesis:
		return "synthesis"
	case KindPlaybackTarget:
		return "playback_target"
	default:
		return "unknown"
	}
}

// Fault is the only error shape the session surfaces to observers.
type Fault struct {
	Kind Kind
	Err  error
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return f.Kind.String()
	}
	return fmt.Sprintf("%s: %v", f.Kind, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }
