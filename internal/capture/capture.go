// Package capture wraps streaming speech-to-text behind the adapter
// interface the conversation session drives. End-of-turn detection is the
// session controller's job; adapters only surface running partial
// transcripts and their own lifecycle.
package capture

import (
	"context"
	"time"
)

// EventKind enumerates capture notifications.
type EventKind int

const (
	// EventListening fires once the capture device/stream is acquired.
	EventListening EventKind = iota
	// EventPartial carries the latest running transcript of the open turn.
	EventPartial
	// EventStopped fires after capture has been released.
	EventStopped
	// EventError reports a mid-listen recognition failure.
	EventError
)

type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Adapter is the streaming speech-to-text boundary.
//
// Start acquires the stream; its error is a capture-acquisition failure.
// Stop releases it and must be idempotent and safe on an already stopped
// adapter. SendPCM16KLE feeds 16 kHz little-endian mono PCM from the voice
// channel. RecentlyDetectedVoice reports whether voice energy was observed
// within the window, used to avoid speaking over the user.
type Adapter interface {
	Start(ctx context.Context) error
	Stop() error
	Events() <-chan Event
	SendPCM16KLE(pcm []byte) error
	RecentlyDetectedVoice(window time.Duration) bool
}
