// Package media models the single playable media element the assistant
// controls. The transport is command-driven: a server-side position model
// mirrors the remote player so the playback coordinator can reason about
// seek/pause/resume without waiting on the client.
package media

import (
	"context"
	"errors"
)

var (
	ErrNoSource = errors.New("no media source loaded")
	ErrClosed   = errors.New("media transport closed")
)

// EventKind enumerates transport notifications.
type EventKind int

const (
	// EventLoaded fires once metadata for a newly loaded source is known.
	EventLoaded EventKind = iota
	// EventTime is a periodic position update while playing.
	EventTime
	// EventEnded fires when playback reaches the end of the source.
	EventEnded
)

type Event struct {
	Kind     EventKind
	Position float64
	Duration float64
}

// Source identifies what the transport should play.
type Source struct {
	FileID   string
	Locator  string
	Duration float64
}

// Transport wraps one playable media element. Exactly one component (the
// playback coordinator) writes to it at a time.
type Transport interface {
	Load(ctx context.Context, src Source) error
	Play() error
	Pause() error
	Stop() error
	Seek(seconds float64) error
	Position() float64
	Events() <-chan Event
	Close() error
}
