package media

import (
	"context"
	"sync"
	"time"

	"github.com/vshah-se/superpod/internal/clock"
)

// ClockTransport tracks playback position against an injected clock and
// emits time/ended events on a fixed tick. It is the deterministic
// server-side implementation of Transport; a real player follows the same
// commands on the client.
type ClockTransport struct {
	clk  clock.Clock
	tick time.Duration

	mu        sync.Mutex
	src       *Source
	playing   bool
	pos       float64
	playStart time.Time
	ticker    clock.Timer
	closed    bool

	events chan Event
}

func NewClockTransport(clk clock.Clock, tick time.Duration) *ClockTransport {
	if tick <= 0 {
		tick = time.Second
	}
	return &ClockTransport{clk: clk, tick: tick, events: make(chan Event, 64)}
}

func (t *ClockTransport) Load(_ context.Context, src Source) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.stopTickerLocked()
	t.playing = false
	t.pos = 0
	s := src
	t.src = &s
	t.mu.Unlock()
	t.emit(Event{Kind: EventLoaded, Duration: src.Duration})
	return nil
}

func (t *ClockTransport) Play() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.src == nil {
		return ErrNoSource
	}
	if t.playing || t.closed {
		return nil
	}
	t.playing = true
	t.playStart = t.clk.Now()
	t.scheduleTickLocked()
	return nil
}

func (t *ClockTransport) Pause() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.foldElapsedLocked()
	t.playing = false
	t.stopTickerLocked()
	return nil
}

func (t *ClockTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playing = false
	t.pos = 0
	t.src = nil
	t.stopTickerLocked()
	return nil
}

func (t *ClockTransport) Seek(seconds float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.src == nil {
		return ErrNoSource
	}
	if seconds < 0 {
		seconds = 0
	}
	if t.src.Duration > 0 && seconds > t.src.Duration {
		seconds = t.src.Duration
	}
	t.pos = seconds
	if t.playing {
		t.playStart = t.clk.Now()
	}
	return nil
}

func (t *ClockTransport) Position() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentLocked()
}

func (t *ClockTransport) Events() <-chan Event { return t.events }

func (t *ClockTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.playing = false
	t.stopTickerLocked()
	close(t.events)
	t.mu.Unlock()
	return nil
}

func (t *ClockTransport) onTick() {
	t.mu.Lock()
	if t.closed || !t.playing || t.src == nil {
		t.mu.Unlock()
		return
	}
	t.foldElapsedLocked()
	dur := t.src.Duration
	if dur > 0 && t.pos >= dur {
		t.pos = dur
		t.playing = false
		t.stopTickerLocked()
		t.mu.Unlock()
		t.emit(Event{Kind: EventEnded, Position: dur, Duration: dur})
		return
	}
	pos := t.pos
	t.scheduleTickLocked()
	t.mu.Unlock()
	t.emit(Event{Kind: EventTime, Position: pos, Duration: dur})
}

var _ Transport = (*ClockTransport)(nil)

// foldElapsedLocked rolls wall time since playStart into pos.
func (t *ClockTransport) foldElapsedLocked() {
	if !t.playing {
		return
	}
	now := t.clk.Now()
	t.pos += now.Sub(t.playStart).Seconds()
	t.playStart = now
	if t.src != nil && t.src.Duration > 0 && t.pos > t.src.Duration {
		t.pos = t.src.Duration
	}
}

func (t *ClockTransport) currentLocked() float64 {
	if !t.playing {
		return t.pos
	}
	pos := t.pos + t.clk.Now().Sub(t.playStart).Seconds()
	if t.src != nil && t.src.Duration > 0 && pos > t.src.Duration {
		return t.src.Duration
	}
	return pos
}

func (t *ClockTransport) scheduleTickLocked() {
	if t.ticker == nil {
		t.ticker = t.clk.AfterFunc(t.tick, t.onTick)
		return
	}
	t.ticker.Reset(t.tick)
}

func (t *ClockTransport) stopTickerLocked() {
	if t.ticker != nil {
		t.ticker.Stop()
	}
}

// emit never blocks; a slow consumer loses time updates, not commands.
// The closed check and the send share the lock so an in-flight tick can
// never send on a channel Close already closed.
func (t *ClockTransport) emit(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- ev:
	default:
	}
}
