// Package playback owns the single active media target. The coordinator
// is the only writer of the media transport: it applies resolved intents,
// and pauses/resumes content around conversational turns without losing
// position.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/media"
	"github.com/vshah-se/superpod/internal/resolve"
)

// ErrTargetMissing reports an intent whose file is no longer in the
// catalog. The conversation continues; nothing plays.
var ErrTargetMissing = errors.New("playback target missing")

// Target records what is currently active for UI and session reference.
type Target struct {
	FileID  string
	Segment catalog.Segment
}

type Coordinator struct {
	transport media.Transport
	log       zerolog.Logger

	mu           sync.Mutex
	current      *Target
	loadedFileID string
	resumeAt     float64
	pausedByTurn bool
}

func NewCoordinator(transport media.Transport, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		transport: transport,
		log:       log.With().Str("component", "playback").Logger(),
	}
}

// ApplyIntent loads and plays the intent's segment. Switching files fully
// stops the previous one first; replaying within the loaded file only
// seeks. Returns ErrTargetMissing when the file left the catalog.
func (c *Coordinator) ApplyIntent(ctx context.Context, intent resolve.PlaybackIntent, snap catalog.Snapshot) error {
	file, ok := snap.File(intent.FileID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTargetMissing, intent.FileID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loadedFileID != file.ID {
		if c.loadedFileID != "" {
			if err := c.transport.Stop(); err != nil {
				c.log.Warn().Err(err).Str("file", c.loadedFileID).Msg("stop before switch failed")
			}
		}
		src := media.Source{FileID: file.ID, Locator: file.StreamLocator, Duration: file.Duration}
		if err := c.transport.Load(ctx, src); err != nil {
			c.loadedFileID = ""
			c.current = nil
			return fmt.Errorf("load %s: %w", file.ID, err)
		}
		c.loadedFileID = file.ID
	}

	if err := c.transport.Seek(intent.Segment.Start); err != nil {
		return fmt.Errorf("seek %s: %w", file.ID, err)
	}
	if err := c.transport.Play(); err != nil {
		return fmt.Errorf("play %s: %w", file.ID, err)
	}

	c.current = &Target{FileID: file.ID, Segment: intent.Segment}
	c.pausedByTurn = false
	c.log.Info().
		Str("file", file.ID).
		Str("segment", intent.Segment.ID).
		Float64("start", intent.Segment.Start).
		Msg("playing segment")
	return nil
}

// PauseForTurn pauses active content while the user speaks. A no-op when
// nothing is playing; the paired resume restores the exact position.
func (c *Coordinator) PauseForTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.pausedByTurn {
		return nil
	}
	c.resumeAt = c.transport.Position()
	if err := c.transport.Pause(); err != nil {
		return fmt.Errorf("pause for turn: %w", err)
	}
	c.pausedByTurn = true
	return nil
}

// ResumeAfterTurn undoes a PauseForTurn. It re-seeks to the recorded
// position before playing so the pair is drift-free even if the
// transport moved underneath.
func (c *Coordinator) ResumeAfterTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || !c.pausedByTurn {
		return nil
	}
	if err := c.transport.Seek(c.resumeAt); err != nil {
		return fmt.Errorf("resume seek: %w", err)
	}
	if err := c.transport.Play(); err != nil {
		return fmt.Errorf("resume after turn: %w", err)
	}
	c.pausedByTurn = false
	return nil
}

// Stop halts playback and clears the active target.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.loadedFileID = ""
	c.pausedByTurn = false
	if err := c.transport.Stop(); err != nil {
		return fmt.Errorf("stop playback: %w", err)
	}
	return nil
}

// Active returns the current target, or nil when nothing is playing.
func (c *Coordinator) Active() *Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	t := *c.current
	return &t
}

// Position reports the transport's current position in seconds.
func (c *Coordinator) Position() float64 {
	return c.transport.Position()
}
