// Package session runs the conversation lifecycle as a strict state
// machine: idle, listening, processing, speaking. One goroutine owns all
// state; adapters post events into its queue and every event is handled
// to completion before the next one starts.
package session

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/capture"
	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/clock"
	"github.com/vshah-se/superpod/internal/resolve"
	"github.com/vshah-se/superpod/internal/speech"
)

type commandKind int

const (
	cmdStartConversation commandKind = iota
	cmdStopConversation
	cmdEndTurn
	evCaptureEvent
	evSilence
	evResolved
	evResolveFailed
	evSpeechEnded
	evSpeakTimeout
	evResumeDue
)

type command struct {
	kind commandKind
	gen  uint64
	ev   capture.Event
	res  resolve.Result
	snap catalog.Snapshot
	err  error
}

// voiceHoldWindow extends listening when speech energy was heard even
// though no new transcript text arrived yet.
const voiceHoldWindow = time.Second

type Controller struct {
	capture  capture.Adapter
	speech   speech.Adapter
	resolver Resolver
	media    MediaController
	catalog  catalog.Provider
	clk      clock.Clock
	notifier Notifier
	cfg      Config
	log      zerolog.Logger

	cmds  chan command
	state atomic.Int32

	// loop-owned, never touched outside the run goroutine
	conversationActive bool
	buffer             string
	turnGen            uint64
	silenceTimer       clock.Timer
	speakTimer         clock.Timer
	resumeTimer        clock.Timer
	handle             speech.Handle
	pendingIntent      *resolve.PlaybackIntent
	pendingSnap        catalog.Snapshot
	pausedForTurn      bool
}

func NewController(cap capture.Adapter, sp speech.Adapter, res Resolver, mc MediaController, cat catalog.Provider, clk clock.Clock, notifier Notifier, cfg Config, log zerolog.Logger) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Controller{
		capture:  cap,
		speech:   sp,
		resolver: res,
		media:    mc,
		catalog:  cat,
		clk:      clk,
		notifier: notifier,
		cfg:      cfg,
		log:      log.With().Str("component", "session").Logger(),
		cmds:     make(chan command, 64),
	}
}

// Run processes events until ctx is cancelled. It must be running before
// StartConversation or StopConversation have any effect.
func (c *Controller) Run(ctx context.Context) error {
	go c.pumpCaptureEvents(ctx)
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		case cmd := <-c.cmds:
			c.dispatch(ctx, cmd)
		}
	}
}

// StartConversation asks the session to begin listening.
func (c *Controller) StartConversation() { c.post(command{kind: cmdStartConversation}) }

// StopConversation ends the conversation. From Listening with buffered
// transcript the heard utterance is still processed and spoken before the
// session idles; from every other state (or with nothing heard) capture
// and speech output are released immediately.
func (c *Controller) StopConversation() { c.post(command{kind: cmdStopConversation}) }

// EndTurn closes the listening window without waiting for the silence
// timer. With buffered transcript the turn proceeds to Processing; with
// nothing heard the session idles.
func (c *Controller) EndTurn() { c.post(command{kind: cmdEndTurn}) }

// State reports the current lifecycle state; safe from any goroutine.
func (c *Controller) State() State { return State(c.state.Load()) }

// HandleText resolves a typed utterance outside the voice loop. The
// reply is returned directly; any playback intent is applied to the
// coordinator before returning.
func (c *Controller) HandleText(ctx context.Context, utterance string) (resolve.Result, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return resolve.Result{}, errors.New("empty utterance")
	}
	snap, err := catalog.BuildSnapshot(ctx, c.catalog)
	if err != nil {
		return resolve.Result{}, &Fault{Kind: KindResolver, Err: err}
	}
	res, err := c.resolver.Resolve(ctx, utterance, snap)
	if err != nil {
		return resolve.Result{}, &Fault{Kind: KindResolver, Err: err}
	}
	if res.Intent != nil {
		if err := c.media.ApplyIntent(ctx, *res.Intent, snap); err != nil {
			f := &Fault{Kind: KindPlaybackTarget, Err: err}
			c.notifier.OnFault(f)
			c.log.Warn().Err(err).Msg("text-path intent not applied")
		}
	}
	return res, nil
}

func (c *Controller) post(cmd command) {
	select {
	case c.cmds <- cmd:
	default:
		c.log.Warn().Int("kind", int(cmd.kind)).Msg("session queue full, dropping command")
	}
}

func (c *Controller) pumpCaptureEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.capture.Events():
			if !ok {
				return
			}
			c.post(command{kind: evCaptureEvent, ev: ev})
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdStartConversation:
		if c.State() != StateIdle {
			return
		}
		c.conversationActive = true
		c.startListening(ctx)
	case cmdStopConversation:
		if c.State() == StateListening && strings.TrimSpace(c.buffer) != "" {
			// finish the turn that was already heard, then idle
			c.conversationActive = false
			c.endOfTurn(ctx)
			return
		}
		c.stopEverything()
	case cmdEndTurn:
		if c.State() != StateListening {
			return
		}
		if strings.TrimSpace(c.buffer) == "" {
			c.stopEverything()
			return
		}
		c.endOfTurn(ctx)
	case evCaptureEvent:
		c.onCaptureEvent(ctx, cmd.ev)
	case evSilence:
		if cmd.gen != c.turnGen || c.State() != StateListening {
			return
		}
		if c.capture.RecentlyDetectedVoice(voiceHoldWindow) {
			c.armSilenceTimer()
			return
		}
		c.endOfTurn(ctx)
	case evResolved:
		if cmd.gen != c.turnGen || c.State() != StateProcessing {
			return
		}
		c.onResolved(ctx, cmd.res, cmd.snap)
	case evResolveFailed:
		if cmd.gen != c.turnGen || c.State() != StateProcessing {
			return
		}
		c.fault(KindResolver, cmd.err)
		c.abortTurn()
	case evSpeechEnded:
		if cmd.gen != c.turnGen || c.State() != StateSpeaking {
			return
		}
		c.stopTimer(&c.speakTimer)
		if cmd.err != nil {
			// reply was already delivered as text; the intent still
			// applies, but the failed turn idles the session
			c.fault(KindSynthesis, cmd.err)
			c.handle = nil
			c.applyPendingIntent(ctx)
			c.conversationActive = false
			c.toIdle()
			return
		}
		c.finishTurn(ctx)
	case evSpeakTimeout:
		if cmd.gen != c.turnGen || c.State() != StateSpeaking {
			return
		}
		c.log.Warn().Msg("speech completion never arrived, forcing turn end")
		if c.handle != nil {
			c.handle.Stop()
			c.handle = nil
		}
		c.finishTurn(ctx)
	case evResumeDue:
		if cmd.gen != c.turnGen {
			return
		}
		if c.conversationActive && c.cfg.AutoResume {
			c.startListening(ctx)
		} else {
			c.toIdle()
		}
	}
}

func (c *Controller) onCaptureEvent(ctx context.Context, ev capture.Event) {
	switch ev.Kind {
	case capture.EventPartial:
		if c.State() != StateListening {
			return
		}
		c.buffer = ev.Text
		c.notifier.OnPartialTranscript(ev.Text)
		c.armSilenceTimer()
	case capture.EventError:
		if c.State() != StateListening {
			return
		}
		if strings.TrimSpace(c.buffer) != "" {
			// use what we heard before the stream broke
			c.endOfTurn(ctx)
			return
		}
		c.fault(KindRecognition, ev.Err)
		c.stopEverything()
	}
}

func (c *Controller) startListening(ctx context.Context) {
	c.buffer = ""
	if err := c.capture.Start(ctx); err != nil {
		c.fault(KindCaptureAcquisition, err)
		c.stopEverything()
		return
	}
	c.setState(StateListening)
	c.armSilenceTimer()
}

// endOfTurn closes the listening window and hands the buffered utterance
// to the resolver. An empty buffer just re-arms the window.
func (c *Controller) endOfTurn(ctx context.Context) {
	utterance := strings.TrimSpace(c.buffer)
	if utterance == "" {
		c.armSilenceTimer()
		return
	}
	c.turnGen++
	gen := c.turnGen
	c.stopTimer(&c.silenceTimer)
	if err := c.capture.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("capture stop failed at end of turn")
	}
	if err := c.media.PauseForTurn(); err != nil {
		c.log.Warn().Err(err).Msg("pause for turn failed")
	} else {
		c.pausedForTurn = true
	}
	c.setState(StateProcessing)

	go func() {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.ProcessTimeout)
		defer cancel()
		snap, err := catalog.BuildSnapshot(rctx, c.catalog)
		if err != nil {
			c.post(command{kind: evResolveFailed, gen: gen, err: err})
			return
		}
		res, err := c.resolver.Resolve(rctx, utterance, snap)
		if err != nil {
			c.post(command{kind: evResolveFailed, gen: gen, err: err})
			return
		}
		c.post(command{kind: evResolved, gen: gen, res: res, snap: snap})
	}()
}

func (c *Controller) onResolved(ctx context.Context, res resolve.Result, snap catalog.Snapshot) {
	c.notifier.OnReply(res.ReplyText, res.Intent)
	c.pendingIntent = res.Intent
	c.pendingSnap = snap

	handle, err := c.speech.Speak(ctx, res.ReplyText)
	if err != nil {
		// reply already delivered as text; playback still happens, but
		// the failed turn idles the session
		c.fault(KindSynthesis, err)
		c.applyPendingIntent(ctx)
		c.conversationActive = false
		c.toIdle()
		return
	}
	c.handle = handle
	c.setState(StateSpeaking)
	gen := c.turnGen
	c.speakTimer = c.clk.AfterFunc(c.cfg.SpeakTimeout, func() {
		c.post(command{kind: evSpeakTimeout, gen: gen})
	})
	go func() {
		err := <-handle.Done()
		c.post(command{kind: evSpeechEnded, gen: gen, err: err})
	}()
}

// finishTurn runs after speaking ends: apply the resolved intent (or
// resume paused content) and schedule the next listening window. The
// generation bump discards late duplicates, like a handle completing
// after the speak timeout already ended the turn.
func (c *Controller) finishTurn(ctx context.Context) {
	c.turnGen++
	c.stopTimer(&c.speakTimer)
	c.handle = nil
	c.applyPendingIntent(ctx)
	c.scheduleResume()
}

func (c *Controller) applyPendingIntent(ctx context.Context) {
	if c.pendingIntent == nil {
		if c.pausedForTurn {
			if err := c.media.ResumeAfterTurn(); err != nil {
				c.log.Warn().Err(err).Msg("resume after turn failed")
			}
			c.pausedForTurn = false
		}
		return
	}
	intent := *c.pendingIntent
	snap := c.pendingSnap
	c.pendingIntent = nil
	c.pendingSnap = catalog.Snapshot{}
	c.pausedForTurn = false
	if err := c.media.ApplyIntent(ctx, intent, snap); err != nil {
		// target missing or transport trouble: conversation continues,
		// nothing plays
		c.fault(KindPlaybackTarget, err)
	}
}

func (c *Controller) scheduleResume() {
	if !c.conversationActive || !c.cfg.AutoResume {
		c.toIdle()
		return
	}
	gen := c.turnGen
	c.resumeTimer = c.clk.AfterFunc(c.cfg.ResumeDelay, func() {
		c.post(command{kind: evResumeDue, gen: gen})
	})
}

// abortTurn discards the turn's partial state and idles the session.
func (c *Controller) abortTurn() {
	c.buffer = ""
	c.pendingIntent = nil
	c.pendingSnap = catalog.Snapshot{}
	if c.pausedForTurn {
		if err := c.media.ResumeAfterTurn(); err != nil {
			c.log.Warn().Err(err).Msg("resume after aborted turn failed")
		}
		c.pausedForTurn = false
	}
	c.conversationActive = false
	c.toIdle()
}

// stopEverything is the any-state stop path: all timers, capture and
// speech output are released before idling.
func (c *Controller) stopEverything() {
	c.turnGen++
	c.stopTimer(&c.silenceTimer)
	c.stopTimer(&c.speakTimer)
	c.stopTimer(&c.resumeTimer)
	if c.handle != nil {
		c.handle.Stop()
		c.handle = nil
	}
	if err := c.capture.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("capture stop failed")
	}
	c.buffer = ""
	c.pendingIntent = nil
	c.pendingSnap = catalog.Snapshot{}
	if c.pausedForTurn {
		if err := c.media.ResumeAfterTurn(); err != nil {
			c.log.Warn().Err(err).Msg("resume on stop failed")
		}
		c.pausedForTurn = false
	}
	c.conversationActive = false
	c.toIdle()
}

func (c *Controller) teardown() {
	c.stopEverything()
	if err := c.media.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("media stop failed on teardown")
	}
}

func (c *Controller) toIdle() {
	c.setState(StateIdle)
}

func (c *Controller) armSilenceTimer() {
	gen := c.turnGen
	if c.silenceTimer != nil {
		c.silenceTimer.Reset(c.cfg.SilenceWindow)
		return
	}
	c.silenceTimer = c.clk.AfterFunc(c.cfg.SilenceWindow, func() {
		c.post(command{kind: evSilence, gen: gen})
	})
}

// stopTimer stops and clears the slot so the next arm creates a fresh
// timer bound to the current turn generation.
func (c *Controller) stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (c *Controller) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.log.Debug().Str("state", s.String()).Msg("state change")
	c.notifier.OnStateChange(s)
}

func (c *Controller) fault(kind Kind, err error) {
	f := &Fault{Kind: kind, Err: err}
	c.log.Error().Err(err).Str("kind", kind.String()).Msg("session fault")
	c.notifier.OnFault(f)
}
