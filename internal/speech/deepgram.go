package speech

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
	"github.com/rs/zerolog"
)

// Deepgram synthesizes replies over Deepgram's speak websocket and writes
// 48 kHz linear16 PCM into the configured sink.
type Deepgram struct {
	apiKey     string
	model      string
	sampleRate int
	encoding   string
	sink       Sink
	log        zerolog.Logger
}

func NewDeepgram(apiKey, model string, sink Sink, log zerolog.Logger) *Deepgram {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &Deepgram{
		apiKey:     apiKey,
		model:      model,
		sampleRate: 48000,
		encoding:   "linear16",
		sink:       sink,
		log:        log.With().Str("component", "speech").Logger(),
	}
}

type deepgramHandle struct {
	done     chan error
	stopOnce sync.Once
	stopCh   chan struct{}
}

func (h *deepgramHandle) Done() <-chan error { return h.done }
func (h *deepgramHandle) Stop()              { h.stopOnce.Do(func() { close(h.stopCh) }) }

// Speak starts synthesis and returns immediately; the handle resolves
// once the stream goes idle, hits the deadline, or is stopped.
func (d *Deepgram) Speak(ctx context.Context, text string) (Handle, error) {
	if d.apiKey == "" {
		return nil, fmt.Errorf("deepgram: api key missing")
	}
	h := &deepgramHandle{done: make(chan error, 1), stopCh: make(chan struct{})}
	if text == "" {
		h.done <- nil
		return h, nil
	}
	go d.run(ctx, text, h)
	return h, nil
}

func (d *Deepgram) run(ctx context.Context, text string, h *deepgramHandle) {
	finish := func(err error) {
		if err == nil {
			if ferr := d.sink.FlushTail(); ferr != nil {
				d.log.Warn().Err(ferr).Msg("flush tail failed")
			}
		}
		h.done <- err
	}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   d.encoding,
		SampleRate: d.sampleRate,
	}

	var lastRecvUnix int64
	var seenAudio int32

	cb := &speakCallback{onBinary: func(data []byte) error {
		if len(data) == 0 {
			return nil
		}
		atomic.StoreInt64(&lastRecvUnix, time.Now().UnixNano())
		atomic.StoreInt32(&seenAudio, 1)
		b := make([]byte, len(data))
		copy(b, data)
		if err := d.sink.WritePCM(b); err != nil {
			d.log.Warn().Err(err).Msg("sink write failed")
		}
		return nil
	}}

	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		finish(fmt.Errorf("deepgram: create ws client: %w", err))
		return
	}

	stopped := false
	stopClient := func() {
		if !stopped {
			stopped = true
			dg.Stop()
		}
	}
	defer stopClient()

	if ok := dg.Connect(); !ok {
		finish(fmt.Errorf("deepgram: connect failed"))
		return
	}

	if err := dg.SpeakWithText(text); err != nil {
		finish(fmt.Errorf("deepgram: speak text: %w", err))
		return
	}
	if err := dg.Flush(); err != nil {
		d.log.Warn().Err(err).Msg("deepgram flush error")
	}

	// The speak socket sends no explicit end-of-stream; treat a quiet
	// window after the first audio as completion, with a hard deadline.
	idleWindow := 400 * time.Millisecond
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(12 * time.Second)
	for {
		select {
		case <-ctx.Done():
			stopClient()
			d.sink.Reset()
			h.done <- ctx.Err()
			return
		case <-h.stopCh:
			stopClient()
			d.sink.Reset()
			h.done <- nil
			return
		case <-ticker.C:
			if atomic.LoadInt32(&seenAudio) == 1 {
				last := time.Unix(0, atomic.LoadInt64(&lastRecvUnix))
				if !last.IsZero() && time.Since(last) > idleWindow {
					stopClient()
					finish(nil)
					return
				}
			}
			if time.Now().After(deadline) {
				stopClient()
				finish(nil)
				return
			}
		}
	}
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Binary(byMsg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(byMsg)
	}
	return nil
}

var _ Adapter = (*Deepgram)(nil)
