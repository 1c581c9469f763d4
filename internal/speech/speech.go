// Package speech wraps text-to-speech synthesis behind a handle-based
// adapter. The session starts an utterance, watches its handle, and never
// overlaps two utterances or an utterance with active capture.
package speech

import "context"

// Sink receives synthesized audio. WritePCM takes 48 kHz linear16 mono
// frames, FlushTail pushes out any buffered remainder once synthesis is
// done, and Reset drops everything queued but not yet delivered.
type Sink interface {
	WritePCM(pcm []byte) error
	FlushTail() error
	Reset()
}

// Handle tracks one in-flight utterance. Done yields exactly one value:
// nil after the utterance fully played out, or the synthesis error.
// Stop abandons the utterance early; Done still yields afterwards.
type Handle interface {
	Done() <-chan error
	Stop()
}

// Adapter starts synthesis of a reply and returns a handle for it.
// Implementations deliver audio to their configured Sink.
type Adapter interface {
	Speak(ctx context.Context, text string) (Handle, error)
}

// NopSink discards synthesized audio, for sessions with no attached
// audio channel (the typed-message surface).
type NopSink struct{}

func (NopSink) WritePCM([]byte) error { return nil }
func (NopSink) FlushTail() error      { return nil }
func (NopSink) Reset()                {}
