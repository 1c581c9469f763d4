package speech

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type nopSink struct{}

func (nopSink) WritePCM([]byte) error { return nil }
func (nopSink) FlushTail() error      { return nil }
func (nopSink) Reset()                {}

func TestDeepgram_SpeakWithoutKey(t *testing.T) {
	d := NewDeepgram("", "", nopSink{}, zerolog.Nop())
	if _, err := d.Speak(context.Background(), "hello"); err == nil {
		t.Fatal("expected error when api key missing")
	}
}

func TestDeepgram_EmptyTextResolvesImmediately(t *testing.T) {
	d := NewDeepgram("key", "", nopSink{}, zerolog.Nop())
	h, err := d.Speak(context.Background(), "")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	select {
	case err := <-h.Done():
		if err != nil {
			t.Fatalf("expected nil completion, got %v", err)
		}
	case <-time.After(300 * time.Millisecond):
		t.Fatal("timeout waiting for empty-text completion")
	}
}

func TestDeepgram_DefaultModel(t *testing.T) {
	d := NewDeepgram("key", "", nopSink{}, zerolog.Nop())
	if d.model != "aura-2-thalia-en" {
		t.Fatalf("unexpected default model %q", d.model)
	}
	if d.sampleRate != 48000 || d.encoding != "linear16" {
		t.Fatalf("unexpected audio format %d/%s", d.sampleRate, d.encoding)
	}
}

func TestDeepgramHandle_StopIsIdempotent(t *testing.T) {
	h := &deepgramHandle{done: make(chan error, 1), stopCh: make(chan struct{})}
	h.Stop()
	h.Stop()
	select {
	case <-h.stopCh:
	default:
		t.Fatal("stop channel not closed")
	}
}
