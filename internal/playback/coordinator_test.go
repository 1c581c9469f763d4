package playback

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/catalog"
	"github.com/vshah-se/superpod/internal/clock"
	"github.com/vshah-se/superpod/internal/media"
	"github.com/vshah-se/superpod/internal/resolve"
)

// recordingTransport wraps a real clock transport and records call order.
type recordingTransport struct {
	media.Transport
	calls []string
}

func (r *recordingTransport) Load(ctx context.Context, src media.Source) error {
	r.calls = append(r.calls, "load:"+src.FileID)
	return r.Transport.Load(ctx, src)
}
func (r *recordingTransport) Play() error {
	r.calls = append(r.calls, "play")
	return r.Transport.Play()
}
func (r *recordingTransport) Pause() error {
	r.calls = append(r.calls, "pause")
	return r.Transport.Pause()
}
func (r *recordingTransport) Stop() error {
	r.calls = append(r.calls, "stop")
	return r.Transport.Stop()
}
func (r *recordingTransport) Seek(s float64) error {
	r.calls = append(r.calls, "seek")
	return r.Transport.Seek(s)
}

func testSetup(t *testing.T) (*Coordinator, *recordingTransport, *clock.Fake, catalog.Snapshot) {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	rt := &recordingTransport{Transport: media.NewClockTransport(fc, time.Second)}
	c := NewCoordinator(rt, zerolog.Nop())

	store := catalog.NewMemoryStore()
	store.Put(
		catalog.MediaFile{ID: "f1", Title: "One", Duration: 600, Status: catalog.StatusCompleted},
		catalog.Segment{ID: "s1", FileID: "f1", Start: 120, End: 180, Text: "funding", Confidence: 0.9},
	)
	store.Put(
		catalog.MediaFile{ID: "f2", Title: "Two", Duration: 900, Status: catalog.StatusCompleted},
		catalog.Segment{ID: "s2", FileID: "f2", Start: 30, End: 60, Text: "markets", Confidence: 0.8},
	)
	snap, err := catalog.BuildSnapshot(context.Background(), store)
	if err != nil {
		t.Fatalf("build snapshot: %v", err)
	}
	return c, rt, fc, snap
}

func intentFor(snap catalog.Snapshot, fileID, segID string) resolve.PlaybackIntent {
	for _, seg := range snap.Segments(fileID) {
		if seg.ID == segID {
			return resolve.PlaybackIntent{FileID: fileID, Segment: seg}
		}
	}
	return resolve.PlaybackIntent{FileID: fileID}
}

func TestApplyIntent_LoadsSeeksPlays(t *testing.T) {
	c, rt, _, snap := testSetup(t)
	if err := c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := []string{"load:f1", "seek", "play"}
	if len(rt.calls) != len(want) {
		t.Fatalf("calls %v, want %v", rt.calls, want)
	}
	for i := range want {
		if rt.calls[i] != want[i] {
			t.Fatalf("calls %v, want %v", rt.calls, want)
		}
	}
	if pos := c.Position(); pos != 120 {
		t.Fatalf("position %f, want 120", pos)
	}
	if a := c.Active(); a == nil || a.FileID != "f1" || a.Segment.ID != "s1" {
		t.Fatalf("active %+v", a)
	}
}

func TestApplyIntent_StopsBeforeSwitchingFiles(t *testing.T) {
	c, rt, _, snap := testSetup(t)
	_ = c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap)
	rt.calls = nil
	if err := c.ApplyIntent(context.Background(), intentFor(snap, "f2", "s2"), snap); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := []string{"stop", "load:f2", "seek", "play"}
	for i := range want {
		if i >= len(rt.calls) || rt.calls[i] != want[i] {
			t.Fatalf("calls %v, want %v", rt.calls, want)
		}
	}
}

func TestApplyIntent_SameFileOnlySeeks(t *testing.T) {
	c, rt, _, snap := testSetup(t)
	_ = c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap)
	rt.calls = nil
	if err := c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, call := range rt.calls {
		if call == "load:f1" || call == "stop" {
			t.Fatalf("replay within loaded file must not reload: %v", rt.calls)
		}
	}
}

func TestApplyIntent_MissingTarget(t *testing.T) {
	c, _, _, snap := testSetup(t)
	err := c.ApplyIntent(context.Background(), resolve.PlaybackIntent{FileID: "gone"}, snap)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, ErrTargetMissing) {
		t.Fatalf("expected ErrTargetMissing, got %v", err)
	}
	if c.Active() != nil {
		t.Fatal("no target should be active after a missing-file intent")
	}
}

func TestPauseResume_NoDrift(t *testing.T) {
	c, _, fc, snap := testSetup(t)
	_ = c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap)
	fc.Advance(10 * time.Second)

	if err := c.PauseForTurn(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	paused := c.Position()
	if paused < 129.9 || paused > 130.1 {
		t.Fatalf("paused at %f, want ~130", paused)
	}

	// conversation takes a while; position must not move
	fc.Advance(45 * time.Second)
	if err := c.ResumeAfterTurn(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if pos := c.Position(); pos < paused-0.01 || pos > paused+0.01 {
		t.Fatalf("drift across pause/resume: %f -> %f", paused, pos)
	}
	fc.Advance(2 * time.Second)
	if pos := c.Position(); pos < paused+1.9 || pos > paused+2.1 {
		t.Fatalf("resume did not continue playing: %f", pos)
	}
}

func TestPauseResume_NoopWithoutTarget(t *testing.T) {
	c, rt, _, _ := testSetup(t)
	if err := c.PauseForTurn(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := c.ResumeAfterTurn(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(rt.calls) != 0 {
		t.Fatalf("no transport calls expected, got %v", rt.calls)
	}
}

func TestResume_OnlyAfterPause(t *testing.T) {
	c, rt, _, snap := testSetup(t)
	_ = c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap)
	rt.calls = nil
	if err := c.ResumeAfterTurn(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(rt.calls) != 0 {
		t.Fatalf("unpaired resume must be a no-op, got %v", rt.calls)
	}
}

func TestStop_ClearsTarget(t *testing.T) {
	c, _, _, snap := testSetup(t)
	_ = c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap)
	if err := c.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.Active() != nil {
		t.Fatal("target should be cleared")
	}
	// next intent for the same file must reload
	rt := c.transport.(*recordingTransport)
	rt.calls = nil
	_ = c.ApplyIntent(context.Background(), intentFor(snap, "f1", "s1"), snap)
	if len(rt.calls) == 0 || rt.calls[0] != "load:f1" {
		t.Fatalf("expected reload after stop, got %v", rt.calls)
	}
}
