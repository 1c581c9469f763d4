package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Provider is the read-only boundary to the transcription/catalog
// collaborator. Results are eventually-consistent snapshots, refreshed per
// conversation turn rather than subscribed to live.
type Provider interface {
	ListCompletedMedia(ctx context.Context) ([]MediaFile, error)
	GetSegments(ctx context.Context, fileID string) ([]Segment, error)
}

// Snapshot is an immutable per-turn view of the completed library: files
// sorted by id, segments sorted by start time within each file.
type Snapshot struct {
	Files    []MediaFile
	segments map[string][]Segment
}

// Empty reports whether the snapshot holds no completed media.
func (s Snapshot) Empty() bool { return len(s.Files) == 0 }

// File returns the media file with the given id.
func (s Snapshot) File(id string) (MediaFile, bool) {
	for _, f := range s.Files {
		if f.ID == id {
			return f, true
		}
	}
	return MediaFile{}, false
}

// Segments returns the ordered segments of one file.
func (s Snapshot) Segments(fileID string) []Segment { return s.segments[fileID] }

// BuildSnapshot assembles a snapshot from the provider. Files that are not
// completed are skipped even if the provider returns them, and segments with
// impossible bounds are dropped; the upstream transcriber promises ordered,
// non-overlapping segments but the snapshot does not rely on it.
func BuildSnapshot(ctx context.Context, p Provider) (Snapshot, error) {
	files, err := p.ListCompletedMedia(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list completed media: %w", err)
	}

	snap := Snapshot{segments: make(map[string][]Segment)}
	for _, f := range files {
		if f.Status != StatusCompleted {
			continue
		}
		snap.Files = append(snap.Files, f)
	}
	sort.Slice(snap.Files, func(i, j int) bool {
		return strings.Compare(snap.Files[i].ID, snap.Files[j].ID) < 0
	})

	for _, f := range snap.Files {
		segs, err := p.GetSegments(ctx, f.ID)
		if err != nil {
			return Snapshot{}, fmt.Errorf("get segments for %s: %w", f.ID, err)
		}
		kept := make([]Segment, 0, len(segs))
		for _, seg := range segs {
			if !seg.validFor(f.Duration) {
				continue
			}
			kept = append(kept, seg)
		}
		sort.Slice(kept, func(i, j int) bool {
			if kept[i].Start != kept[j].Start {
				return kept[i].Start < kept[j].Start
			}
			return kept[i].ID < kept[j].ID
		})
		snap.segments[f.ID] = kept
	}
	return snap, nil
}
