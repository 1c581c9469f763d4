package catalog

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Provider used for demos and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	files    []MediaFile
	segments map[string][]Segment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{segments: make(map[string][]Segment)}
}

// Put adds or replaces a media file and its segments.
func (m *MemoryStore) Put(file MediaFile, segs ...Segment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, f := range m.files {
		if f.ID == file.ID {
			m.files[i] = file
			m.segments[file.ID] = append([]Segment(nil), segs...)
			return
		}
	}
	m.files = append(m.files, file)
	m.segments[file.ID] = append([]Segment(nil), segs...)
}

func (m *MemoryStore) ListCompletedMedia(_ context.Context) ([]MediaFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]MediaFile, 0, len(m.files))
	for _, f := range m.files {
		if f.Status == StatusCompleted {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetSegments(_ context.Context, fileID string) ([]Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Segment(nil), m.segments[fileID]...), nil
}
