package catalog

// TranscriptionStatus tracks a media file's progress through the upstream
// transcription pipeline. Transitions are monotonic:
// pending -> processing -> completed|failed.
type TranscriptionStatus string

const (
	StatusPending    TranscriptionStatus = "pending"
	StatusProcessing TranscriptionStatus = "processing"
	StatusCompleted  TranscriptionStatus = "completed"
	StatusFailed     TranscriptionStatus = "failed"
)

// MediaFile is one playable item in the library. Immutable once created by
// the ingestion pipeline.
type MediaFile struct {
	ID            string              `json:"id"`
	Title         string              `json:"title"`
	Duration      float64             `json:"duration"`
	StreamLocator string              `json:"streamLocator"`
	Status        TranscriptionStatus `json:"status"`
	Topics        []string            `json:"topics,omitempty"`
}

// Segment is a contiguous timestamped span of transcribed text within one
// media file.
type Segment struct {
	ID         string  `json:"id"`
	FileID     string  `json:"fileId"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// validFor reports whether the segment's bounds are structurally sound for a
// file of the given duration. Overlap between segments is tolerated; only
// impossible bounds are rejected. A zero duration disables the upper check
// (duration may be unknown while metadata is still loading upstream).
func (s Segment) validFor(duration float64) bool {
	if s.Text == "" {
		return false
	}
	if s.Start < 0 || s.End <= s.Start {
		return false
	}
	if duration > 0 && s.End > duration {
		return false
	}
	return true
}
