package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// MySQLStore reads the catalog the ingestion pipeline writes. The store is
// read-only from the assistant's point of view.
type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

func (s *MySQLStore) ListCompletedMedia(ctx context.Context) ([]MediaFile, error) {
	query := `SELECT id, title, duration, stream_locator, status, topics
	           FROM media_files WHERE status = ? ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, string(StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to query completed media: %w", err)
	}
	defer rows.Close()

	files := make([]MediaFile, 0)
	for rows.Next() {
		var f MediaFile
		var status, topics string
		if err := rows.Scan(&f.ID, &f.Title, &f.Duration, &f.StreamLocator, &status, &topics); err != nil {
			return nil, fmt.Errorf("failed to scan media file: %w", err)
		}
		f.Status = TranscriptionStatus(status)
		f.Topics = splitTopics(topics)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during media rows iteration: %w", err)
	}
	return files, nil
}

func (s *MySQLStore) GetSegments(ctx context.Context, fileID string) ([]Segment, error) {
	query := `SELECT id, file_id, start_time, end_time, text, confidence
	           FROM transcription_segments WHERE file_id = ? ORDER BY start_time`
	rows, err := s.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments for file %s: %w", fileID, err)
	}
	defer rows.Close()

	segs := make([]Segment, 0)
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(&seg.ID, &seg.FileID, &seg.Start, &seg.End, &seg.Text, &seg.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segs = append(segs, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during segment rows iteration: %w", err)
	}
	return segs, nil
}

// splitTopics parses the comma-separated topics column.
func splitTopics(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
