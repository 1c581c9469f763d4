package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/vshah-se/superpod/internal/catalog"
)

// ErrUnknownFile reports a summary or recommendation request for a file
// that is not in the snapshot.
var ErrUnknownFile = errors.New("unknown media file")

// SummaryStyle selects the wording of an episode summary.
type SummaryStyle string

const (
	// StyleSynopsis is a short friendly overview, the default.
	StyleSynopsis SummaryStyle = "synopsis"
	// StyleTopics lists the main subjects the episode covers.
	StyleTopics SummaryStyle = "topics"
)

// KeyMoment is a transcript segment judged important enough to surface in
// a summary.
type KeyMoment struct {
	SegmentID string  `json:"segmentId"`
	Start     float64 `json:"start"`
	Text      string  `json:"text"`
	Score     int     `json:"score"`
}

// EpisodeSummary describes one media file for a listener.
type EpisodeSummary struct {
	FileID     string       `json:"fileId"`
	Style      SummaryStyle `json:"style"`
	Text       string       `json:"text"`
	KeyMoments []KeyMoment  `json:"keyMoments"`
}

// Recommendation points a listener at a related episode, with the
// reasoning behind the pick.
type Recommendation struct {
	FileID string `json:"fileId"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
	Score  int    `json:"score"`
}

var (
	importanceKeywords = []string{"important", "key", "main", "primary", "significant", "crucial", "essential"}
	questionIndicators = []string{"what", "how", "why", "when", "where", "who", "?"}
	quoteIndicators    = []string{"said", "mentioned", "stated", "explained", "described", "noted"}
)

const (
	keyMomentMinScore = 2
	keyMomentLimit    = 15
	defaultRecLimit   = 3
)

// Summarize builds an episode summary. Key moments and the composed text
// are deterministic; when a reply provider is configured it phrases the
// summary text, falling back to the composed one on failure.
func (r *Resolver) Summarize(ctx context.Context, snap catalog.Snapshot, fileID string, style SummaryStyle) (EpisodeSummary, error) {
	file, ok := snap.File(fileID)
	if !ok {
		return EpisodeSummary{}, fmt.Errorf("%w: %s", ErrUnknownFile, fileID)
	}
	if style == "" {
		style = StyleSynopsis
	}
	if style != StyleSynopsis && style != StyleTopics {
		return EpisodeSummary{}, fmt.Errorf("unknown summary style %q", style)
	}

	segs := snap.Segments(fileID)
	moments := keyMoments(segs)
	text := composeSummary(file, segs, moments, style)
	if r.replies != nil {
		reply, err := r.replies.Generate(ctx, summaryPrompt(file, segs, style))
		if err != nil {
			r.log.Warn().Err(err).Str("file", fileID).Msg("reply provider failed, using composed summary")
		} else if strings.TrimSpace(reply) != "" {
			text = reply
		}
	}
	return EpisodeSummary{FileID: fileID, Style: style, Text: text, KeyMoments: moments}, nil
}

// Recommend ranks other episodes by the topics and title terms they share
// with the given one. Pure function of the snapshot: the same catalog
// always yields the same picks in the same order.
func (r *Resolver) Recommend(snap catalog.Snapshot, fileID string, limit int) ([]Recommendation, error) {
	base, ok := snap.File(fileID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFile, fileID)
	}
	if limit <= 0 {
		limit = defaultRecLimit
	}

	baseTerms := tokenize(base.Title + " " + strings.Join(base.Topics, " "))
	var out []Recommendation
	for _, f := range snap.Files {
		if f.ID == base.ID {
			continue
		}
		shared := sharedTopics(base.Topics, f.Topics)
		score := len(shared)*topicWeight + overlapScore(baseTerms, f.Title)
		if score == 0 {
			continue
		}
		reason := "similar title"
		if len(shared) > 0 {
			reason = "also covers " + strings.Join(shared, ", ")
		}
		out = append(out, Recommendation{FileID: f.ID, Title: f.Title, Reason: reason, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].FileID < out[j].FileID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// keyMoments scores segments on length, emphasis keywords, questions,
// quotes and position, keeping the ones that cross the threshold.
func keyMoments(segs []catalog.Segment) []KeyMoment {
	n := len(segs)
	var out []KeyMoment
	for i, seg := range segs {
		text := strings.TrimSpace(seg.Text)
		lower := strings.ToLower(text)

		score := 0
		if len(text) > 150 {
			score += 2
		} else if len(text) > 100 {
			score++
		}
		for _, kw := range importanceKeywords {
			if strings.Contains(lower, kw) {
				score += 2
				break
			}
		}
		if containsAny(lower, questionIndicators) {
			score++
		}
		if containsAny(lower, quoteIndicators) {
			score++
		}
		// openings and endings carry extra weight
		if float64(i) < float64(n)*0.1 || float64(i) > float64(n)*0.9 {
			score++
		}

		if score >= keyMomentMinScore {
			out = append(out, KeyMoment{SegmentID: seg.ID, Start: seg.Start, Text: preview(text), Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Start < out[j].Start
	})
	if len(out) > keyMomentLimit {
		out = out[:keyMomentLimit]
	}
	return out
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func sharedTopics(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, t := range a {
		set[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	var out []string
	for _, t := range b {
		if _, ok := set[strings.ToLower(strings.TrimSpace(t))]; ok {
			out = append(out, t)
		}
	}
	return out
}

func composeSummary(file catalog.MediaFile, segs []catalog.Segment, moments []KeyMoment, style SummaryStyle) string {
	var b strings.Builder
	switch style {
	case StyleTopics:
		if len(file.Topics) > 0 {
			fmt.Fprintf(&b, "%s covers %s.", file.Title, strings.Join(file.Topics, ", "))
		} else {
			fmt.Fprintf(&b, "%s has no topic tags yet.", file.Title)
		}
	default:
		fmt.Fprintf(&b, "%s runs %s across %d transcribed segments.", file.Title, formatTimestamp(file.Duration), len(segs))
		if len(file.Topics) > 0 {
			fmt.Fprintf(&b, " It covers %s.", strings.Join(file.Topics, ", "))
		}
	}
	if len(moments) > 0 {
		fmt.Fprintf(&b, " A standout moment at %s: %s", formatTimestamp(moments[0].Start), moments[0].Text)
	}
	return b.String()
}

func summaryPrompt(file catalog.MediaFile, segs []catalog.Segment, style SummaryStyle) string {
	var b strings.Builder
	if style == StyleTopics {
		b.WriteString("List the main topics of this podcast episode, casually, like telling a friend what it was about.\n")
	} else {
		b.WriteString("Write a casual, engaging synopsis of this podcast episode in under 200 words, like telling a friend about it.\n")
	}
	fmt.Fprintf(&b, "Episode: %s (%s)\nTranscript:\n", file.Title, formatTimestamp(file.Duration))
	for _, seg := range segs {
		b.WriteString(seg.Text)
		b.WriteString(" ")
	}
	return b.String()
}
