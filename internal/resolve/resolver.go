// Package resolve turns a finished user utterance into either a
// conversational reply or a reply plus a playback instruction. Selection
// is a pure function of the utterance and the catalog snapshot so the
// same input always lands on the same segment.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vshah-se/superpod/internal/catalog"
)

// PlaybackIntent instructs the coordinator to play one segment. It is
// produced for a single utterance and consumed once.
type PlaybackIntent struct {
	FileID  string
	Segment catalog.Segment
	Reason  string
}

// Result is the resolver's answer for one utterance.
type Result struct {
	ReplyText string
	Intent    *PlaybackIntent
}

// ReplyProvider phrases conversational answers. It is optional; when nil
// or failing, the resolver composes a reply from the matches itself so
// the turn never depends on an upstream model.
type ReplyProvider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// FallbackPolicy names the segment used when a playback request matches
// nothing. Empty fields mean "earliest segment of the lowest-id file".
type FallbackPolicy struct {
	FileID    string
	SegmentID string
}

// Resolver scores catalog segments against utterances.
type Resolver struct {
	replies  ReplyProvider
	fallback FallbackPolicy
	log      zerolog.Logger
}

func New(replies ReplyProvider, fallback FallbackPolicy, log zerolog.Logger) *Resolver {
	return &Resolver{
		replies:  replies,
		fallback: fallback,
		log:      log.With().Str("component", "resolver").Logger(),
	}
}

// playback verbs; substring match keeps multi-word entries like "jump to"
// working without a phrase tokenizer.
var playbackLexicon = []string{
	"play", "start", "listen", "jump to", "go to", "skip to",
	"hear", "show me", "find", "locate",
}

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "to": {},
	"of": {}, "in": {}, "on": {}, "for": {}, "is": {}, "it": {},
	"uh": {}, "um": {}, "about": {}, "part": {}, "me": {},
}

const topicWeight = 2

// Resolve classifies the utterance and selects the best segment. The
// caller guarantees the utterance is non-empty after trimming.
func (r *Resolver) Resolve(ctx context.Context, utterance string, snap catalog.Snapshot) (Result, error) {
	if snap.Empty() {
		return Result{ReplyText: "There is no transcribed content available yet. Try again once an episode has finished processing."}, nil
	}

	playback := isPlaybackRequest(utterance)
	ranked := r.rank(utterance, snap)

	if playback {
		return r.resolvePlayback(utterance, snap, ranked)
	}
	return r.resolveConversational(ctx, utterance, snap, ranked)
}

func isPlaybackRequest(utterance string) bool {
	lower := strings.ToLower(utterance)
	for _, verb := range playbackLexicon {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

type scored struct {
	seg   catalog.Segment
	score int
	file  *catalog.MediaFile
}

// rank scores every segment in the snapshot and returns them in total
// order: score desc, confidence desc, startTime asc, file id asc,
// segment id asc.
func (r *Resolver) rank(utterance string, snap catalog.Snapshot) []scored {
	keywords := tokenize(utterance)
	var out []scored
	for i := range snap.Files {
		f := &snap.Files[i]
		topicHits := topicOverlap(keywords, f.Topics)
		for _, seg := range snap.Segments(f.ID) {
			s := overlapScore(keywords, seg.Text) + topicHits*topicWeight
			out = append(out, scored{seg: seg, score: s, file: f})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.seg.Confidence != b.seg.Confidence {
			return a.seg.Confidence > b.seg.Confidence
		}
		if a.seg.Start != b.seg.Start {
			return a.seg.Start < b.seg.Start
		}
		if a.seg.FileID != b.seg.FileID {
			return a.seg.FileID < b.seg.FileID
		}
		return a.seg.ID < b.seg.ID
	})
	return out
}

func (r *Resolver) resolvePlayback(utterance string, snap catalog.Snapshot, ranked []scored) (Result, error) {
	if len(ranked) > 0 && ranked[0].score > 0 {
		top := ranked[0]
		intent := &PlaybackIntent{
			FileID:  top.seg.FileID,
			Segment: top.seg,
			Reason:  fmt.Sprintf("keyword match score %d, confidence %.2f", top.score, top.seg.Confidence),
		}
		reply := fmt.Sprintf("Playing from %s: %s", top.file.Title, preview(top.seg.Text))
		return Result{ReplyText: reply, Intent: intent}, nil
	}

	// Playback requests never come back empty-handed: degrade to the
	// configured default segment and say so.
	seg, file, ok := r.fallbackSegment(snap)
	if !ok {
		return Result{ReplyText: "I could not find a matching moment, and there are no playable segments yet."}, nil
	}
	intent := &PlaybackIntent{
		FileID:  seg.FileID,
		Segment: seg,
		Reason:  "no keyword match, default segment",
	}
	reply := fmt.Sprintf("I couldn't find an exact match for %q, so here is a popular moment from %s: %s",
		strings.TrimSpace(utterance), file.Title, preview(seg.Text))
	return Result{ReplyText: reply, Intent: intent}, nil
}

func (r *Resolver) resolveConversational(ctx context.Context, utterance string, snap catalog.Snapshot, ranked []scored) (Result, error) {
	var matches []scored
	for _, s := range ranked {
		if s.score > 0 {
			matches = append(matches, s)
		}
		if len(matches) == 3 {
			break
		}
	}

	composed := composeConversationalReply(matches)
	if r.replies == nil {
		return Result{ReplyText: composed}, nil
	}

	reply, err := r.replies.Generate(ctx, conversationalPrompt(utterance, matches))
	if err != nil {
		r.log.Warn().Err(err).Msg("reply provider failed, using composed reply")
		return Result{ReplyText: composed}, nil
	}
	if strings.TrimSpace(reply) == "" {
		return Result{ReplyText: composed}, nil
	}
	return Result{ReplyText: reply}, nil
}

// fallbackSegment resolves the configured policy, or the earliest segment
// of the lowest-id file when the policy is empty or stale.
func (r *Resolver) fallbackSegment(snap catalog.Snapshot) (catalog.Segment, catalog.MediaFile, bool) {
	if r.fallback.FileID != "" {
		if f, ok := snap.File(r.fallback.FileID); ok {
			for _, seg := range snap.Segments(f.ID) {
				if r.fallback.SegmentID == "" || seg.ID == r.fallback.SegmentID {
					return seg, f, true
				}
			}
		}
	}
	for _, f := range snap.Files {
		if segs := snap.Segments(f.ID); len(segs) > 0 {
			return segs[0], f, true
		}
	}
	return catalog.Segment{}, catalog.MediaFile{}, false
}

func composeConversationalReply(matches []scored) string {
	if len(matches) == 0 {
		return "I didn't find anything about that in the current episodes. You can ask me to play a topic, like \"play the part about startup funding\"."
	}
	var b strings.Builder
	b.WriteString("A few moments you might like: ")
	for i, m := range matches {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s at %s (%s)", m.file.Title, formatTimestamp(m.seg.Start), preview(m.seg.Text))
	}
	b.WriteString(". Say \"play\" and the topic to jump there.")
	return b.String()
}

func conversationalPrompt(utterance string, matches []scored) string {
	var b strings.Builder
	b.WriteString("Listener asked: ")
	b.WriteString(utterance)
	if len(matches) > 0 {
		b.WriteString("\nRelevant transcript excerpts:\n")
		for _, m := range matches {
			fmt.Fprintf(&b, "- %s at %s: %s\n", m.file.Title, formatTimestamp(m.seg.Start), m.seg.Text)
		}
	}
	return b.String()
}

func tokenize(text string) map[string]struct{} {
	out := make(map[string]struct{})
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		w := cur.String()
		cur.Reset()
		if _, stop := stopwords[w]; !stop {
			out[w] = struct{}{}
		}
	}
	for _, r := range strings.ToLower(text) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return out
}

func overlapScore(keywords map[string]struct{}, text string) int {
	score := 0
	for w := range tokenize(text) {
		if _, ok := keywords[w]; ok {
			score++
		}
	}
	return score
}

func topicOverlap(keywords map[string]struct{}, topics []string) int {
	hits := 0
	for _, topic := range topics {
		for w := range tokenize(topic) {
			if _, ok := keywords[w]; ok {
				hits++
			}
		}
	}
	return hits
}

func preview(text string) string {
	const max = 120
	text = strings.TrimSpace(text)
	if len(text) <= max {
		return text
	}
	cut := strings.LastIndex(text[:max], " ")
	if cut <= 0 {
		cut = max
	}
	return text[:cut] + "..."
}

func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
