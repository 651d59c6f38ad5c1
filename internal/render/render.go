// Package render interprets character reply text for presentation.
//
// Replies interleave spoken dialogue with stage directions wrapped in
// asterisks ("*sighs* Hello there"). [Spans] splits a reply into those two
// kinds of segment, and [MoodOf] derives a coarse emotional cue from the
// first stage direction.
package render

import "strings"

// SpanKind distinguishes dialogue from stage directions.
type SpanKind int

const (
	// SpanPlain is spoken dialogue.
	SpanPlain SpanKind = iota
	// SpanStage is a stage direction, shown de-emphasized and without the
	// surrounding asterisks.
	SpanStage
)

// Span is one presentation segment of a reply.
type Span struct {
	Kind SpanKind
	Text string
}

// Spans splits content into dialogue and stage-direction segments, in
// order. Stage directions are the shortest paired *...* runs; an asterisk
// with no closing partner renders as plain text. Empty segments are
// dropped, so Spans("") returns nil.
func Spans(content string) []Span {
	var spans []Span
	for len(content) > 0 {
		open := strings.IndexByte(content, '*')
		if open < 0 {
			spans = appendSpan(spans, SpanPlain, content)
			break
		}
		rel := strings.IndexByte(content[open+1:], '*')
		if rel < 0 {
			// Unterminated direction, keep the asterisk verbatim.
			spans = appendSpan(spans, SpanPlain, content)
			break
		}
		end := open + 1 + rel
		spans = appendSpan(spans, SpanPlain, content[:open])
		spans = appendSpan(spans, SpanStage, content[open+1:end])
		content = content[end+1:]
	}
	return spans
}

func appendSpan(spans []Span, kind SpanKind, text string) []Span {
	if text == "" {
		return spans
	}
	return append(spans, Span{Kind: kind, Text: text})
}

// Mood is a coarse emotional cue derived from a reply's stage directions.
type Mood string

const (
	MoodNeutral Mood = "neutral"
	MoodHappy   Mood = "happy"
	MoodSad     Mood = "sad"
	MoodAngry   Mood = "angry"
	MoodShy     Mood = "shy"
)

// moodKeywords is checked in order so a direction matching two moods
// resolves the same way every time.
var moodKeywords = []struct {
	mood     Mood
	keywords []string
}{
	{MoodHappy, []string{"smile", "laugh", "happy", "joy", "giggle", "grin", "chuckle", "beam"}},
	{MoodSad, []string{"sigh", "sad", "tear", "cry", "sob", "frown", "whimper"}},
	{MoodAngry, []string{"glare", "angry", "snap", "hiss", "growl", "snarl", "scowl"}},
	{MoodShy, []string{"blush", "shy", "look away", "fidget", "stammer", "shuffle"}},
}

// MoodOf derives the mood from the first stage direction in content.
// Content without a recognizable direction is neutral.
func MoodOf(content string) Mood {
	parts := strings.SplitN(content, "*", 3)
	if len(parts) < 3 {
		return MoodNeutral
	}
	direction := strings.ToLower(parts[1])
	for _, entry := range moodKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(direction, kw) {
				return entry.mood
			}
		}
	}
	return MoodNeutral
}
