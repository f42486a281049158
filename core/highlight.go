package core

import "sort"

// Span marks a flagged half-open rune range [Start, End) in a transcript.
type Span struct {
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Severity Severity `json:"severity"`
	Label    string   `json:"label"`
}

// TranscriptSegment is one render-ready slice of a transcript, either plain
// or flagged with the severity and label of the span that covers it.
type TranscriptSegment struct {
	Text     string   `json:"text"`
	Flagged  bool     `json:"flagged"`
	Severity Severity `json:"severity,omitempty"`
	Label    string   `json:"label,omitempty"`
}

// SpansFromThreats converts gateway threat results into highlight spans.
func SpansFromThreats(threats []ThreatResult) []Span {
	spans := make([]Span, 0, len(threats))
	for _, t := range threats {
		spans = append(spans, Span{Start: t.StartIndex, End: t.EndIndex, Severity: t.Severity, Label: t.ThreatType})
	}
	return spans
}

// SpansFromFindings converts persisted threat rows into highlight spans.
func SpansFromFindings(threats []ThreatFinding) []Span {
	spans := make([]Span, 0, len(threats))
	for _, t := range threats {
		spans = append(spans, Span{Start: t.StartIndex, End: t.EndIndex, Severity: t.Severity, Label: t.ThreatType})
	}
	return spans
}

// HighlightTranscript merges flagged spans into an ordered segment sequence.
// Offsets are rune offsets; invalid spans are clamped or dropped rather than
// allowed to panic during rendering. Concatenating the returned segment texts
// always reproduces the input exactly.
//
// Spans are processed in ascending (start, end) order, ties kept in input
// order. A span that starts before the cursor is truncated to the cursor so
// already-flagged text is never flagged twice; a span emptied by truncation
// is dropped.
func HighlightTranscript(text string, spans []Span) []TranscriptSegment {
	runes := []rune(text)
	n := len(runes)

	valid := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if sp.Start < 0 {
			sp.Start = 0
		}
		if sp.End > n {
			sp.End = n
		}
		if sp.Start >= sp.End {
			continue
		}
		valid = append(valid, sp)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].Start != valid[j].Start {
			return valid[i].Start < valid[j].Start
		}
		return valid[i].End < valid[j].End
	})

	if len(valid) == 0 {
		if n == 0 {
			return nil
		}
		return []TranscriptSegment{{Text: text}}
	}

	segments := make([]TranscriptSegment, 0, len(valid)*2+1)
	cursor := 0
	for _, sp := range valid {
		if sp.Start > cursor {
			segments = append(segments, TranscriptSegment{Text: string(runes[cursor:sp.Start])})
			cursor = sp.Start
		}
		start := sp.Start
		if start < cursor {
			start = cursor
		}
		if start >= sp.End {
			continue
		}
		segments = append(segments, TranscriptSegment{
			Text:     string(runes[start:sp.End]),
			Flagged:  true,
			Severity: sp.Severity,
			Label:    sp.Label,
		})
		cursor = sp.End
	}
	if cursor < n {
		segments = append(segments, TranscriptSegment{Text: string(runes[cursor:])})
	}
	return segments
}
