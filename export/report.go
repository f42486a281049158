// Package export renders analysis records into shareable documents: a
// markdown incident report for a single record and a flat CSV of the
// history. Both are pure formatting over the data model.
package export

import (
	"fmt"
	"strings"
	"time"

	"voiceguard/core"
)

// RenderReport produces a markdown incident report for one record.
func RenderReport(rec *core.AnalysisRecord) string {
	var b strings.Builder
	verdict := core.Classify(rec.RiskScore)

	fmt.Fprintf(&b, "# Audio Threat Report: %s\n\n", rec.Filename)
	fmt.Fprintf(&b, "- Analysis ID: `%s`\n", rec.ID)
	fmt.Fprintf(&b, "- Analyzed: %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Risk score: **%d/100** (%s)\n", rec.RiskScore, verdict.Label)
	fmt.Fprintf(&b, "- AI-generated voice: %s\n", yesNo(rec.IsAiGenerated))
	fmt.Fprintf(&b, "- Confidence: %.0f%%\n", rec.ConfidenceScore*100)
	b.WriteString("\n---\n\n")

	if rec.Summary != "" {
		b.WriteString("## Summary\n\n")
		fmt.Fprintf(&b, "> %s\n\n", rec.Summary)
	}

	if len(rec.Threats) > 0 {
		fmt.Fprintf(&b, "## Threats (%d)\n\n", len(rec.Threats))
		for i, t := range rec.Threats {
			fmt.Fprintf(&b, "### %d. %s (%s severity)\n\n", i+1, t.ThreatType, t.Severity)
			if t.Description != "" {
				fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(t.Description))
			}
			fmt.Fprintf(&b, "- Confidence: %.0f%%\n", t.Confidence*100)
			if t.Recommendation != "" {
				fmt.Fprintf(&b, "- Recommendation: %s\n", strings.TrimSpace(t.Recommendation))
			}
			b.WriteString("\n")
		}
	} else {
		b.WriteString("## Threats\n\nNo threats detected.\n\n")
	}

	b.WriteString("## Transcript\n\n")
	segments := core.HighlightTranscript(rec.Transcription, core.SpansFromFindings(rec.Threats))
	for _, seg := range segments {
		if seg.Flagged {
			fmt.Fprintf(&b, "**%s**", seg.Text)
		} else {
			b.WriteString(seg.Text)
		}
	}
	b.WriteString("\n")
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
