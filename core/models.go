package core

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the three-tier classification derived from a risk score.
type Status string

const (
	StatusSafe       Status = "safe"
	StatusSuspicious Status = "suspicious"
	StatusDanger     Status = "danger"
)

// Severity of a single threat finding. The upstream model is free to invent
// threat categories, but severity is a closed set; unknown values are kept
// as-is and rendered like medium.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AudioFormat is the declared container of an uploaded clip.
type AudioFormat string

const (
	FormatWebm AudioFormat = "webm"
	FormatMP3  AudioFormat = "mp3"
	FormatWav  AudioFormat = "wav"
)

// NormalizeFormat maps an arbitrary content type or filename to the closed
// format set. Anything unrecognized is declared as mp3, matching the gateway
// contract.
func NormalizeFormat(hint string) AudioFormat {
	h := strings.ToLower(hint)
	switch {
	case strings.Contains(h, "webm"):
		return FormatWebm
	case strings.Contains(h, "wav"):
		return FormatWav
	default:
		return FormatMP3
	}
}

// ThreatResult is one flagged pattern as returned by the analysis gateway.
// StartIndex/EndIndex are half-open rune offsets into the transcription;
// out-of-range values are tolerated here and clamped at render time.
type ThreatResult struct {
	ThreatType     string   `json:"threatType"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	Confidence     float64  `json:"confidence"`
	Recommendation string   `json:"recommendation"`
	StartIndex     int      `json:"startIndex"`
	EndIndex       int      `json:"endIndex"`
}

// AnalysisResult is the wire shape of a gateway threat assessment. Field
// names are camelCase because that is the model's JSON contract.
type AnalysisResult struct {
	RiskScore       int            `json:"riskScore"`
	Status          Status         `json:"status"`
	IsAiGenerated   bool           `json:"isAiGenerated"`
	ConfidenceScore float64        `json:"confidenceScore"`
	Summary         string         `json:"summary"`
	Threats         []ThreatResult `json:"threats"`
}

// ThreatLabels returns the threat category names in result order.
func (r AnalysisResult) ThreatLabels() []string {
	labels := make([]string, 0, len(r.Threats))
	for _, t := range r.Threats {
		labels = append(labels, t.ThreatType)
	}
	return labels
}

// ThreatFinding is a persisted threat row owned by one AnalysisRecord.
type ThreatFinding struct {
	ID             string   `json:"id"`
	AnalysisID     string   `json:"analysis_id"`
	ThreatType     string   `json:"threat_type"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	Confidence     float64  `json:"confidence"`
	Recommendation string   `json:"recommendation"`
	StartIndex     int      `json:"start_index"`
	EndIndex       int      `json:"end_index"`
}

// AnalysisRecord is the persisted unit of work. Records are immutable once
// written; the only mutation the store exposes is deletion.
type AnalysisRecord struct {
	ID              string          `json:"id"`
	Filename        string          `json:"filename"`
	CreatedAt       time.Time       `json:"created_at"`
	Transcription   string          `json:"transcription"`
	RiskScore       int             `json:"risk_score"`
	Status          Status          `json:"status"`
	IsAiGenerated   bool            `json:"is_ai_generated"`
	ConfidenceScore float64         `json:"confidence_score"`
	Summary         string          `json:"ai_summary"`
	Threats         []ThreatFinding `json:"threats"`
}

// NewRecord builds a record from a gateway result. Status is always derived
// from the risk score here; an upstream-supplied status is never trusted.
func NewRecord(filename, transcription string, res AnalysisResult) AnalysisRecord {
	rec := AnalysisRecord{
		ID:              NewID(),
		Filename:        filename,
		CreatedAt:       time.Now().UTC(),
		Transcription:   transcription,
		RiskScore:       res.RiskScore,
		Status:          Classify(res.RiskScore).Status,
		IsAiGenerated:   res.IsAiGenerated,
		ConfidenceScore: res.ConfidenceScore,
		Summary:         res.Summary,
	}
	for _, t := range res.Threats {
		rec.Threats = append(rec.Threats, ThreatFinding{
			ID:             NewID(),
			AnalysisID:     rec.ID,
			ThreatType:     t.ThreatType,
			Description:    t.Description,
			Severity:       t.Severity,
			Confidence:     t.Confidence,
			Recommendation: t.Recommendation,
			StartIndex:     t.StartIndex,
			EndIndex:       t.EndIndex,
		})
	}
	return rec
}

// LiveSnapshot is the reduced view kept by the live monitor. Positions are
// discarded because live segments do not track offsets.
type LiveSnapshot struct {
	RiskScore int      `json:"risk_score"`
	Status    Status   `json:"status"`
	Threats   []string `json:"threats"`
}

// NewID returns an opaque unique identifier.
func NewID() string {
	return uuid.NewString()
}
