package core

import "math"

// Stats aggregates the analysis history for the dashboard.
type Stats struct {
	TotalScans     int `json:"total_scans"`
	ThreatDetected int `json:"threat_detected"`
	SafeScans      int `json:"safe_scans"`
	AvgRiskScore   int `json:"avg_risk_score"`
}

// ComputeStats reduces a set of records into counters and the rounded mean
// risk score. The result does not depend on input order, and an empty
// history yields all zeros.
func ComputeStats(records []AnalysisRecord) Stats {
	stats := Stats{TotalScans: len(records)}
	if len(records) == 0 {
		return stats
	}
	sum := 0
	for _, rec := range records {
		sum += rec.RiskScore
		switch rec.Status {
		case StatusDanger:
			stats.ThreatDetected++
		case StatusSafe:
			stats.SafeScans++
		}
	}
	stats.AvgRiskScore = int(math.Round(float64(sum) / float64(len(records))))
	return stats
}
