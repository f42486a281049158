package core

// Classification is the display-ready verdict for one risk score.
type Classification struct {
	Status    Status `json:"status"`
	Label     string `json:"label"`
	ColorTier string `json:"color_tier"`
}

// Risk thresholds, exclusive of the upper bound.
const (
	suspiciousThreshold = 30
	dangerThreshold     = 70
)

// Classify maps a risk score to its status tier. This is the single source
// of truth: the persisted status column and every badge the API serves must
// agree with it for the same score. Out-of-range scores are clamped.
func Classify(riskScore int) Classification {
	if riskScore < 0 {
		riskScore = 0
	}
	if riskScore > 100 {
		riskScore = 100
	}
	switch {
	case riskScore < suspiciousThreshold:
		return Classification{Status: StatusSafe, Label: "Safe", ColorTier: "success"}
	case riskScore < dangerThreshold:
		return Classification{Status: StatusSuspicious, Label: "Suspicious", ColorTier: "warning"}
	default:
		return Classification{Status: StatusDanger, Label: "High Risk", ColorTier: "destructive"}
	}
}
