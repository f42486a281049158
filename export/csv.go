package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"voiceguard/core"
)

// WriteCSV writes the history as a flat table, one row per record.
func WriteCSV(w io.Writer, records []core.AnalysisRecord) error {
	cw := csv.NewWriter(w)
	header := []string{"id", "filename", "created_at", "risk_score", "status", "is_ai_generated", "confidence_score", "threat_count", "summary"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Filename,
			rec.CreatedAt.Format(time.RFC3339),
			strconv.Itoa(rec.RiskScore),
			string(rec.Status),
			strconv.FormatBool(rec.IsAiGenerated),
			strconv.FormatFloat(rec.ConfidenceScore, 'f', 2, 64),
			strconv.Itoa(len(rec.Threats)),
			rec.Summary,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}
