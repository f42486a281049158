package core

import "testing"

func TestClassifyBoundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Status
	}{
		{0, StatusSafe},
		{29, StatusSafe},
		{30, StatusSuspicious},
		{69, StatusSuspicious},
		{70, StatusDanger},
		{100, StatusDanger},
	}
	for _, c := range cases {
		got := Classify(c.score)
		if got.Status != c.want {
			t.Errorf("Classify(%d).Status = %q, want %q", c.score, got.Status, c.want)
		}
	}
}

func TestClassifyCoversWholeRange(t *testing.T) {
	for score := 0; score <= 100; score++ {
		got := Classify(score).Status
		if got != StatusSafe && got != StatusSuspicious && got != StatusDanger {
			t.Fatalf("Classify(%d).Status = %q, not a valid status", score, got)
		}
	}
}

func TestClassifyClampsOutOfRange(t *testing.T) {
	if got := Classify(-5); got.Status != StatusSafe {
		t.Errorf("Classify(-5).Status = %q, want safe", got.Status)
	}
	if got := Classify(250); got.Status != StatusDanger {
		t.Errorf("Classify(250).Status = %q, want danger", got.Status)
	}
}

func TestClassifyLabelsAndTiers(t *testing.T) {
	cases := []struct {
		score int
		label string
		tier  string
	}{
		{10, "Safe", "success"},
		{50, "Suspicious", "warning"},
		{90, "High Risk", "destructive"},
	}
	for _, c := range cases {
		got := Classify(c.score)
		if got.Label != c.label || got.ColorTier != c.tier {
			t.Errorf("Classify(%d) = {%q %q}, want {%q %q}", c.score, got.Label, got.ColorTier, c.label, c.tier)
		}
	}
}
