package processors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"voiceguard/core"
	"voiceguard/storage"
)

type stubTranscriber struct {
	text string
	err  error
}

func (s stubTranscriber) Transcribe(ctx context.Context, audio []byte, format core.AudioFormat) (string, error) {
	return s.text, s.err
}

type stubAnalyzer struct {
	result core.AnalysisResult
	err    error
}

func (s stubAnalyzer) Analyze(ctx context.Context, transcription string, mode AnalysisMode) (core.AnalysisResult, error) {
	return s.result, s.err
}

type failingIndex struct{}

func (failingIndex) Index(ctx context.Context, id, filename, transcription string) error {
	return errors.New("embedding service unavailable")
}
func (failingIndex) Search(ctx context.Context, query string, topK int) ([]storage.SimilarHit, error) {
	return nil, errors.New("embedding service unavailable")
}
func (failingIndex) Remove(ctx context.Context, id string) error { return nil }

func stepStatus(steps []Step, name string) string {
	for _, s := range steps {
		if s.Name == name {
			return s.Status
		}
	}
	return ""
}

func TestProcessAudioPersistsWithRecomputedStatus(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &Pipeline{
		Transcriber: stubTranscriber{text: "Act now, verify your account immediately"},
		Analyzer: stubAnalyzer{result: core.AnalysisResult{
			RiskScore: 85,
			Status:    core.StatusSafe, // upstream claim, must not be trusted
			Summary:   "Classic pressure scam.",
			Threats: []core.ThreatResult{
				{ThreatType: "Urgency Pressure", Severity: core.SeverityHigh, StartIndex: 0, EndIndex: 7},
			},
		}},
		Store: store,
		Index: storage.NoopIndex{},
	}

	resp, err := p.ProcessAudio(context.Background(), "call.mp3", []byte("fake audio"), core.FormatMP3)
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if resp.ID == "" {
		t.Fatal("response has no analysis ID")
	}
	for _, name := range []string{"transcribe", "analyze", "save", "index"} {
		if got := stepStatus(resp.Steps, name); got != "completed" {
			t.Errorf("step %s = %q, want completed", name, got)
		}
	}
	if len(resp.Segments) == 0 {
		t.Error("no highlighted segments in response")
	}

	rec, err := store.GetAnalysis(context.Background(), resp.ID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if rec.Status != core.StatusDanger {
		t.Errorf("persisted status = %q, want %q", rec.Status, core.StatusDanger)
	}
	if rec.RiskScore != 85 || rec.Filename != "call.mp3" {
		t.Errorf("persisted record mismatch: %+v", rec)
	}
	if len(rec.Threats) != 1 || rec.Threats[0].ThreatType != "Urgency Pressure" {
		t.Errorf("persisted threats = %+v", rec.Threats)
	}

	list, err := store.ListAnalyses(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListAnalyses: %v", err)
	}
	stats := core.ComputeStats(list)
	if stats.TotalScans != 1 || stats.ThreatDetected != 1 {
		t.Errorf("stats = %+v, want one scan counted as a threat", stats)
	}
}

func TestProcessAudioTranscribeFailurePersistsNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &Pipeline{
		Transcriber: stubTranscriber{err: fmt.Errorf("transcription: %w", core.ErrRateLimited)},
		Analyzer:    stubAnalyzer{},
		Store:       store,
		Index:       storage.NoopIndex{},
	}

	resp, err := p.ProcessAudio(context.Background(), "call.mp3", []byte("x"), core.FormatWebm)
	if err == nil {
		t.Fatal("ProcessAudio succeeded with a failing transcriber")
	}
	if !errors.Is(err, core.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited in chain", err)
	}
	if got := stepStatus(resp.Steps, "transcribe"); got != "failed" {
		t.Errorf("transcribe step = %q, want failed", got)
	}
	if resp.Message != "Audio transcription failed" {
		t.Errorf("Message = %q", resp.Message)
	}

	list, _ := store.ListAnalyses(context.Background(), 0)
	if len(list) != 0 {
		t.Errorf("store has %d records after aborted pipeline, want 0", len(list))
	}
}

func TestProcessAudioAnalyzeFailurePersistsNothing(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &Pipeline{
		Transcriber: stubTranscriber{text: "hello there"},
		Analyzer:    stubAnalyzer{err: fmt.Errorf("analysis: %w", core.ErrQuotaExceeded)},
		Store:       store,
		Index:       storage.NoopIndex{},
	}

	resp, err := p.ProcessAudio(context.Background(), "call.wav", []byte("x"), core.FormatWav)
	if err == nil {
		t.Fatal("ProcessAudio succeeded with a failing analyzer")
	}
	if !errors.Is(err, core.ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded in chain", err)
	}
	if got := stepStatus(resp.Steps, "analyze"); got != "failed" {
		t.Errorf("analyze step = %q, want failed", got)
	}
	list, _ := store.ListAnalyses(context.Background(), 0)
	if len(list) != 0 {
		t.Errorf("store has %d records after aborted pipeline, want 0", len(list))
	}
}

func TestProcessAudioIndexFailureIsWarningOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	p := &Pipeline{
		Transcriber: stubTranscriber{text: "a perfectly ordinary call"},
		Analyzer:    stubAnalyzer{result: core.AnalysisResult{RiskScore: 5, Summary: "Benign."}},
		Store:       store,
		Index:       failingIndex{},
	}

	resp, err := p.ProcessAudio(context.Background(), "call.mp3", []byte("x"), core.FormatMP3)
	if err != nil {
		t.Fatalf("ProcessAudio: %v", err)
	}
	if len(resp.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly one", resp.Warnings)
	}
	if got := stepStatus(resp.Steps, "index"); got != "failed" {
		t.Errorf("index step = %q, want failed", got)
	}
	if !strings.Contains(resp.Message, "(with warnings)") {
		t.Errorf("Message = %q, want warning suffix", resp.Message)
	}
	if _, err := store.GetAnalysis(context.Background(), resp.ID); err != nil {
		t.Errorf("record not saved despite index failure: %v", err)
	}
}
