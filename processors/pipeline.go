package processors

import (
	"context"
	"fmt"
	"log"

	"voiceguard/core"
	"voiceguard/storage"
)

// Step records the outcome of one pipeline stage.
type Step struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "completed", "failed", "skipped"
	Error  string `json:"error,omitempty"`
}

// ProcessResponse is the result of one upload-and-analyze unit of work.
type ProcessResponse struct {
	ID            string                   `json:"id,omitempty"`
	Filename      string                   `json:"filename"`
	Transcription string                   `json:"transcription,omitempty"`
	Result        *core.AnalysisResult     `json:"result,omitempty"`
	Segments      []core.TranscriptSegment `json:"segments,omitempty"`
	Steps         []Step                   `json:"steps"`
	Warnings      []string                 `json:"warnings,omitempty"`
	Message       string                   `json:"message"`
}

// Pipeline sequences transcribe, analyze, persist and index as one logical
// unit of work.
type Pipeline struct {
	Transcriber Transcriber
	Analyzer    Analyzer
	Store       storage.AnalysisStore
	Index       storage.SimilarityIndex
}

// ProcessAudio runs the full pipeline on one clip. Transcription strictly
// precedes analysis; a failure in either aborts before anything is
// persisted, and the returned error keeps the gateway's rate-limit/quota
// conditions distinguishable. Once the record is saved the operation is
// complete: similarity indexing failures are reported as warnings only.
func (p *Pipeline) ProcessAudio(ctx context.Context, filename string, audio []byte, format core.AudioFormat) (*ProcessResponse, error) {
	resp := &ProcessResponse{
		Filename: filename,
		Steps:    make([]Step, 0, 4),
	}

	log.Printf("Processing %s (%d bytes, %s)", filename, len(audio), format)

	transcription, err := p.Transcriber.Transcribe(ctx, audio, format)
	if err != nil {
		resp.Steps = append(resp.Steps, Step{Name: "transcribe", Status: "failed", Error: err.Error()})
		resp.Message = "Audio transcription failed"
		return resp, fmt.Errorf("transcribe audio: %w", err)
	}
	resp.Transcription = transcription
	resp.Steps = append(resp.Steps, Step{Name: "transcribe", Status: "completed"})

	result, err := p.Analyzer.Analyze(ctx, transcription, ModeAnalyze)
	if err != nil {
		resp.Steps = append(resp.Steps, Step{Name: "analyze", Status: "failed", Error: err.Error()})
		resp.Message = "Threat analysis failed"
		return resp, fmt.Errorf("analyze transcription: %w", err)
	}
	resp.Result = &result
	resp.Segments = core.HighlightTranscript(transcription, core.SpansFromThreats(result.Threats))
	resp.Steps = append(resp.Steps, Step{Name: "analyze", Status: "completed"})

	rec := core.NewRecord(filename, transcription, result)
	if err := p.Store.SaveAnalysis(ctx, &rec); err != nil {
		resp.Steps = append(resp.Steps, Step{Name: "save", Status: "failed", Error: err.Error()})
		resp.Message = "Failed to save analysis"
		return resp, fmt.Errorf("save analysis: %w", err)
	}
	resp.ID = rec.ID
	resp.Steps = append(resp.Steps, Step{Name: "save", Status: "completed"})

	if err := p.Index.Index(ctx, rec.ID, rec.Filename, rec.Transcription); err != nil {
		log.Printf("similarity index for %s: %v", rec.ID, err)
		resp.Warnings = append(resp.Warnings, fmt.Sprintf("Similarity indexing failed: %v", err))
		resp.Steps = append(resp.Steps, Step{Name: "index", Status: "failed", Error: err.Error()})
	} else {
		resp.Steps = append(resp.Steps, Step{Name: "index", Status: "completed"})
	}

	resp.Message = fmt.Sprintf("Audio processed successfully. Analysis ID: %s", rec.ID)
	if len(resp.Warnings) > 0 {
		resp.Message += " (with warnings)"
	}
	return resp, nil
}
