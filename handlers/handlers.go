// Package handlers exposes the analysis pipeline, history store, live
// monitor and exports over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"voiceguard/core"
	"voiceguard/export"
	"voiceguard/processors"
	"voiceguard/storage"
)

// Upload cap for audio clips.
const maxUploadBytes = 25 << 20

// API carries the wired components; Register attaches all routes to a mux.
type API struct {
	Pipeline     *processors.Pipeline
	Transcriber  processors.Transcriber
	Analyzer     processors.Analyzer
	Store        storage.AnalysisStore
	Index        storage.SimilarityIndex
	Live         *processors.LiveMonitor
	HistoryLimit int
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("/process-audio", a.processAudioHandler)
	mux.HandleFunc("/transcribe", a.transcribeHandler)
	mux.HandleFunc("/analyze", a.analyzeHandler)

	mux.HandleFunc("/analyses", a.listAnalysesHandler)
	mux.HandleFunc("/analyses/get", a.getAnalysisHandler)
	mux.HandleFunc("/analyses/delete", a.deleteAnalysisHandler)
	mux.HandleFunc("/stats", a.statsHandler)
	mux.HandleFunc("/similar", a.similarHandler)

	mux.HandleFunc("/live/start", a.liveStartHandler)
	mux.HandleFunc("/live/stop", a.liveStopHandler)
	mux.HandleFunc("/live/transcript", a.liveTranscriptHandler)
	mux.HandleFunc("/live/status", a.liveStatusHandler)

	mux.HandleFunc("/export/report", a.exportReportHandler)
	mux.HandleFunc("/export/csv", a.exportCSVHandler)

	mux.HandleFunc("/health", a.healthHandler)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "write json error: %v", err)
	}
}

// writeGatewayError maps the upstream error taxonomy onto HTTP statuses:
// rate-limit and quota conditions keep their distinct user-facing messages,
// everything else is a generic upstream failure.
func writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded. Please try again in a moment."})
	case errors.Is(err, core.ErrQuotaExceeded):
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "Usage quota exceeded. Please add credits to continue."})
	case errors.Is(err, core.ErrEmptyTranscript):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No transcription provided"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

func readAudioUpload(r *http.Request) (filename string, audio []byte, format core.AudioFormat, err error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return "", nil, "", fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		return "", nil, "", fmt.Errorf("no audio file provided")
	}
	defer file.Close()

	audio, err = io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return "", nil, "", fmt.Errorf("read audio: %w", err)
	}
	if len(audio) > maxUploadBytes {
		return "", nil, "", fmt.Errorf("audio file too large")
	}

	hint := header.Header.Get("Content-Type")
	if hint == "" || hint == "application/octet-stream" {
		hint = header.Filename
	}
	return header.Filename, audio, core.NormalizeFormat(hint), nil
}

func (a *API) processAudioHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	filename, audio, format, err := readAudioUpload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	resp, err := a.Pipeline.ProcessAudio(r.Context(), filename, audio, format)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrRateLimited), errors.Is(err, core.ErrQuotaExceeded):
			writeGatewayError(w, err)
		default:
			writeJSON(w, http.StatusInternalServerError, resp)
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) transcribeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	_, audio, format, err := readAudioUpload(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	transcription, err := a.Transcriber.Transcribe(r.Context(), audio, format)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcription": transcription})
}

type analyzeRequest struct {
	Transcription string `json:"transcription"`
	Type          string `json:"type"`
}

func (a *API) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.Transcription) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No transcription provided"})
		return
	}
	mode := processors.ModeAnalyze
	if req.Type == string(processors.ModeLive) {
		mode = processors.ModeLive
	}

	result, err := a.Analyzer.Analyze(r.Context(), req.Transcription, mode)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) listAnalysesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	limit := a.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= a.HistoryLimit {
			limit = n
		}
	}
	records, err := a.Store.ListAnalyses(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if records == nil {
		records = []core.AnalysisRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}

func (a *API) getAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	rec, ok := a.lookupRecord(w, r)
	if !ok {
		return
	}
	segments := core.HighlightTranscript(rec.Transcription, core.SpansFromFindings(rec.Threats))
	writeJSON(w, http.StatusOK, map[string]any{
		"analysis":       rec,
		"classification": core.Classify(rec.RiskScore),
		"segments":       segments,
	})
}

func (a *API) deleteAnalysisHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete && r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return
	}
	if err := a.Store.DeleteAnalysis(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "analysis not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := a.Index.Remove(r.Context(), id); err != nil {
		fmt.Fprintf(os.Stderr, "remove from similarity index: %v\n", err)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	// Stats aggregate the whole history, not the capped listing page.
	records, err := a.Store.ListAnalyses(r.Context(), 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, core.ComputeStats(records))
}

func (a *API) similarHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "q required"})
		return
	}
	topK := 5
	if v := r.URL.Query().Get("top_k"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			topK = n
		}
	}
	hits, err := a.Index.Search(r.Context(), query, topK)
	if err != nil {
		writeGatewayError(w, err)
		return
	}
	if hits == nil {
		hits = []storage.SimilarHit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": query, "hits": hits})
}

func (a *API) liveStartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := a.Live.Start(); err != nil {
		if errors.Is(err, core.ErrSessionActive) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		// Capture device unavailable: the session never starts.
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, a.Live.Status())
}

func (a *API) liveStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	a.Live.Stop()
	writeJSON(w, http.StatusOK, a.Live.Status())
}

type liveTranscriptRequest struct {
	Text string `json:"text"`
}

func (a *API) liveTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	var req liveTranscriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	a.Live.AppendTranscript(req.Text)
	writeJSON(w, http.StatusOK, a.Live.Status())
}

func (a *API) liveStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, a.Live.Status())
}

func (a *API) exportReportHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	rec, ok := a.lookupRecord(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.ID+".md"))
	_, _ = io.WriteString(w, export.RenderReport(rec))
}

func (a *API) exportCSVHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	records, err := a.Store.ListAnalyses(r.Context(), 0)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="analyses.csv"`)
	if err := export.WriteCSV(w, records); err != nil {
		fmt.Fprintf(os.Stderr, "write csv export: %v\n", err)
	}
}

func (a *API) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "live": a.Live.Status().Active})
}

func (a *API) lookupRecord(w http.ResponseWriter, r *http.Request) (*core.AnalysisRecord, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return nil, false
	}
	rec, err := a.Store.GetAnalysis(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "analysis not found"})
			return nil, false
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return nil, false
	}
	return rec, true
}
