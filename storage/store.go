package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"voiceguard/config"
	"voiceguard/core"
)

// AnalysisStore persists analysis records and their threat findings. Records
// are append-only plus delete; there is no update.
type AnalysisStore interface {
	// SaveAnalysis writes the record and its threats. The status column is
	// recomputed from the risk score on every write. A failure inserting the
	// threat rows after the parent record saved is logged and swallowed: the
	// analysis counts as complete once the parent exists.
	SaveAnalysis(ctx context.Context, rec *core.AnalysisRecord) error
	// ListAnalyses returns records with threats, newest first, capped at
	// limit. A limit of zero or less returns the whole history; stats and
	// exports aggregate over every row, not a page.
	ListAnalyses(ctx context.Context, limit int) ([]core.AnalysisRecord, error)
	GetAnalysis(ctx context.Context, id string) (*core.AnalysisRecord, error)
	// DeleteAnalysis removes the record; its threats cascade with it.
	DeleteAnalysis(ctx context.Context, id string) error
}

// NewAnalysisStore selects the backend from the STORE environment variable:
// "memory" for the in-process store, anything else tries Postgres first and
// falls back to memory when the database is unreachable.
func NewAnalysisStore(ctx context.Context) AnalysisStore {
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("STORE")))
	if kind == "memory" {
		return NewMemoryStore()
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to load config (%v), using memory store\n", err)
		return NewMemoryStore()
	}
	s, err := NewPostgresStore(ctx, cfg.PostgresURL)
	if err != nil {
		fmt.Printf("Warning: Failed to initialize Postgres store (%v), falling back to memory store\n", err)
		return NewMemoryStore()
	}
	return s
}

// ---------------- Memory implementation (kept for fallback) ----------------

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]core.AnalysisRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: map[string]core.AnalysisRecord{}}
}

func (s *MemoryStore) SaveAnalysis(ctx context.Context, rec *core.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = core.NewID()
	}
	rec.Status = core.Classify(rec.RiskScore).Status

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *rec
	stored.Threats = append([]core.ThreatFinding(nil), rec.Threats...)
	s.records[rec.ID] = stored
	return nil
}

func (s *MemoryStore) ListAnalyses(ctx context.Context, limit int) ([]core.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.AnalysisRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) GetAnalysis(ctx context.Context, id string) (*core.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	return &rec, nil
}

func (s *MemoryStore) DeleteAnalysis(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return core.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// ---------------- Postgres implementation ----------------

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Pool exposes the underlying connection pool so the similarity index can
// share it.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	analysesQuery := `
		CREATE TABLE IF NOT EXISTS analyses (
			id VARCHAR(64) PRIMARY KEY,
			filename VARCHAR(500) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			transcription TEXT NOT NULL,
			risk_score INT NOT NULL,
			status VARCHAR(16) NOT NULL,
			is_ai_generated BOOLEAN NOT NULL DEFAULT false,
			confidence_score FLOAT NOT NULL DEFAULT 0,
			ai_summary TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := s.pool.Exec(ctx, analysesQuery); err != nil {
		return fmt.Errorf("failed to create analyses table: %w", err)
	}

	threatsQuery := `
		CREATE TABLE IF NOT EXISTS threats (
			id VARCHAR(64) PRIMARY KEY,
			analysis_id VARCHAR(64) NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
			threat_type VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			severity VARCHAR(16) NOT NULL,
			confidence FLOAT NOT NULL DEFAULT 0,
			recommendation TEXT NOT NULL DEFAULT '',
			start_index INT NOT NULL DEFAULT 0,
			end_index INT NOT NULL DEFAULT 0,
			position INT NOT NULL DEFAULT 0
		);
	`
	if _, err := s.pool.Exec(ctx, threatsQuery); err != nil {
		return fmt.Errorf("failed to create threats table: %w", err)
	}

	indexQuery := `CREATE INDEX IF NOT EXISTS idx_threats_analysis_id ON threats(analysis_id);`
	if _, err := s.pool.Exec(ctx, indexQuery); err != nil {
		return fmt.Errorf("failed to create threats index: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec *core.AnalysisRecord) error {
	if rec.ID == "" {
		rec.ID = core.NewID()
	}
	rec.Status = core.Classify(rec.RiskScore).Status

	_, err := s.pool.Exec(ctx, `
		INSERT INTO analyses (id, filename, created_at, transcription, risk_score, status, is_ai_generated, confidence_score, ai_summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.Filename, rec.CreatedAt, rec.Transcription, rec.RiskScore, string(rec.Status),
		rec.IsAiGenerated, rec.ConfidenceScore, rec.Summary)
	if err != nil {
		return fmt.Errorf("save analysis: %w", err)
	}

	// Threat rows are best-effort once the parent exists.
	for i := range rec.Threats {
		t := &rec.Threats[i]
		if t.ID == "" {
			t.ID = core.NewID()
		}
		t.AnalysisID = rec.ID
		_, err := s.pool.Exec(ctx, `
			INSERT INTO threats (id, analysis_id, threat_type, description, severity, confidence, recommendation, start_index, end_index, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			t.ID, t.AnalysisID, t.ThreatType, t.Description, string(t.Severity), t.Confidence,
			t.Recommendation, t.StartIndex, t.EndIndex, i)
		if err != nil {
			log.Printf("save threats for analysis %s: %v (analysis kept)", rec.ID, err)
			break
		}
	}
	return nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, limit int) ([]core.AnalysisRecord, error) {
	query := `
		SELECT id, filename, created_at, transcription, risk_score, status, is_ai_generated, confidence_score, ai_summary
		FROM analyses ORDER BY created_at DESC`
	var rows pgx.Rows
	var err error
	if limit > 0 {
		rows, err = s.pool.Query(ctx, query+` LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var records []core.AnalysisRecord
	for rows.Next() {
		var rec core.AnalysisRecord
		var status string
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.CreatedAt, &rec.Transcription, &rec.RiskScore,
			&status, &rec.IsAiGenerated, &rec.ConfidenceScore, &rec.Summary); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		rec.Status = core.Status(status)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}

	for i := range records {
		threats, err := s.loadThreats(ctx, records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Threats = threats
	}
	return records, nil
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*core.AnalysisRecord, error) {
	var rec core.AnalysisRecord
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, filename, created_at, transcription, risk_score, status, is_ai_generated, confidence_score, ai_summary
		FROM analyses WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Filename, &rec.CreatedAt, &rec.Transcription, &rec.RiskScore,
			&status, &rec.IsAiGenerated, &rec.ConfidenceScore, &rec.Summary)
	if err == pgx.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis: %w", err)
	}
	rec.Status = core.Status(status)

	threats, err := s.loadThreats(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Threats = threats
	return &rec, nil
}

func (s *PostgresStore) loadThreats(ctx context.Context, analysisID string) ([]core.ThreatFinding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, analysis_id, threat_type, description, severity, confidence, recommendation, start_index, end_index
		FROM threats WHERE analysis_id = $1 ORDER BY position`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("load threats: %w", err)
	}
	defer rows.Close()

	var threats []core.ThreatFinding
	for rows.Next() {
		var t core.ThreatFinding
		var severity string
		if err := rows.Scan(&t.ID, &t.AnalysisID, &t.ThreatType, &t.Description, &severity,
			&t.Confidence, &t.Recommendation, &t.StartIndex, &t.EndIndex); err != nil {
			return nil, fmt.Errorf("scan threat: %w", err)
		}
		t.Severity = core.Severity(severity)
		threats = append(threats, t)
	}
	return threats, rows.Err()
}

func (s *PostgresStore) DeleteAnalysis(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
