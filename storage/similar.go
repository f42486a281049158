package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"voiceguard/config"
)

// SimilarHit is one past analysis whose transcript resembles the query.
type SimilarHit struct {
	AnalysisID string  `json:"analysis_id"`
	Filename   string  `json:"filename"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
}

// SimilarityIndex lets the history be searched by transcript content, so a
// new scam can be matched against previously recorded ones. Indexing is
// best-effort; a failed index never fails the analysis that triggered it.
type SimilarityIndex interface {
	Index(ctx context.Context, analysisID, filename, transcription string) error
	Search(ctx context.Context, query string, topK int) ([]SimilarHit, error)
	Remove(ctx context.Context, analysisID string) error
}

const (
	embeddingDim   = 1536
	excerptLimit   = 500
	embedTextLimit = 4000
)

// NewSimilarityIndex selects a backend from the SIMILARITY environment
// variable: "milvus", "pgvector", or "none". pgvector reuses the Postgres
// pool when the record store runs on Postgres. Without a valid API config
// there are no embeddings, so the noop index is used.
func NewSimilarityIndex(ctx context.Context, store AnalysisStore) SimilarityIndex {
	kind := strings.ToLower(strings.TrimSpace(os.Getenv("SIMILARITY")))
	if kind == "none" {
		return NoopIndex{}
	}
	cfg, err := config.LoadConfig()
	if err != nil || !cfg.HasValidAPI() {
		fmt.Println("Warning: API configuration required for similarity search, disabling it")
		return NoopIndex{}
	}

	if kind == "milvus" {
		idx, err := NewMilvusIndex(ctx)
		if err != nil {
			fmt.Printf("Warning: Failed to initialize Milvus index (%v), disabling similarity search\n", err)
			return NoopIndex{}
		}
		return idx
	}

	pg, ok := store.(*PostgresStore)
	if !ok {
		fmt.Println("Warning: similarity search requires the Postgres store, disabling it")
		return NoopIndex{}
	}
	idx, err := NewPgVectorIndex(ctx, pg.Pool())
	if err != nil {
		fmt.Printf("Warning: Failed to initialize pgvector index (%v), disabling similarity search\n", err)
		return NoopIndex{}
	}
	return idx
}

// NoopIndex is the disabled backend.
type NoopIndex struct{}

func (NoopIndex) Index(ctx context.Context, analysisID, filename, transcription string) error {
	return nil
}

func (NoopIndex) Search(ctx context.Context, query string, topK int) ([]SimilarHit, error) {
	return nil, nil
}

func (NoopIndex) Remove(ctx context.Context, analysisID string) error { return nil }

// ---------------- shared embedding helper ----------------

type embedder struct {
	oa    *openai.Client
	model string
}

func newEmbedder() (*embedder, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.HasValidAPI() {
		return nil, fmt.Errorf("API configuration required for embeddings")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &embedder{oa: openai.NewClientWithConfig(clientConfig), model: cfg.EmbeddingModel}, nil
}

func (e *embedder) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.oa.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{truncateRunes(strings.ToLower(text), embedTextLimit)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// ---------------- PgVector implementation ----------------

type PgVectorIndex struct {
	pool *pgxpool.Pool
	emb  *embedder
}

func NewPgVectorIndex(ctx context.Context, pool *pgxpool.Pool) (*PgVectorIndex, error) {
	emb, err := newEmbedder()
	if err != nil {
		return nil, err
	}
	idx := &PgVectorIndex{pool: pool, emb: emb}
	if err := idx.ensureTable(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *PgVectorIndex) ensureTable(ctx context.Context) error {
	if _, err := idx.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS transcript_vectors (
			analysis_id VARCHAR(64) PRIMARY KEY,
			filename VARCHAR(500) NOT NULL,
			excerpt TEXT NOT NULL,
			embedding vector(%d)
		);
	`, embeddingDim)
	if _, err := idx.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create transcript_vectors table: %w", err)
	}
	return nil
}

func (idx *PgVectorIndex) Index(ctx context.Context, analysisID, filename, transcription string) error {
	vec, err := idx.emb.embed(ctx, transcription)
	if err != nil {
		return err
	}
	_, err = idx.pool.Exec(ctx, `
		INSERT INTO transcript_vectors (analysis_id, filename, excerpt, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (analysis_id) DO UPDATE SET filename = $2, excerpt = $3, embedding = $4`,
		analysisID, filename, truncateRunes(transcription, excerptLimit), pgvector.NewVector(vec))
	if err != nil {
		return fmt.Errorf("index transcript: %w", err)
	}
	return nil
}

func (idx *PgVectorIndex) Search(ctx context.Context, query string, topK int) ([]SimilarHit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := idx.emb.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	rows, err := idx.pool.Query(ctx, `
		SELECT analysis_id, filename, excerpt, 1 - (embedding <=> $1) AS score
		FROM transcript_vectors
		ORDER BY embedding <=> $1
		LIMIT $2`, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, fmt.Errorf("search transcripts: %w", err)
	}
	defer rows.Close()

	var hits []SimilarHit
	for rows.Next() {
		var h SimilarHit
		if err := rows.Scan(&h.AnalysisID, &h.Filename, &h.Excerpt, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (idx *PgVectorIndex) Remove(ctx context.Context, analysisID string) error {
	_, err := idx.pool.Exec(ctx, `DELETE FROM transcript_vectors WHERE analysis_id = $1`, analysisID)
	return err
}

// ---------------- Milvus implementation ----------------

type MilvusIndex struct {
	mc   client.Client
	coll string
	emb  *embedder
}

func NewMilvusIndex(ctx context.Context) (*MilvusIndex, error) {
	emb, err := newEmbedder()
	if err != nil {
		return nil, err
	}

	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "scam_transcripts"
	}

	mc, err := client.NewClient(ctx, client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}

	idx := &MilvusIndex{mc: mc, coll: coll, emb: emb}
	if err := idx.ensureSchemaAndIndex(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *MilvusIndex) ensureSchemaAndIndex(ctx context.Context) error {
	has, err := idx.mc.HasCollection(ctx, idx.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("analysis_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(64))
		schema.WithField(entity.NewField().WithName("filename").WithDataType(entity.FieldTypeVarChar).WithMaxLength(512))
		schema.WithField(entity.NewField().WithName("excerpt").WithDataType(entity.FieldTypeVarChar).WithMaxLength(2048))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(embeddingDim)))

		if err := idx.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	hnsw, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := idx.mc.CreateIndex(ctx, idx.coll, "vector", hnsw, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := idx.mc.LoadCollection(ctx, idx.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (idx *MilvusIndex) Index(ctx context.Context, analysisID, filename, transcription string) error {
	vec, err := idx.emb.embed(ctx, transcription)
	if err != nil {
		return err
	}
	_, err = idx.mc.Insert(ctx, idx.coll, "",
		entity.NewColumnVarChar("analysis_id", []string{analysisID}),
		entity.NewColumnVarChar("filename", []string{filename}),
		entity.NewColumnVarChar("excerpt", []string{truncateRunes(transcription, excerptLimit)}),
		entity.NewColumnFloatVector("vector", embeddingDim, [][]float32{vec}),
	)
	if err != nil {
		return fmt.Errorf("index transcript: %w", err)
	}
	return nil
}

func (idx *MilvusIndex) Search(ctx context.Context, query string, topK int) ([]SimilarHit, error) {
	if topK <= 0 {
		topK = 5
	}
	vec, err := idx.emb.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	res, err := idx.mc.Search(ctx, idx.coll, []string{}, "", []string{"analysis_id", "filename", "excerpt"},
		[]entity.Vector{entity.FloatVector(vec)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil, fmt.Errorf("search transcripts: %w", err)
	}

	var hits []SimilarHit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			var h SimilarHit
			if c, ok := cols["analysis_id"].(*entity.ColumnVarChar); ok {
				data := c.Data()
				if i < len(data) {
					h.AnalysisID = data[i]
				}
			}
			if c, ok := cols["filename"].(*entity.ColumnVarChar); ok {
				data := c.Data()
				if i < len(data) {
					h.Filename = data[i]
				}
			}
			if c, ok := cols["excerpt"].(*entity.ColumnVarChar); ok {
				data := c.Data()
				if i < len(data) {
					h.Excerpt = data[i]
				}
			}
			h.Score = float64(r.Scores[i])
			hits = append(hits, h)
		}
	}
	return hits, nil
}

func (idx *MilvusIndex) Remove(ctx context.Context, analysisID string) error {
	expr := fmt.Sprintf("analysis_id == %q", analysisID)
	if err := idx.mc.Delete(ctx, idx.coll, "", expr); err != nil {
		return fmt.Errorf("remove transcript: %w", err)
	}
	return nil
}
