// Package pgvectortier backs the Embeddings family's Accurate-class
// Recent tier with Postgres + pgvector, a SQL-backed tier held by
// AppState beside the storage coordinator's embedded tiers (spec
// §4.6, §3 "two quality classes"). Grounded on the teacher's pgx usage
// idiom (connection pool via pgxpool, parameterized queries) wherever
// the teacher reaches for Postgres.
package pgvectortier

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ocentra/tabagentd/pkg/apperr"
	"github.com/ocentra/tabagentd/pkg/ids"
	"github.com/ocentra/tabagentd/pkg/models"
)

// Tier stores Accurate-class embeddings in a pgvector-enabled table.
// It offers a narrow embedding-tier surface for this one family/tier
// combination, reached directly rather than through the coordinator;
// it is not a general Store.
type Tier struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against dsn and ensures the target table and
// pgvector extension exist.
func Connect(ctx context.Context, dsn string) (*Tier, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect pgvector tier: %w", err)
	}
	t := &Tier{pool: pool}
	if err := t.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return t, nil
}

func (t *Tier) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings_accurate (
			id TEXT PRIMARY KEY,
			source_text_hash TEXT NOT NULL,
			model_id TEXT NOT NULL,
			vector vector(%d) NOT NULL
		)`, models.AccurateDimensions),
	}
	for _, stmt := range stmts {
		if _, err := t.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate pgvector tier: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (t *Tier) Close() { t.pool.Close() }

// Insert writes an Accurate-class embedding.
func (t *Tier) Insert(ctx context.Context, e models.Embedding) (ids.EmbeddingId, *apperr.Error) {
	if e.Class != models.EmbeddingAccurate {
		return "", apperr.ValidationField("class", "pgvector tier only accepts Accurate-class embeddings")
	}
	if len(e.Vector) != models.AccurateDimensions {
		return "", apperr.ValidationField("vector", "length does not match Accurate class dimensions")
	}
	if e.ID.Empty() {
		e.ID = ids.NewEmbeddingId()
	}

	_, err := t.pool.Exec(ctx,
		`INSERT INTO embeddings_accurate (id, source_text_hash, model_id, vector)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET vector = EXCLUDED.vector`,
		string(e.ID), e.SourceTextHash, string(e.ModelID), vectorLiteral(e.Vector),
	)
	if err != nil {
		return "", apperr.Wrap(apperr.Backend, "insert accurate embedding", err)
	}
	return e.ID, nil
}

// Get retrieves one embedding by id.
func (t *Tier) Get(ctx context.Context, id ids.EmbeddingId) (*models.Embedding, *apperr.Error) {
	row := t.pool.QueryRow(ctx,
		`SELECT source_text_hash, model_id, vector FROM embeddings_accurate WHERE id = $1`, string(id))

	var sourceHash, modelID, vecStr string
	if err := row.Scan(&sourceHash, &modelID, &vecStr); err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.NotFoundEntity("embedding", string(id))
		}
		return nil, apperr.Wrap(apperr.Backend, "get accurate embedding", err)
	}

	vec, err := parseVectorLiteral(vecStr)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "parse stored vector", err)
	}

	return &models.Embedding{
		ID: id, SourceTextHash: sourceHash, ModelID: ids.ModelId(modelID),
		Class: models.EmbeddingAccurate, Vector: vec,
	}, nil
}

// NearestNeighbors returns the k nearest embedding ids to query by
// cosine distance, the read path RagQuery/SemanticSearch use for the
// Accurate class.
func (t *Tier) NearestNeighbors(ctx context.Context, query []float32, k int) ([]ids.EmbeddingId, *apperr.Error) {
	if len(query) != models.AccurateDimensions {
		return nil, apperr.ValidationField("query", "length does not match Accurate class dimensions")
	}

	rows, err := t.pool.Query(ctx,
		`SELECT id FROM embeddings_accurate ORDER BY vector <=> $1 LIMIT $2`,
		vectorLiteral(query), k,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.Backend, "nearest neighbor query", err)
	}
	defer rows.Close()

	var out []ids.EmbeddingId
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.Backend, "scan nearest neighbor row", err)
		}
		out = append(out, ids.EmbeddingId(id))
	}
	return out, nil
}

func vectorLiteral(v []float32) string {
	s := "["
	for i, f := range v {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%g", f)
	}
	return s + "]"
}

func parseVectorLiteral(s string) ([]float32, error) {
	var out []float32
	var cur string
	flush := func() error {
		if cur == "" {
			return nil
		}
		var f float32
		if _, err := fmt.Sscanf(cur, "%g", &f); err != nil {
			return err
		}
		out = append(out, f)
		cur = ""
		return nil
	}
	for _, r := range s {
		switch r {
		case '[', ']':
			continue
		case ',':
			if err := flush(); err != nil {
				return nil, err
			}
		default:
			cur += string(r)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return out, nil
}
