package semantic

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// PostgresStore persists indexes in PostgreSQL with a pgvector column, so
// multiple daemon instances can share one index and ranking happens in the
// database. Nearest uses the cosine distance operator against an HNSW index.
//
// All methods are safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
	dims int
}

// Compile-time interface checks.
var (
	_ IndexStore      = (*PostgresStore)(nil)
	_ NearestSearcher = (*PostgresStore)(nil)
)

// NewPostgresStore connects to the database at dsn, registers pgvector
// types on every connection, and creates the schema if missing. dims must
// match the embedding model's output dimension.
func NewPostgresStore(ctx context.Context, dsn string, dims int) (*PostgresStore, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("semantic: embedding dimensions must be positive, got %d", dims)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("semantic: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("semantic: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("semantic: ping: %w", err)
	}

	s := &PostgresStore{pool: pool, dims: dims}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("semantic: migrate: %w", err)
	}
	return s, nil
}

// migrate ensures the extension, tables, and ANN index exist.
func (s *PostgresStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS segment_indexes (
		    video_id TEXT PRIMARY KEY,
		    model_id TEXT NOT NULL,
		    built    TIMESTAMPTZ NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS segment_vectors (
		    video_id  TEXT NOT NULL REFERENCES segment_indexes(video_id) ON DELETE CASCADE,
		    position  INT NOT NULL,
		    content   TEXT NOT NULL,
		    start_ms  BIGINT NOT NULL,
		    end_ms    BIGINT NOT NULL,
		    embedding vector(%d) NOT NULL,
		    PRIMARY KEY (video_id, position)
		)`, s.dims),
		`CREATE INDEX IF NOT EXISTS segment_vectors_embedding_idx
		    ON segment_vectors USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, q := range stmts {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("exec %q: %w", q[:40], err)
		}
	}
	return nil
}

// Load implements IndexStore. A video without rows returns (nil, nil).
func (s *PostgresStore) Load(ctx context.Context, videoID string) (*Index, error) {
	idx := &Index{VideoID: videoID}
	err := s.pool.QueryRow(ctx,
		`SELECT model_id, built FROM segment_indexes WHERE video_id = $1`, videoID,
	).Scan(&idx.ModelID, &idx.Built)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load index header: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT content, start_ms, end_ms, embedding
		 FROM segment_vectors WHERE video_id = $1 ORDER BY position`, videoID)
	if err != nil {
		return nil, fmt.Errorf("load index rows: %w", err)
	}
	idx.Entries, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var (
			e              Entry
			startMS, endMS int64
			vec            pgvector.Vector
		)
		if err := row.Scan(&e.Segment.Text, &startMS, &endMS, &vec); err != nil {
			return Entry{}, err
		}
		e.Segment.Start = time.Duration(startMS) * time.Millisecond
		e.Segment.End = time.Duration(endMS) * time.Millisecond
		e.Vector = vec.Slice()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect index rows: %w", err)
	}
	return idx, nil
}

// Save implements IndexStore. The whole index is replaced in one
// transaction.
func (s *PostgresStore) Save(ctx context.Context, idx *Index) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO segment_indexes (video_id, model_id, built)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (video_id) DO UPDATE SET
		     model_id = EXCLUDED.model_id,
		     built    = EXCLUDED.built`,
		idx.VideoID, idx.ModelID, idx.Built)
	if err != nil {
		return fmt.Errorf("upsert index header: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM segment_vectors WHERE video_id = $1`, idx.VideoID); err != nil {
		return fmt.Errorf("clear old vectors: %w", err)
	}

	for i, e := range idx.Entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO segment_vectors (video_id, position, content, start_ms, end_ms, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			idx.VideoID, i, e.Segment.Text,
			e.Segment.Start.Milliseconds(), e.Segment.End.Milliseconds(),
			pgvector.NewVector(e.Vector))
		if err != nil {
			return fmt.Errorf("insert vector %d: %w", i, err)
		}
	}
	return tx.Commit(ctx)
}

// Drop implements IndexStore.
func (s *PostgresStore) Drop(ctx context.Context, videoID string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM segment_indexes WHERE video_id = $1`, videoID); err != nil {
		return fmt.Errorf("drop index: %w", err)
	}
	return nil
}

// Nearest implements NearestSearcher using pgvector cosine distance. The
// similarity reported is 1 - distance so scores line up with Cosine.
func (s *PostgresStore) Nearest(ctx context.Context, videoID, modelID string, query []float32, k int) ([]Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT v.content, v.start_ms, v.end_ms, 1 - (v.embedding <=> $1) AS similarity
		 FROM   segment_vectors v
		 JOIN   segment_indexes i ON i.video_id = v.video_id
		 WHERE  v.video_id = $2 AND i.model_id = $3
		 ORDER  BY v.embedding <=> $1, v.position
		 LIMIT  $4`,
		pgvector.NewVector(query), videoID, modelID, k)
	if err != nil {
		return nil, fmt.Errorf("nearest query: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var (
			m              Match
			startMS, endMS int64
		)
		if err := row.Scan(&m.Segment.Text, &startMS, &endMS, &m.Score); err != nil {
			return Match{}, err
		}
		m.Segment.Start = time.Duration(startMS) * time.Millisecond
		m.Segment.End = time.Duration(endMS) * time.Millisecond
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect nearest rows: %w", err)
	}
	return matches, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
