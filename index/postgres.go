package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/fund-agent/embeddings"
	"github.com/fabfab/fund-agent/ingestion"
)

// pgDB is the slice of pgxpool.Pool the store uses. Tests substitute it.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PostgresStore keeps every session's chunks in one pgvector table, keyed by
// a session_id column. Postgres isolation covers concurrent readers and
// concurrent-with-reader writers; the store adds no locking of its own.
type PostgresStore struct {
	db pgDB

	schemaMu    sync.Mutex
	schemaReady bool
}

// NewPostgresPool connects a pgx pool for the store.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return pool, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: pool}
}

func (s *PostgresStore) Build(ctx context.Context, sessionID string, docs []ingestion.Document, embedder embeddings.Embedder) (Handle, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents to index")
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Text
	}

	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return nil, &BackendError{Op: "embed documents", Err: err}
	}
	if len(vectors) != len(docs) {
		return nil, &BackendError{Op: "embed documents", Err: fmt.Errorf("have %d documents, %d vectors", len(docs), len(vectors))}
	}

	if err := s.ensureSchema(ctx, len(vectors[0])); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, &BackendError{Op: "begin tx", Err: err}
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	for i, doc := range docs {
		if _, err = tx.Exec(ctx, `
			INSERT INTO fund_chunks (id, session_id, source, title, chunk_index, content, embedding, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		`, uuid.New(), sessionID, doc.SourceID, doc.Metadata["title"], i, doc.Text, pgvector.NewVector(vectors[i])); err != nil {
			return nil, &BackendError{Op: fmt.Sprintf("insert chunk %d", i), Err: err}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, &BackendError{Op: "commit tx", Err: err}
	}

	return &postgresHandle{db: s.db, sessionID: sessionID, embedder: embedder}, nil
}

func (s *PostgresStore) Open(ctx context.Context, sessionID string, embedder embeddings.Embedder) (Handle, error) {
	if err := s.ensureSchemaOpened(ctx); err != nil {
		return nil, err
	}

	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM fund_chunks WHERE session_id = $1)", sessionID,
	).Scan(&exists); err != nil {
		return nil, &BackendError{Op: "check session", Err: err}
	}
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, sessionID)
	}

	return &postgresHandle{db: s.db, sessionID: sessionID, embedder: embedder}, nil
}

func (s *PostgresStore) Drop(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, "DELETE FROM fund_chunks WHERE session_id = $1", sessionID); err != nil {
		return &BackendError{Op: "delete session chunks", Err: err}
	}
	return nil
}

// ensureSchema creates the chunk table before the first successful Build. A
// failed attempt (database briefly unreachable) is retried on the next call;
// only success is latched. The embedding column dimension is fixed by the
// first vector ever written.
func (s *PostgresStore) ensureSchema(ctx context.Context, dimension int) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()

	if s.schemaReady {
		return nil
	}
	if dimension <= 0 {
		return &BackendError{Op: "ensure schema", Err: fmt.Errorf("embedding dimension must be positive")}
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS fund_chunks (
			id UUID PRIMARY KEY,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			title TEXT,
			chunk_index INT NOT NULL,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_fund_chunks_session ON fund_chunks(session_id)",
		"CREATE INDEX IF NOT EXISTS idx_fund_chunks_embedding ON fund_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return &BackendError{Op: "ensure schema", Err: fmt.Errorf("execute schema statement: %w", err)}
		}
	}

	s.schemaReady = true
	return nil
}

// ensureSchemaOpened guards Open calls that race the very first Build in a
// fresh database: a missing table reads the same as a missing session.
func (s *PostgresStore) ensureSchemaOpened(ctx context.Context) error {
	var exists bool
	if err := s.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'fund_chunks')",
	).Scan(&exists); err != nil {
		return &BackendError{Op: "check schema", Err: err}
	}
	if !exists {
		return fmt.Errorf("%w: no sessions indexed yet", ErrSessionNotFound)
	}
	return nil
}

type postgresHandle struct {
	db        pgDB
	sessionID string
	embedder  embeddings.Embedder
}

func (h *postgresHandle) SessionID() string {
	return h.sessionID
}

func (h *postgresHandle) Search(ctx context.Context, query string, limit int) ([]Passage, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	vectors, err := h.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &BackendError{Op: "embed query", Err: err}
	}
	if len(vectors) == 0 {
		return nil, &BackendError{Op: "embed query", Err: fmt.Errorf("embedder returned no vectors")}
	}

	tx, err := h.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, &BackendError{Op: "begin tx", Err: err}
	}
	defer func() { _ = tx.Rollback(ctx) }()

	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	// SET LOCAL scopes the setting to this transaction; the pooled connection
	// goes back clean.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
		return nil, &BackendError{Op: "set ivfflat probes", Err: err}
	}

	rows, err := tx.Query(ctx, `
        SELECT id, source, title, content, (embedding <-> $1::vector) AS distance
        FROM fund_chunks
        WHERE session_id = $2
        ORDER BY embedding <-> $1::vector
        LIMIT $3
    `, pgvector.NewVector(vectors[0]), h.sessionID, limit)
	if err != nil {
		return nil, &BackendError{Op: "query chunks", Err: err}
	}
	defer rows.Close()

	passages := make([]Passage, 0, limit)
	for rows.Next() {
		var (
			passage  Passage
			distance float64
		)
		if err := rows.Scan(&passage.ID, &passage.Source, &passage.Title, &passage.Content, &distance); err != nil {
			return nil, &BackendError{Op: "scan chunk", Err: err}
		}
		passage.Score = 1 / (1 + distance)
		passages = append(passages, passage)
	}
	if rows.Err() != nil {
		return nil, &BackendError{Op: "read chunks", Err: rows.Err()}
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, &BackendError{Op: "commit tx", Err: err}
	}

	return passages, nil
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Handle = (*postgresHandle)(nil)
)
