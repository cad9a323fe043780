package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const backendPgvector = "pgvector"

var pgTracer = otel.Tracer("docindex.vectorstore.pgvector")

// PostgresConfig configures the pgvector store.
type PostgresConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// pgColumns maps payload field names to table columns.
var pgColumns = map[string]string{
	tenant.FieldUserID:     "user_id",
	tenant.FieldProjectID:  "project_id",
	tenant.FieldDocumentID: "document_id",
	tenant.FieldTitle:      "title",
	tenant.FieldText:       "text_chunk",
}

// PgVectorStore is a Store backed by a PostgreSQL table with a pgvector
// column. One collection is one table.
type PgVectorStore struct {
	db         *sql.DB
	table      string
	collection string
	dimension  int
	logger     *logging.Logger

	mu      sync.Mutex
	ensured bool
}

// NewPgVectorStore connects to cfg.DSN and binds to collection.
func NewPgVectorStore(ctx context.Context, cfg PostgresConfig, collection string, dimension int, logger *logging.Logger) (*PgVectorStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", ErrInvalidConfig)
	}
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s, err := newPgVectorStore(db, collection, dimension, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func newPgVectorStore(db *sql.DB, collection string, dimension int, logger *logging.Logger) (*PgVectorStore, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &PgVectorStore{
		db:         db,
		table:      pgx.Identifier{collection}.Sanitize(),
		collection: collection,
		dimension:  dimension,
		logger:     logger,
	}, nil
}

// Collection implements Store.
func (s *PgVectorStore) Collection() string { return s.collection }

func (s *PgVectorStore) migrations() []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			project_id UUID NOT NULL,
			document_id UUID NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			text_chunk TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`, s.table, s.dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (user_id, project_id, document_id)`,
			pgx.Identifier{s.collection + "_tenant_idx"}.Sanitize(), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (to_tsvector('simple', text_chunk))`,
			pgx.Identifier{s.collection + "_text_idx"}.Sanitize(), s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{s.collection + "_embedding_idx"}.Sanitize(), s.table),
	}
}

// EnsureCollection implements Store.
func (s *PgVectorStore) EnsureCollection(ctx context.Context) (err error) {
	defer observe(backendPgvector, "ensure_collection", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}
	for _, m := range s.migrations() {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	// pgvector stores the declared dimension in atttypmod.
	var dim int
	err = s.db.QueryRowContext(ctx,
		`SELECT atttypmod FROM pg_attribute WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		s.table).Scan(&dim)
	if err != nil {
		return fmt.Errorf("reading embedding dimension: %w", err)
	}
	if dim != s.dimension {
		return fmt.Errorf("%w: table %s has dimension %d, expected %d",
			ErrDimensionMismatch, s.collection, dim, s.dimension)
	}

	s.logger.Info(ctx, "pgvector table ready",
		zap.String("collection", s.collection),
		zap.Int("dimension", s.dimension))
	s.ensured = true
	return nil
}

// Upsert implements Store. All records are written in one transaction.
func (s *PgVectorStore) Upsert(ctx context.Context, records []ChunkRecord) (err error) {
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.Upsert")
	defer span.End()
	defer observe(backendPgvector, "upsert", time.Now(), &err)
	span.SetAttributes(attribute.Int("record_count", len(records)))

	if len(records) == 0 {
		return nil
	}
	if err := checkDimensions(records, s.dimension); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, user_id, project_id, document_id, title, text_chunk, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector)
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			project_id = EXCLUDED.project_id,
			document_id = EXCLUDED.document_id,
			title = EXCLUDED.title,
			text_chunk = EXCLUDED.text_chunk,
			embedding = EXCLUDED.embedding`, s.table))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err = stmt.ExecContext(ctx, r.ID.String(), r.UserID, r.ProjectID.String(),
			r.DocumentID.String(), r.Title, r.Text, formatVector(r.Embedding))
		if err != nil {
			return fmt.Errorf("upsert record %s: %w", r.ID, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	RecordsWritten.WithLabelValues(backendPgvector).Add(float64(len(records)))
	return nil
}

// whereClause renders filter as a SQL predicate with positional
// parameters numbered from first.
func whereClause(filter tenant.Filter, first int) (string, []any, error) {
	conds := filter.Conditions()
	parts := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for i, c := range conds {
		col, ok := pgColumns[c.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown filter field %q", ErrInvalidConfig, c.Field)
		}
		cast := ""
		if col == "project_id" || col == "document_id" {
			cast = "::uuid"
		}
		parts = append(parts, col+" = $"+strconv.Itoa(first+i)+cast)
		args = append(args, c.Value)
	}
	return strings.Join(parts, " AND "), args, nil
}

const pgSelectColumns = `id::text, user_id, project_id::text, document_id::text, title, text_chunk`

func scanRecord(row interface{ Scan(...any) error }, extra ...any) (ChunkRecord, error) {
	var id, user, project, doc, title, text string
	dest := append([]any{&id, &user, &project, &doc, &title, &text}, extra...)
	if err := row.Scan(dest...); err != nil {
		return ChunkRecord{}, err
	}
	return recordFromPayload(id, map[string]string{
		tenant.FieldUserID:     user,
		tenant.FieldProjectID:  project,
		tenant.FieldDocumentID: doc,
		tenant.FieldTitle:      title,
		tenant.FieldText:       text,
	})
}

// Search implements Store. Scores are cosine similarity.
func (s *PgVectorStore) Search(ctx context.Context, filter tenant.Filter, vector []float32, top int) (_ []ScoredChunk, err error) {
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.Search")
	defer span.End()
	defer observe(backendPgvector, "search", time.Now(), &err)
	span.SetAttributes(attribute.Int("top", top))

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection has %d",
			ErrDimensionMismatch, len(vector), s.dimension)
	}
	if top <= 0 {
		return []ScoredChunk{}, nil
	}

	where, args, err := whereClause(filter, 2)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $1::vector) AS score
		FROM %s WHERE %s ORDER BY embedding <=> $1::vector LIMIT %d`,
		pgSelectColumns, s.table, where, top)

	rows, err := s.db.QueryContext(ctx, query, append([]any{formatVector(vector)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var score float64
		rec, err := scanRecord(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, ScoredChunk{ChunkRecord: rec, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	if out == nil {
		out = []ScoredChunk{}
	}
	return out, nil
}

// Scan implements Store.
func (s *PgVectorStore) Scan(ctx context.Context, filter tenant.Filter, limit int) (_ []ChunkRecord, err error) {
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.Scan")
	defer span.End()
	defer observe(backendPgvector, "scan", time.Now(), &err)

	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: scan limit must be positive", ErrInvalidConfig)
	}
	where, args, err := whereClause(filter, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s LIMIT %d`,
		pgSelectColumns, s.table, where, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("scan query: %w", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	if len(out) > limit {
		return nil, fmt.Errorf("%w: more than %d records match", ErrScanLimit, limit)
	}
	return out, nil
}

// Delete implements Store.
func (s *PgVectorStore) Delete(ctx context.Context, ids []uuid.UUID) (err error) {
	ctx, span := pgTracer.Start(ctx, "PgVectorStore.Delete")
	defer span.End()
	defer observe(backendPgvector, "delete", time.Now(), &err)
	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1::uuid[])`, s.table), strs)
	if err != nil {
		return fmt.Errorf("delete %d records: %w", len(ids), err)
	}
	RecordsDeleted.WithLabelValues(backendPgvector).Add(float64(len(ids)))
	return nil
}

// Close implements Store.
func (s *PgVectorStore) Close() error {
	if s.db == nil {
		return errors.New("store already closed")
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// formatVector renders v as a pgvector literal.
func formatVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
