package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/articler/docindex/internal/storage"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
)

// SQLiteRegistry stores entries in the shared SQLite database.
type SQLiteRegistry struct {
	db *sql.DB
}

// NewSQLiteRegistry creates the documents table if needed. The registry
// does not own db.
func NewSQLiteRegistry(ctx context.Context, db *sql.DB) (*SQLiteRegistry, error) {
	err := storage.Migrate(ctx, db,
		`CREATE TABLE IF NOT EXISTS documents (
			user_id TEXT NOT NULL,
			project_id TEXT NOT NULL,
			document_id TEXT NOT NULL,
			type TEXT NOT NULL,
			title TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			seq INTEGER NOT NULL,
			PRIMARY KEY (user_id, project_id, document_id)
		)`,
		`CREATE INDEX IF NOT EXISTS documents_project_idx ON documents (user_id, project_id, seq)`,
	)
	if err != nil {
		return nil, fmt.Errorf("migrating documents: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

func (r *SQLiteRegistry) Add(ctx context.Context, project tenant.Key, entry Entry) error {
	if err := project.Validate(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		return fmt.Errorf("%w: entry has no id", tenant.ErrMissingDocument)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO documents (user_id, project_id, document_id, type, title, created_at, seq)
		 VALUES (?, ?, ?, ?, ?, ?,
		   (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents WHERE user_id = ? AND project_id = ?))`,
		project.UserID, project.ProjectID.String(), entry.ID.String(), entry.Type, entry.Title, entry.CreatedAt,
		project.UserID, project.ProjectID.String())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicate, entry.ID)
		}
		return fmt.Errorf("registering document: %w", err)
	}
	return nil
}

func scanEntry(row interface{ Scan(...any) error }) (Entry, error) {
	var (
		e  Entry
		id string
	)
	if err := row.Scan(&id, &e.Type, &e.Title, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: document id %q", ErrRegistryCorrupted, id)
	}
	e.ID = parsed
	return e, nil
}

func (r *SQLiteRegistry) Get(ctx context.Context, doc tenant.Key) (Entry, error) {
	if err := doc.RequireDocument(); err != nil {
		return Entry{}, err
	}
	e, err := scanEntry(r.db.QueryRowContext(ctx,
		`SELECT document_id, type, title, created_at FROM documents
		 WHERE user_id = ? AND project_id = ? AND document_id = ?`,
		doc.UserID, doc.ProjectID.String(), doc.DocumentID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, doc)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading document: %w", err)
	}
	return e, nil
}

func (r *SQLiteRegistry) List(ctx context.Context, project tenant.Key) ([]Entry, error) {
	if err := project.Validate(); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT document_id, type, title, created_at FROM documents
		 WHERE user_id = ? AND project_id = ? ORDER BY seq`,
		project.UserID, project.ProjectID.String())
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *SQLiteRegistry) Remove(ctx context.Context, doc tenant.Key) (Entry, error) {
	e, err := r.Get(ctx, doc)
	if err != nil {
		return Entry{}, err
	}
	_, err = r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND project_id = ? AND document_id = ?`,
		doc.UserID, doc.ProjectID.String(), doc.DocumentID.String())
	if err != nil {
		return Entry{}, fmt.Errorf("unregistering document: %w", err)
	}
	return e, nil
}

func (r *SQLiteRegistry) Clear(ctx context.Context, project tenant.Key) ([]Entry, error) {
	entries, err := r.List(ctx, project)
	if err != nil {
		return nil, err
	}
	_, err = r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE user_id = ? AND project_id = ?`,
		project.UserID, project.ProjectID.String())
	if err != nil {
		return nil, fmt.Errorf("clearing project: %w", err)
	}
	return entries, nil
}

// Close is a no-op; the database belongs to the caller.
func (r *SQLiteRegistry) Close() error { return nil }
