// Package vectorstore persists chunk records in a filterable nearest-neighbour
// index. Each Store is bound to one collection whose dimension matches the
// embedding provider in use; qdrant, chromem and pgvector backends translate
// tenant.Filter into their native filter syntax.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
)

var (
	// ErrInvalidConfig is returned for an unusable store configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore config")

	// ErrInvalidCollectionName is returned when a collection name fails validation.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrCollectionNotFound is returned when an operation runs before
	// EnsureCollection.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrDimensionMismatch is returned when a vector or an existing
	// collection does not match the configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrScanLimit is returned by Scan when more records match than the
	// caller allowed.
	ErrScanLimit = errors.New("scan limit exceeded")
)

// collectionNamePattern keeps names safe as qdrant collections, chromem
// directories and SQL identifiers alike.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks name against ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// ChunkRecord is one stored chunk of a document.
type ChunkRecord struct {
	ID         uuid.UUID
	UserID     string
	ProjectID  uuid.UUID
	DocumentID uuid.UUID
	Title      string
	Text       string
	Embedding  []float32
}

// ScoredChunk is a search hit. Higher scores are more similar.
type ScoredChunk struct {
	ChunkRecord
	Score float32
}

// Store is a single collection of chunk records.
//
// Every read takes a tenant.Filter and fails closed if the filter lacks a
// user or project. Upsert and Delete are single calls: a failure means no
// records were reported written or removed.
type Store interface {
	// EnsureCollection creates the collection and its indexes if absent.
	// It is idempotent and safe to call before every operation.
	EnsureCollection(ctx context.Context) error

	// Upsert writes records in one batch. Every embedding must have the
	// collection dimension.
	Upsert(ctx context.Context, records []ChunkRecord) error

	// Search returns up to top records matching filter, most similar first.
	Search(ctx context.Context, filter tenant.Filter, vector []float32, top int) ([]ScoredChunk, error)

	// Scan returns every record matching filter without embeddings. It
	// returns ErrScanLimit rather than a truncated result when more than
	// limit records match.
	Scan(ctx context.Context, filter tenant.Filter, limit int) ([]ChunkRecord, error)

	// Delete removes records by id in one batch.
	Delete(ctx context.Context, ids []uuid.UUID) error

	// Collection returns the bound collection name.
	Collection() string

	Close() error
}

func checkDimensions(records []ChunkRecord, dim int) error {
	for i, r := range records {
		if len(r.Embedding) != dim {
			return fmt.Errorf("%w: record %d has %d dimensions, collection has %d",
				ErrDimensionMismatch, i, len(r.Embedding), dim)
		}
	}
	return nil
}

// payload renders the scalar fields of a record under the schema names.
func payload(r ChunkRecord) map[string]string {
	return map[string]string{
		tenant.FieldUserID:     r.UserID,
		tenant.FieldProjectID:  r.ProjectID.String(),
		tenant.FieldDocumentID: r.DocumentID.String(),
		tenant.FieldTitle:      r.Title,
		tenant.FieldText:       r.Text,
	}
}

// recordFromPayload is the inverse of payload. Malformed ids are an error
// so a corrupt point never surfaces as a nil-scoped record.
func recordFromPayload(id string, p map[string]string) (ChunkRecord, error) {
	rid, err := uuid.Parse(id)
	if err != nil {
		return ChunkRecord{}, fmt.Errorf("record id %q: %w", id, err)
	}
	pid, err := uuid.Parse(p[tenant.FieldProjectID])
	if err != nil {
		return ChunkRecord{}, fmt.Errorf("record %s project id: %w", id, err)
	}
	did, err := uuid.Parse(p[tenant.FieldDocumentID])
	if err != nil {
		return ChunkRecord{}, fmt.Errorf("record %s document id: %w", id, err)
	}
	return ChunkRecord{
		ID:         rid,
		UserID:     p[tenant.FieldUserID],
		ProjectID:  pid,
		DocumentID: did,
		Title:      p[tenant.FieldTitle],
		Text:       p[tenant.FieldText],
	}, nil
}
