// Package qdrant is the gRPC transport to a Qdrant server. It owns
// connection setup, per-request timeouts and retry of transient failures;
// callers see plain points and keyword filters.
package qdrant

import (
	"context"
)

// Client is the subset of Qdrant used for chunk storage.
type Client interface {
	CreateCollection(ctx context.Context, name string, vectorSize uint64) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CollectionDimension(ctx context.Context, name string) (uint64, error)
	CreateFieldIndex(ctx context.Context, collection, field string, kind IndexKind) error

	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, vector []float32, limit uint64, filter *Filter) ([]*ScoredPoint, error)
	// Scroll returns one page of points matching filter, starting after
	// offset. An empty next offset means the last page was returned.
	Scroll(ctx context.Context, collection string, filter *Filter, limit uint32, offset string) (points []*Point, next string, err error)
	Delete(ctx context.Context, collection string, ids []string) error

	Health(ctx context.Context) error
	Close() error
}

// IndexKind selects a payload index type.
type IndexKind int

const (
	// KeywordIndex supports exact matches.
	KeywordIndex IndexKind = iota
	// TextIndex supports full-text matches.
	TextIndex
)

// Point is a vector with its payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	Point
	Score float32
}

// Filter is a conjunction of keyword matches.
type Filter struct {
	Must []Condition
}

// Condition matches a payload field exactly.
type Condition struct {
	Field   string
	Keyword string
}
