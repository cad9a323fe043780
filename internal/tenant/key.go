// Package tenant defines the scoping model shared by every storage and
// search operation: the tenant key, the filter value object translated by
// each vector store adapter, and a keyed mutex for single-writer access.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Tenant isolation errors. Operations fail closed: a missing or malformed
// scope is an error, never an empty or unscoped query.
var (
	// ErrMissingTenant is returned when the user or project is absent.
	ErrMissingTenant = errors.New("tenant scope missing")

	// ErrInvalidTenant is returned when a tenant identifier is malformed.
	ErrInvalidTenant = errors.New("invalid tenant identifier")

	// ErrMissingDocument is returned when a document-scoped operation
	// receives a key without a document id.
	ErrMissingDocument = errors.New("document id missing")
)

const maxUserIDLen = 320

// Key identifies the owner of a set of chunk records.
//
// UserID is opaque (typically an email). ProjectID is required for every
// operation; DocumentID only for document-scoped ones and is uuid.Nil
// otherwise.
type Key struct {
	UserID     string
	ProjectID  uuid.UUID
	DocumentID uuid.UUID
}

// ParseKey builds a Key from its string form. An empty documentID yields a
// project-scoped key.
func ParseKey(userID, projectID, documentID string) (Key, error) {
	key := Key{UserID: strings.TrimSpace(userID)}

	if strings.TrimSpace(projectID) == "" {
		return Key{}, fmt.Errorf("%w: project id is empty", ErrMissingTenant)
	}
	pid, err := uuid.Parse(projectID)
	if err != nil {
		return Key{}, fmt.Errorf("%w: project id %q: %v", ErrInvalidTenant, projectID, err)
	}
	key.ProjectID = pid

	if documentID != "" {
		did, err := uuid.Parse(documentID)
		if err != nil {
			return Key{}, fmt.Errorf("%w: document id %q: %v", ErrInvalidTenant, documentID, err)
		}
		key.DocumentID = did
	}

	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}

// Validate checks the user and project scope.
func (k Key) Validate() error {
	return validateScope(k.UserID, k.ProjectID)
}

// RequireDocument validates the key and additionally requires a document id.
func (k Key) RequireDocument() error {
	if err := k.Validate(); err != nil {
		return err
	}
	if k.DocumentID == uuid.Nil {
		return ErrMissingDocument
	}
	return nil
}

// HasDocument reports whether the key is scoped to a single document.
func (k Key) HasDocument() bool {
	return k.DocumentID != uuid.Nil
}

// Project returns the key with the document scope dropped.
func (k Key) Project() Key {
	return Key{UserID: k.UserID, ProjectID: k.ProjectID}
}

// WithDocument returns a copy of the key scoped to documentID.
func (k Key) WithDocument(documentID uuid.UUID) Key {
	k.DocumentID = documentID
	return k
}

// Filter returns the store filter matching exactly this key.
func (k Key) Filter() Filter {
	return Filter{UserID: k.UserID, ProjectID: k.ProjectID, DocumentID: k.DocumentID}
}

// String renders the key as user/project[/document]. Project ids are
// UUIDs, so the form is unambiguous even when the user id contains a slash.
func (k Key) String() string {
	if k.HasDocument() {
		return k.UserID + "/" + k.ProjectID.String() + "/" + k.DocumentID.String()
	}
	return k.UserID + "/" + k.ProjectID.String()
}

func validateScope(userID string, projectID uuid.UUID) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is empty", ErrMissingTenant)
	}
	if !utf8.ValidString(userID) || len(userID) > maxUserIDLen {
		return fmt.Errorf("%w: user id", ErrInvalidTenant)
	}
	if projectID == uuid.Nil {
		return fmt.Errorf("%w: project id is empty", ErrMissingTenant)
	}
	return nil
}

type keyContextKey struct{}

// ContextWithKey attaches a tenant key to ctx. Log events emitted with the
// returned context carry the tenant fields.
func ContextWithKey(ctx context.Context, key Key) context.Context {
	return context.WithValue(ctx, keyContextKey{}, key)
}

// KeyFromContext returns the tenant key stored in ctx.
// Returns ErrMissingTenant if none is present.
func KeyFromContext(ctx context.Context) (Key, error) {
	key, ok := ctx.Value(keyContextKey{}).(Key)
	if !ok {
		return Key{}, ErrMissingTenant
	}
	return key, nil
}
