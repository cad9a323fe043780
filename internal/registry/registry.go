// Package registry records which documents each (user, project) holds.
// It is the source of truth for listing and for deciding whether a remove
// refers to a known document; chunk records live in the vector store.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
)

// Errors for registry operations.
var (
	ErrNotFound          = errors.New("document not registered")
	ErrDuplicate         = errors.New("document already registered")
	ErrRegistryCorrupted = errors.New("registry file corrupted")
)

// Entry is a registered document.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Registry is the per-project document list. Project keys must validate;
// document keys must also carry a document id.
type Registry interface {
	Add(ctx context.Context, project tenant.Key, entry Entry) error
	Get(ctx context.Context, doc tenant.Key) (Entry, error)
	// List returns a project's entries in registration order.
	List(ctx context.Context, project tenant.Key) ([]Entry, error)
	// Remove unregisters a document and returns its entry.
	Remove(ctx context.Context, doc tenant.Key) (Entry, error)
	// Clear unregisters every document of a project and returns them.
	Clear(ctx context.Context, project tenant.Key) ([]Entry, error)
	Close() error
}

// fileData is the persisted registry structure.
type fileData struct {
	Version int `json:"version"`
	// Projects is keyed by the project key's String form.
	Projects map[string][]Entry `json:"projects"`
}

// FileRegistry keeps the registry in memory and, when it has a path,
// rewrites a JSON file after every change.
type FileRegistry struct {
	mu       sync.RWMutex
	data     *fileData
	filePath string
}

// NewMemoryRegistry returns a registry that is never persisted.
func NewMemoryRegistry() *FileRegistry {
	return &FileRegistry{data: &fileData{Version: 1, Projects: map[string][]Entry{}}}
}

// NewFileRegistry loads the registry at filePath, creating its directory
// if needed. A missing file is an empty registry.
func NewFileRegistry(filePath string) (*FileRegistry, error) {
	r := NewMemoryRegistry()
	r.filePath = filePath

	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create registry directory: %w", err)
	}
	if err := r.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load registry: %w", err)
	}
	return r, nil
}

func projectKey(k tenant.Key) (string, error) {
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k.Project().String(), nil
}

func (r *FileRegistry) Add(_ context.Context, project tenant.Key, entry Entry) error {
	pk, err := projectKey(project)
	if err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		return fmt.Errorf("%w: entry has no id", tenant.ErrMissingDocument)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.data.Projects[pk]
	if slices.ContainsFunc(entries, func(e Entry) bool { return e.ID == entry.ID }) {
		return fmt.Errorf("%w: %s", ErrDuplicate, entry.ID)
	}
	r.data.Projects[pk] = append(entries, entry)
	if err := r.save(); err != nil {
		r.data.Projects[pk] = entries
		return err
	}
	return nil
}

func (r *FileRegistry) Get(_ context.Context, doc tenant.Key) (Entry, error) {
	if err := doc.RequireDocument(); err != nil {
		return Entry{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.data.Projects[doc.Project().String()] {
		if e.ID == doc.DocumentID {
			return e, nil
		}
	}
	return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, doc)
}

func (r *FileRegistry) List(_ context.Context, project tenant.Key) ([]Entry, error) {
	pk, err := projectKey(project)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.data.Projects[pk]), nil
}

func (r *FileRegistry) Remove(_ context.Context, doc tenant.Key) (Entry, error) {
	if err := doc.RequireDocument(); err != nil {
		return Entry{}, err
	}
	pk := doc.Project().String()

	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.data.Projects[pk]
	i := slices.IndexFunc(entries, func(e Entry) bool { return e.ID == doc.DocumentID })
	if i < 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, doc)
	}
	removed := entries[i]
	kept := slices.Delete(slices.Clone(entries), i, i+1)
	if len(kept) == 0 {
		delete(r.data.Projects, pk)
	} else {
		r.data.Projects[pk] = kept
	}
	if err := r.save(); err != nil {
		r.data.Projects[pk] = entries
		return Entry{}, err
	}
	return removed, nil
}

func (r *FileRegistry) Clear(_ context.Context, project tenant.Key) ([]Entry, error) {
	pk, err := projectKey(project)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entries, ok := r.data.Projects[pk]
	if !ok {
		return nil, nil
	}
	delete(r.data.Projects, pk)
	if err := r.save(); err != nil {
		r.data.Projects[pk] = entries
		return nil, err
	}
	return entries, nil
}

// Close is a no-op; every change is already on disk.
func (r *FileRegistry) Close() error { return nil }

// load reads the registry from disk.
func (r *FileRegistry) load() error {
	raw, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}
	var fd fileData
	if err := json.Unmarshal(raw, &fd); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryCorrupted, err)
	}
	if fd.Projects == nil {
		fd.Projects = map[string][]Entry{}
	}
	r.data = &fd
	return nil
}

// save writes the registry atomically. Callers hold the write lock.
func (r *FileRegistry) save() error {
	if r.filePath == "" {
		return nil
	}
	raw, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	tmpPath := r.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := os.Rename(tmpPath, r.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename registry: %w", err)
	}
	return nil
}
