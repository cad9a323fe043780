package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/articler/docindex/internal/storage"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
)

func registries(t *testing.T) map[string]Registry {
	t.Helper()
	ctx := context.Background()

	file, err := NewFileRegistry(filepath.Join(t.TempDir(), "registry.json"))
	if err != nil {
		t.Fatalf("NewFileRegistry failed: %v", err)
	}
	db, err := storage.OpenSQLite(ctx, storage.MemoryDSN)
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlite, err := NewSQLiteRegistry(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteRegistry failed: %v", err)
	}

	return map[string]Registry{
		"memory": NewMemoryRegistry(),
		"file":   file,
		"sqlite": sqlite,
	}
}

func TestRegistry_Lifecycle(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			project := tenant.Key{UserID: "alice@example.com", ProjectID: uuid.New()}
			first := Entry{ID: uuid.New(), Type: "text", Title: "Notes"}
			second := Entry{ID: uuid.New(), Type: "pdf", Title: "Paper"}

			if err := r.Add(ctx, project, first); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if err := r.Add(ctx, project, second); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if err := r.Add(ctx, project, first); !errors.Is(err, ErrDuplicate) {
				t.Errorf("duplicate Add error = %v, want ErrDuplicate", err)
			}

			list, err := r.List(ctx, project)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
				t.Fatalf("List = %+v, want [first second]", list)
			}
			if list[1].Type != "pdf" || list[1].Title != "Paper" {
				t.Errorf("second entry = %+v", list[1])
			}

			got, err := r.Get(ctx, project.WithDocument(second.ID))
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if got.Title != "Paper" {
				t.Errorf("Get title = %q, want Paper", got.Title)
			}

			removed, err := r.Remove(ctx, project.WithDocument(first.ID))
			if err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if removed.ID != first.ID {
				t.Errorf("Remove returned %s, want %s", removed.ID, first.ID)
			}
			if _, err := r.Remove(ctx, project.WithDocument(first.ID)); !errors.Is(err, ErrNotFound) {
				t.Errorf("second Remove error = %v, want ErrNotFound", err)
			}

			cleared, err := r.Clear(ctx, project)
			if err != nil {
				t.Fatalf("Clear failed: %v", err)
			}
			if len(cleared) != 1 || cleared[0].ID != second.ID {
				t.Errorf("Clear returned %+v", cleared)
			}
			list, _ = r.List(ctx, project)
			if len(list) != 0 {
				t.Errorf("List after Clear = %+v, want empty", list)
			}
		})
	}
}

func TestRegistry_TenantIsolation(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			project := uuid.New()
			alice := tenant.Key{UserID: "alice", ProjectID: project}
			bob := tenant.Key{UserID: "bob", ProjectID: project}
			doc := Entry{ID: uuid.New(), Type: "text", Title: "Private"}

			if err := r.Add(ctx, alice, doc); err != nil {
				t.Fatalf("Add failed: %v", err)
			}
			if _, err := r.Get(ctx, bob.WithDocument(doc.ID)); !errors.Is(err, ErrNotFound) {
				t.Errorf("bob Get error = %v, want ErrNotFound", err)
			}
			if list, _ := r.List(ctx, bob); len(list) != 0 {
				t.Errorf("bob List = %+v, want empty", list)
			}
			if _, err := r.Remove(ctx, bob.WithDocument(doc.ID)); !errors.Is(err, ErrNotFound) {
				t.Errorf("bob Remove error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestRegistry_InvalidKeys(t *testing.T) {
	for name, r := range registries(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			entry := Entry{ID: uuid.New(), Type: "text"}

			if err := r.Add(ctx, tenant.Key{UserID: "alice"}, entry); !errors.Is(err, tenant.ErrMissingTenant) {
				t.Errorf("Add without project error = %v", err)
			}
			if err := r.Add(ctx, tenant.Key{UserID: "alice", ProjectID: uuid.New()}, Entry{}); !errors.Is(err, tenant.ErrMissingDocument) {
				t.Errorf("Add without id error = %v", err)
			}
			if _, err := r.Get(ctx, tenant.Key{UserID: "alice", ProjectID: uuid.New()}); !errors.Is(err, tenant.ErrMissingDocument) {
				t.Errorf("Get without document error = %v", err)
			}
		})
	}
}

func TestFileRegistry_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "registry.json")
	project := tenant.Key{UserID: "alice", ProjectID: uuid.New()}
	entry := Entry{ID: uuid.New(), Type: "text", Title: "Kept"}

	r1, err := NewFileRegistry(path)
	if err != nil {
		t.Fatalf("NewFileRegistry failed: %v", err)
	}
	if err := r1.Add(ctx, project, entry); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("registry file missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("registry file mode = %o, want 600", perm)
	}

	r2, err := NewFileRegistry(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	got, err := r2.Get(ctx, project.WithDocument(entry.ID))
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	if got.Title != "Kept" {
		t.Errorf("reloaded title = %q, want Kept", got.Title)
	}
}

func TestFileRegistry_Corrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileRegistry(path); !errors.Is(err, ErrRegistryCorrupted) {
		t.Errorf("NewFileRegistry error = %v, want ErrRegistryCorrupted", err)
	}
}
