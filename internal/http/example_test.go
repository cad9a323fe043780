package http_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/articler/docindex/internal/budget"
	httpserver "github.com/articler/docindex/internal/http"
	"github.com/articler/docindex/internal/ingest"
	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/registry"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/articler/docindex/internal/tenant"
)

type noopPipeline struct{}

func (noopPipeline) StoreText(_ context.Context, key tenant.Key, title, _ string) (retrieval.DocumentHandle, error) {
	return retrieval.DocumentHandle{ID: key.DocumentID, Title: title}, nil
}

func (noopPipeline) Search(context.Context, tenant.Filter, string, int) []string { return nil }

func (noopPipeline) Remove(context.Context, tenant.Key) (retrieval.DocumentHandle, error) {
	return retrieval.DocumentHandle{}, retrieval.ErrNotFound
}

// ExampleServer demonstrates how to create and start the HTTP server.
func ExampleServer() {
	logger := logging.Nop()

	accounts := budget.NewMemoryAccountStore(budget.DefaultBalances())
	gate := budget.NewGate(budget.NewTiktokenCounter("text-embedding-3-small"), accounts, logger)
	svc, err := ingest.NewService(noopPipeline{}, gate, accounts, registry.NewMemoryRegistry(), ingest.WithLogger(logger))
	if err != nil {
		panic(err)
	}

	server, err := httpserver.NewServer(svc, logger, &httpserver.Config{Host: "127.0.0.1", Port: 0})
	if err != nil {
		panic(err)
	}

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		panic(err)
	}
	if err := <-done; err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}

	fmt.Println("Server started and stopped successfully")
	// Output: Server started and stopped successfully
}
