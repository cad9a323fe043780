package retrieval_test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/articler/docindex/internal/tenant"
	"github.com/articler/docindex/internal/vectorstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const testDim = 32

// bagOfWords embeds text as normalized word-hash counts. Index 0 carries a
// constant bias so no vector is zero.
type bagOfWords struct {
	docCalls   atomic.Int32
	queryCalls atomic.Int32
	dropLast   bool
	failQuery  bool
}

func embedText(text string) []float32 {
	v := make([]float32, testDim)
	v[0] = 0.05
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,;:!?")))
		v[1+int(h.Sum32()%(testDim-1))]++
	}
	var sum float64
	for _, f := range v {
		sum += float64(f * f)
	}
	n := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= n
	}
	return v
}

func (b *bagOfWords) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	b.docCalls.Add(1)
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, embedText(t))
	}
	if b.dropLast && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (b *bagOfWords) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	b.queryCalls.Add(1)
	if b.failQuery {
		return nil, errors.New("provider offline")
	}
	return embedText(text), nil
}

type fixture struct {
	pipeline *retrieval.Pipeline
	embedder *bagOfWords
	store    vectorstore.Store
	logger   *logging.TestLogger
}

func newFixture(t *testing.T, cfg retrieval.Config) *fixture {
	t.Helper()
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, "test_chunks", testDim, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := &bagOfWords{}
	logger := logging.NewTestLogger()
	p, err := retrieval.New(emb, store, cfg, logger.Logger)
	require.NoError(t, err)
	require.NoError(t, p.EnsureCollection(context.Background()))
	return &fixture{pipeline: p, embedder: emb, store: store, logger: logger}
}

func smallChunks() retrieval.Config {
	return retrieval.Config{ChunkSize: 40, ChunkOverlap: 10}
}

const catText = "Cats are small carnivorous mammals. Cats purr when content. " +
	"Dogs bark at the mail carrier. Parrots repeat words they hear."

func TestNew_Validation(t *testing.T) {
	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{}, "test_chunks", testDim, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		emb     *bagOfWords
		cfg     retrieval.Config
		wantErr bool
	}{
		{name: "defaults", emb: &bagOfWords{}, cfg: retrieval.Config{}},
		{name: "custom", emb: &bagOfWords{}, cfg: retrieval.Config{ChunkSize: 100, ChunkOverlap: 0}},
		{name: "overlap equals size", emb: &bagOfWords{}, cfg: retrieval.Config{ChunkSize: 10, ChunkOverlap: 10}, wantErr: true},
		{name: "negative overlap", emb: &bagOfWords{}, cfg: retrieval.Config{ChunkSize: 10, ChunkOverlap: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := retrieval.New(tt.emb, store, tt.cfg, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	_, err = retrieval.New(nil, store, retrieval.Config{}, nil)
	assert.Error(t, err)
}

func TestPipeline_StoreAndSearch(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()
	key := tenant.Key{UserID: "alice", ProjectID: uuid.New(), DocumentID: uuid.New()}

	handle, err := f.pipeline.StoreText(ctx, key, "Animals", catText)
	require.NoError(t, err)
	assert.Equal(t, retrieval.DocumentText, handle.Type)
	assert.Equal(t, key.DocumentID, handle.ID)
	assert.Equal(t, "Animals", handle.Title)
	assert.Equal(t, int32(1), f.embedder.docCalls.Load(), "chunks are embedded in one batch")

	results := f.pipeline.Search(ctx, key.Project().Filter(), "cats purr", 2)
	require.Len(t, results, 2)
	assert.Contains(t, strings.ToLower(results[0]), "cat")

	// Default top applies when top is not positive.
	results = f.pipeline.Search(ctx, key.Project().Filter(), "cats purr", 0)
	assert.Len(t, results, retrieval.DefaultTop)

	f.logger.AssertLogged(t, zapcore.InfoLevel, "document stored")
	f.logger.AssertField(t, "document stored", "document_id", key.DocumentID.String())
}

func TestPipeline_SearchFewerThanTop(t *testing.T) {
	f := newFixture(t, retrieval.Config{})
	ctx := context.Background()
	key := tenant.Key{UserID: "alice", ProjectID: uuid.New(), DocumentID: uuid.New()}

	_, err := f.pipeline.StoreText(ctx, key, "short", "one tiny document")
	require.NoError(t, err)

	results := f.pipeline.Search(ctx, key.Project().Filter(), "tiny", 10)
	assert.Equal(t, []string{"one tiny document"}, results)
}

func TestPipeline_TenantIsolation(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()
	project := uuid.New()
	alice := tenant.Key{UserID: "alice", ProjectID: project, DocumentID: uuid.New()}

	_, err := f.pipeline.StoreText(ctx, alice, "Animals", catText)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter tenant.Filter
	}{
		{name: "other user same project", filter: tenant.NewFilter("bob", project)},
		{name: "same user other project", filter: tenant.NewFilter("alice", uuid.New())},
		{name: "other document", filter: tenant.NewFilter("alice", project).WithDocument(uuid.New())},
		{name: "other title", filter: tenant.NewFilter("alice", project).WithTitle("Plants")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, f.pipeline.Search(ctx, tt.filter, "cats", 3))
		})
	}

	scoped := f.pipeline.Search(ctx, tenant.NewFilter("alice", project).WithTitle("Animals"), "cats", 3)
	assert.NotEmpty(t, scoped)
}

func TestPipeline_StoreText_ProviderMismatch(t *testing.T) {
	f := newFixture(t, smallChunks())
	f.embedder.dropLast = true
	ctx := context.Background()
	key := tenant.Key{UserID: "alice", ProjectID: uuid.New(), DocumentID: uuid.New()}

	_, err := f.pipeline.StoreText(ctx, key, "Animals", catText)
	require.ErrorIs(t, err, retrieval.ErrProviderMismatch)

	records, err := f.store.Scan(ctx, key.Filter(), 100)
	require.NoError(t, err)
	assert.Empty(t, records, "nothing is written on mismatch")
	f.logger.AssertLogged(t, zapcore.DPanicLevel, "embedding count does not match chunk count")
}

func TestPipeline_StoreText_Errors(t *testing.T) {
	f := newFixture(t, retrieval.Config{})
	ctx := context.Background()
	project := tenant.Key{UserID: "alice", ProjectID: uuid.New()}

	tests := []struct {
		name    string
		key     tenant.Key
		text    string
		wantErr error
	}{
		{name: "missing document", key: project, text: "hello", wantErr: tenant.ErrMissingDocument},
		{name: "blank text", key: project.WithDocument(uuid.New()), text: "  \n\t", wantErr: retrieval.ErrEmptyInput},
		{name: "empty text", key: project.WithDocument(uuid.New()), text: "", wantErr: retrieval.ErrEmptyInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.StoreText(ctx, tt.key, "t", tt.text)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Zero(t, f.embedder.docCalls.Load())
}

func TestPipeline_Search_EmptyQuery(t *testing.T) {
	f := newFixture(t, retrieval.Config{})
	filter := tenant.NewFilter("alice", uuid.New())

	for _, q := range []string{"", "   ", "\n"} {
		assert.Equal(t, []string{}, f.pipeline.Search(context.Background(), filter, q, 3))
	}
	assert.Zero(t, f.embedder.queryCalls.Load())
}

func TestPipeline_Search_Degrades(t *testing.T) {
	f := newFixture(t, retrieval.Config{})
	ctx := context.Background()
	key := tenant.Key{UserID: "alice", ProjectID: uuid.New(), DocumentID: uuid.New()}
	_, err := f.pipeline.StoreText(ctx, key, "doc", "some content")
	require.NoError(t, err)

	f.embedder.failQuery = true
	assert.Equal(t, []string{}, f.pipeline.Search(ctx, key.Project().Filter(), "content", 3))
	f.logger.AssertLogged(t, zapcore.ErrorLevel, "search degraded")
	f.logger.AssertField(t, "search degraded", "stage", "embed")

	// An invalid filter degrades without reaching the provider.
	calls := f.embedder.queryCalls.Load()
	assert.Equal(t, []string{}, f.pipeline.Search(ctx, tenant.Filter{UserID: "alice"}, "content", 3))
	assert.Equal(t, calls, f.embedder.queryCalls.Load())
}

func TestPipeline_Remove(t *testing.T) {
	f := newFixture(t, smallChunks())
	ctx := context.Background()
	project := tenant.Key{UserID: "alice", ProjectID: uuid.New()}
	doc1 := project.WithDocument(uuid.New())
	doc2 := project.WithDocument(uuid.New())

	_, err := f.pipeline.StoreText(ctx, doc1, "Animals", catText)
	require.NoError(t, err)
	_, err = f.pipeline.StoreText(ctx, doc2, "Weather", "Rain falls on the plains while the sun shines elsewhere.")
	require.NoError(t, err)

	handle, err := f.pipeline.Remove(ctx, doc1)
	require.NoError(t, err)
	assert.Equal(t, doc1.DocumentID, handle.ID)
	assert.Equal(t, "Animals", handle.Title)

	left, err := f.store.Scan(ctx, doc1.Filter(), 100)
	require.NoError(t, err)
	assert.Empty(t, left)

	others, err := f.store.Scan(ctx, doc2.Filter(), 100)
	require.NoError(t, err)
	assert.NotEmpty(t, others, "sibling document is untouched")

	_, err = f.pipeline.Remove(ctx, doc1)
	assert.ErrorIs(t, err, retrieval.ErrNotFound)

	_, err = f.pipeline.Remove(ctx, project)
	assert.ErrorIs(t, err, tenant.ErrMissingDocument)
}

func TestPipeline_Remove_ScanCap(t *testing.T) {
	f := newFixture(t, retrieval.Config{ChunkSize: 10, ChunkOverlap: 0, RemoveScanCap: 2})
	ctx := context.Background()
	key := tenant.Key{UserID: "alice", ProjectID: uuid.New(), DocumentID: uuid.New()}

	_, err := f.pipeline.StoreText(ctx, key, "long", strings.Repeat("abcdefghij", 5))
	require.NoError(t, err)

	_, err = f.pipeline.Remove(ctx, key)
	require.ErrorIs(t, err, retrieval.ErrStoreUnavailable)
	assert.ErrorIs(t, err, vectorstore.ErrScanLimit)

	left, err := f.store.Scan(ctx, key.Filter(), 100)
	require.NoError(t, err)
	assert.Len(t, left, 5, "nothing removed past the cap")
}
