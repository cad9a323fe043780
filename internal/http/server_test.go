package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/ingest"
	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/pdftext"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// fakeService records the last call and returns canned results.
type fakeService struct {
	outcome ingest.Outcome
	err     error
	docs    []retrieval.DocumentHandle
	handle  retrieval.DocumentHandle
	results []string
	account *budget.Account

	user    string
	project uuid.UUID
	title   string
	body    string
	search  ingest.SearchRequest
	tier    budget.Tier
}

func (f *fakeService) AddText(_ context.Context, user string, project uuid.UUID, title, text string) (ingest.Outcome, error) {
	f.user, f.project, f.title, f.body = user, project, title, text
	return f.outcome, f.err
}

func (f *fakeService) AddPDF(_ context.Context, user string, project uuid.UUID, title, url string) (ingest.Outcome, error) {
	f.user, f.project, f.title, f.body = user, project, title, url
	return f.outcome, f.err
}

func (f *fakeService) Documents(_ context.Context, user string, project uuid.UUID) ([]retrieval.DocumentHandle, error) {
	f.user, f.project = user, project
	return f.docs, f.err
}

func (f *fakeService) RemoveDocument(_ context.Context, user string, project, _ uuid.UUID) (retrieval.DocumentHandle, error) {
	f.user, f.project = user, project
	return f.handle, f.err
}

func (f *fakeService) RemoveProject(_ context.Context, user string, project uuid.UUID) ([]retrieval.DocumentHandle, error) {
	f.user, f.project = user, project
	return f.docs, f.err
}

func (f *fakeService) Search(_ context.Context, user string, project uuid.UUID, req ingest.SearchRequest) ([]string, error) {
	f.user, f.project, f.search = user, project, req
	return f.results, f.err
}

func (f *fakeService) Account(_ context.Context, user string) (*budget.Account, error) {
	f.user = user
	return f.account, f.err
}

func (f *fakeService) SetTier(_ context.Context, user string, tier budget.Tier) (*budget.Account, error) {
	f.user, f.tier = user, tier
	return f.account, f.err
}

func setupTestServer(t *testing.T, svc *fakeService) (*Server, *logging.TestLogger) {
	t.Helper()
	logger := logging.NewTestLogger()
	s, err := NewServer(svc, logger.Logger, nil)
	require.NoError(t, err)
	return s, logger
}

func do(s *Server, method, path, user string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(&fakeService{}, logging.Nop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", s.config.Host)
		assert.Equal(t, 8080, s.config.Port)
		assert.Equal(t, "localhost:8080", s.Addr())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeService{}, nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.Nop(), nil)
		assert.ErrorContains(t, err, "service cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	s, _ := setupTestServer(t, &fakeService{})
	rec := do(s, http.MethodGet, "/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := setupTestServer(t, &fakeService{})
	rec := do(s, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleAddText(t *testing.T) {
	project := uuid.New()
	doc := retrieval.DocumentHandle{Type: retrieval.DocumentText, ID: uuid.New(), Title: "Notes"}
	path := "/api/v1/projects/" + project.String() + "/documents/text"

	t.Run("created", func(t *testing.T) {
		svc := &fakeService{outcome: ingest.Outcome{Status: budget.StatusSuccess, Document: &doc, Remaining: 42}}
		s, logger := setupTestServer(t, svc)

		rec := do(s, http.MethodPost, path, "alice@example.com", AddTextRequest{Title: "Notes", Text: "body"})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, "alice@example.com", svc.user)
		assert.Equal(t, project, svc.project)
		assert.Equal(t, "Notes", svc.title)
		assert.Equal(t, "body", svc.body)

		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "Success", got["status"])
		assert.Equal(t, float64(42), got["remaining"])
		assert.Equal(t, "text", got["document"].(map[string]any)["type"])

		logger.AssertLogged(t, zapcore.InfoLevel, "http request")
	})

	t.Run("budget refusal is 402", func(t *testing.T) {
		svc := &fakeService{outcome: ingest.Outcome{Status: budget.StatusNotEnoughTokens, Remaining: -5}}
		s, _ := setupTestServer(t, svc)

		rec := do(s, http.MethodPost, path, "alice", AddTextRequest{Title: "t", Text: "x"})
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"NotEnoughTokens"`)
		assert.Contains(t, rec.Body.String(), `"remaining":-5`)
	})

	t.Run("missing user header", func(t *testing.T) {
		s, _ := setupTestServer(t, &fakeService{})
		rec := do(s, http.MethodPost, path, "", AddTextRequest{Title: "t", Text: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), HeaderUserID)
	})

	t.Run("bad project id", func(t *testing.T) {
		s, _ := setupTestServer(t, &fakeService{})
		rec := do(s, http.MethodPost, "/api/v1/projects/not-a-uuid/documents/text", "alice", AddTextRequest{Title: "t", Text: "x"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		s, _ := setupTestServer(t, &fakeService{})
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader("{not json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderUserID, "alice")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "invalid request body")
	})
}

func TestErrorMapping(t *testing.T) {
	project := uuid.New()
	path := "/api/v1/projects/" + project.String() + "/documents/text"

	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: blank", retrieval.ErrEmptyInput), http.StatusBadRequest},
		{tenant.ErrMissingTenant, http.StatusBadRequest},
		{budget.ErrInvalidOperation, http.StatusBadRequest},
		{pdftext.ErrInvalidURL, http.StatusBadRequest},
		{fmt.Errorf("%w: gone", retrieval.ErrNotFound), http.StatusNotFound},
		{budget.ErrAccountNotFound, http.StatusNotFound},
		{pdftext.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{pdftext.ErrNoText, http.StatusUnprocessableEntity},
		{ingest.ErrPDFUnavailable, http.StatusNotImplemented},
		{retrieval.ErrProviderMismatch, http.StatusBadGateway},
		{fmt.Errorf("%w: qdrant down", retrieval.ErrStoreUnavailable), http.StatusBadGateway},
		{retrieval.ErrEmbeddingFailed, http.StatusBadGateway},
		{pdftext.ErrDownloadFailed, http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s, _ := setupTestServer(t, &fakeService{err: tt.err})
			rec := do(s, http.MethodPost, path, "alice", AddTextRequest{Title: "t", Text: "x"})
			assert.Equal(t, tt.code, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.RequestID)
			if tt.code >= http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, tt.err.Error(), "5xx details are not echoed")
			}
		})
	}
}

func TestHandleAddPDF(t *testing.T) {
	project := uuid.New()
	doc := retrieval.DocumentHandle{Type: retrieval.DocumentPDF, ID: uuid.New(), Title: "Paper"}
	svc := &fakeService{outcome: ingest.Outcome{Status: budget.StatusSuccess, Document: &doc}}
	s, _ := setupTestServer(t, svc)

	rec := do(s, http.MethodPost, "/api/v1/projects/"+project.String()+"/documents/pdf", "alice",
		AddPDFRequest{Title: "Paper", URL: "https://example.com/p.pdf"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "https://example.com/p.pdf", svc.body)
	assert.Contains(t, rec.Body.String(), `"type":"pdf"`)
}

func TestHandleListAndRemove(t *testing.T) {
	project := uuid.New()
	docs := []retrieval.DocumentHandle{
		{Type: retrieval.DocumentText, ID: uuid.New(), Title: "a"},
		{Type: retrieval.DocumentPDF, ID: uuid.New(), Title: "b"},
	}
	svc := &fakeService{docs: docs, handle: docs[0]}
	s, _ := setupTestServer(t, svc)
	base := "/api/v1/projects/" + project.String()

	rec := do(s, http.MethodGet, base+"/documents", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list DocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, docs, list.Documents)

	rec = do(s, http.MethodDelete, base+"/documents/"+docs[0].ID.String(), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var removed retrieval.DocumentHandle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &removed))
	assert.Equal(t, docs[0], removed)

	rec = do(s, http.MethodDelete, base+"/documents/nope", "alice", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(s, http.MethodDelete, base, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Documents, 2)
}

func TestHandleSearch(t *testing.T) {
	project := uuid.New()
	doc := uuid.New()
	svc := &fakeService{results: []string{"first", "second"}}
	s, _ := setupTestServer(t, svc)
	path := "/api/v1/projects/" + project.String() + "/search"

	rec := do(s, http.MethodPost, path, "alice", SearchRequest{Query: "q", Top: 2, DocumentID: doc.String(), Title: "T"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ingest.SearchRequest{Query: "q", Top: 2, DocumentID: doc, Title: "T"}, svc.search)
	assert.JSONEq(t, `{"results":["first","second"]}`, rec.Body.String())

	svc.results = nil
	rec = do(s, http.MethodPost, path, "alice", SearchRequest{Query: "q"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"results":[]}`, rec.Body.String())

	rec = do(s, http.MethodPost, path, "alice", SearchRequest{Query: "q", DocumentID: "bad"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAccounts(t *testing.T) {
	svc := &fakeService{account: &budget.Account{UserID: "alice", Tier: budget.TierTrial, Balance: 1000}}
	s, _ := setupTestServer(t, svc)

	rec := do(s, http.MethodPut, "/api/v1/accounts", "alice", AccountRequest{Tier: "Trial"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, budget.TierTrial, svc.tier)
	assert.JSONEq(t, `{"userId":"alice","tier":"trial","balance":1000}`, rec.Body.String())

	rec = do(s, http.MethodGet, "/api/v1/accounts", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(s, http.MethodPut, "/api/v1/accounts", "alice", AccountRequest{Tier: "platinum"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	svc.err = budget.ErrAccountNotFound
	rec = do(s, http.MethodGet, "/api/v1/accounts", "bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s, _ := setupTestServer(t, &fakeService{})
	rec := do(s, http.MethodGet, "/api/v1/nothing", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
