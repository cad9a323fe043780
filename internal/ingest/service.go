// Package ingest is the document ingestion service. It owns the request
// flow around the retrieval pipeline: input validation, the token budget,
// document registration and per-project serialization.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/logging"
	"github.com/articler/docindex/internal/registry"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/articler/docindex/internal/sanitize"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrPDFUnavailable is returned by AddPDF when no fetcher is configured.
var ErrPDFUnavailable = errors.New("pdf ingestion not configured")

// Pipeline is the subset of *retrieval.Pipeline the service uses.
type Pipeline interface {
	StoreText(ctx context.Context, key tenant.Key, title, text string) (retrieval.DocumentHandle, error)
	Search(ctx context.Context, filter tenant.Filter, query string, top int) []string
	Remove(ctx context.Context, key tenant.Key) (retrieval.DocumentHandle, error)
}

// TextFetcher downloads a document and returns its text.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Outcome is the result of an add request. Document is set only when
// Status is budget.StatusSuccess.
type Outcome struct {
	Status    budget.Status             `json:"status"`
	Document  *retrieval.DocumentHandle `json:"document,omitempty"`
	Remaining int64                     `json:"remaining"`
}

// Option configures a Service.
type Option func(*Service)

// WithFetcher enables AddPDF.
func WithFetcher(f TextFetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithLogger sets the service logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now for registration timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements document ingestion for all tenants.
type Service struct {
	pipeline Pipeline
	gate     *budget.Gate
	accounts budget.AccountStore
	registry registry.Registry
	fetcher  TextFetcher
	locks    *tenant.KeyedMutex
	logger   *logging.Logger
	now      func() time.Time
}

// NewService wires a service. pipeline, gate, accounts and reg are required.
func NewService(pipeline Pipeline, gate *budget.Gate, accounts budget.AccountStore, reg registry.Registry, opts ...Option) (*Service, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if gate == nil || accounts == nil {
		return nil, fmt.Errorf("budget gate and account store cannot be nil")
	}
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}

	s := &Service{
		pipeline: pipeline,
		gate:     gate,
		accounts: accounts,
		registry: reg,
		locks:    tenant.NewKeyedMutex(),
		logger:   logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("ingest")
	return s, nil
}

func projectKey(userID string, projectID uuid.UUID) (tenant.Key, error) {
	key := tenant.Key{UserID: strings.TrimSpace(userID), ProjectID: projectID}
	if err := key.Validate(); err != nil {
		return tenant.Key{}, err
	}
	return key, nil
}

func (s *Service) lock(ctx context.Context, project tenant.Key) (func(), error) {
	unlock, err := s.locks.Lock(ctx, project.Project().String())
	if err != nil {
		return nil, fmt.Errorf("waiting for project lock: %w", err)
	}
	return unlock, nil
}

// AddText stores a text document in a project if the caller's budget
// allows it.
//
// A blank title or text yields StatusInternalError with an ErrEmptyInput
// error. A budget refusal yields the gate's status and a nil error.
// Failures after the budget passed yield StatusExceptionRaised.
func (s *Service) AddText(ctx context.Context, userID string, projectID uuid.UUID, title, text string) (Outcome, error) {
	key, err := projectKey(userID, projectID)
	if err != nil {
		return Outcome{Status: budget.StatusInternalError}, err
	}
	log := s.logger.With(append(logging.TenantFields(key), zap.String("op", "add_text"))...)

	title, text = sanitize.Title(title), sanitize.Text(text)
	if strings.TrimSpace(title) == "" || strings.TrimSpace(text) == "" {
		log.Warn(ctx, "title and text are required",
			zap.Int("title_length", len(title)),
			zap.Int("text_length", len(text)))
		return Outcome{Status: budget.StatusInternalError},
			fmt.Errorf("%w: title and text are required", retrieval.ErrEmptyInput)
	}
	return s.add(ctx, log, key, title, text, retrieval.DocumentText)
}

// AddPDF downloads the PDF at url and stores its text like AddText.
// Download and parse failures yield StatusExceptionRaised.
func (s *Service) AddPDF(ctx context.Context, userID string, projectID uuid.UUID, title, url string) (Outcome, error) {
	key, err := projectKey(userID, projectID)
	if err != nil {
		return Outcome{Status: budget.StatusInternalError}, err
	}
	log := s.logger.With(append(logging.TenantFields(key), zap.String("op", "add_pdf"))...)

	title = sanitize.Title(title)
	if strings.TrimSpace(title) == "" || strings.TrimSpace(url) == "" {
		log.Warn(ctx, "title and url are required")
		return Outcome{Status: budget.StatusInternalError},
			fmt.Errorf("%w: title and url are required", retrieval.ErrEmptyInput)
	}
	if s.fetcher == nil {
		return Outcome{Status: budget.StatusInternalError}, ErrPDFUnavailable
	}

	text, err := s.fetcher.FetchText(ctx, url)
	if err != nil {
		log.Error(ctx, "pdf fetch failed", zap.Error(err))
		return Outcome{Status: budget.StatusExceptionRaised}, fmt.Errorf("fetching pdf: %w", err)
	}
	log.Info(ctx, "pdf fetched", zap.Int("text_length", len(text)))
	return s.add(ctx, log, key, title, sanitize.Text(text), retrieval.DocumentPDF)
}

func (s *Service) add(ctx context.Context, log *logging.Logger, key tenant.Key, title, text string, docType retrieval.DocumentType) (Outcome, error) {
	unlock, err := s.lock(ctx, key)
	if err != nil {
		return Outcome{Status: budget.StatusExceptionRaised}, err
	}
	defer unlock()

	account, err := s.accounts.Get(ctx, key.UserID)
	if err != nil {
		log.Warn(ctx, "account lookup failed", zap.Error(err))
		return Outcome{Status: budget.StatusInternalError}, err
	}

	res, err := s.gate.Check(ctx, account, text)
	if err != nil {
		log.Error(ctx, "budget check failed", zap.Error(err))
		return Outcome{Status: budget.StatusExceptionRaised}, err
	}
	if !res.OK() {
		OutcomesTotal.WithLabelValues(docType.String(), res.Status.String()).Inc()
		log.Warn(ctx, "budget refused document",
			zap.Stringer("status", res.Status),
			zap.Int64("needed", res.Needed),
			zap.Int64("remaining", res.Remaining))
		return Outcome{Status: res.Status, Remaining: res.Remaining}, nil
	}

	docKey := key.WithDocument(uuid.New())
	handle, err := s.pipeline.StoreText(ctx, docKey, title, text)
	if err != nil {
		OutcomesTotal.WithLabelValues(docType.String(), budget.StatusExceptionRaised.String()).Inc()
		log.Error(ctx, "store failed", zap.Stringer("document_id", docKey.DocumentID), zap.Error(err))
		return Outcome{Status: budget.StatusExceptionRaised}, err
	}
	handle.Type = docType

	entry := registry.Entry{ID: handle.ID, Type: docType.String(), Title: handle.Title, CreatedAt: s.now().UTC()}
	if err := s.registry.Add(ctx, key, entry); err != nil {
		log.Error(ctx, "registration failed, removing stored chunks",
			zap.Stringer("document_id", handle.ID), zap.Error(err))
		if _, rmErr := s.pipeline.Remove(ctx, docKey); rmErr != nil {
			log.Error(ctx, "rollback failed", zap.Stringer("document_id", handle.ID), zap.Error(rmErr))
		}
		OutcomesTotal.WithLabelValues(docType.String(), budget.StatusExceptionRaised.String()).Inc()
		return Outcome{Status: budget.StatusExceptionRaised}, fmt.Errorf("registering document: %w", err)
	}

	remaining := res.Remaining
	if acct, err := s.gate.Consume(ctx, key.UserID, res.Needed); err != nil {
		log.Error(ctx, "debit failed", zap.Int64("needed", res.Needed), zap.Error(err))
	} else if acct.Tier.Metered() {
		remaining = acct.Balance
	}

	OutcomesTotal.WithLabelValues(docType.String(), budget.StatusSuccess.String()).Inc()
	log.Info(ctx, "document added",
		zap.Stringer("document_id", handle.ID),
		zap.Stringer("type", docType),
		zap.Int64("tokens", res.Needed),
		zap.Int64("remaining", remaining))
	return Outcome{Status: budget.StatusSuccess, Document: &handle, Remaining: remaining}, nil
}

// Documents lists a project's registered documents in registration order.
func (s *Service) Documents(ctx context.Context, userID string, projectID uuid.UUID) ([]retrieval.DocumentHandle, error) {
	key, err := projectKey(userID, projectID)
	if err != nil {
		return nil, err
	}
	entries, err := s.registry.List(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	docs := make([]retrieval.DocumentHandle, 0, len(entries))
	for _, e := range entries {
		docs = append(docs, handleFor(e))
	}
	s.logger.Debug(ctx, "documents listed",
		append(logging.TenantFields(key), zap.String("op", "list"), zap.Int("count", len(docs)))...)
	return docs, nil
}

func handleFor(e registry.Entry) retrieval.DocumentHandle {
	t, err := retrieval.ParseDocumentType(e.Type)
	if err != nil {
		t = retrieval.DocumentText
	}
	return retrieval.DocumentHandle{Type: t, ID: e.ID, Title: e.Title}
}

// RemoveDocument deletes a registered document's chunks and unregisters
// it. An unregistered document is retrieval.ErrNotFound. A registered
// document without chunks is still unregistered.
func (s *Service) RemoveDocument(ctx context.Context, userID string, projectID, documentID uuid.UUID) (retrieval.DocumentHandle, error) {
	key, err := projectKey(userID, projectID)
	if err != nil {
		return retrieval.DocumentHandle{}, err
	}
	if documentID == uuid.Nil {
		return retrieval.DocumentHandle{}, tenant.ErrMissingDocument
	}
	docKey := key.WithDocument(documentID)
	log := s.logger.With(append(logging.TenantFields(docKey), zap.String("op", "remove"))...)

	unlock, err := s.lock(ctx, key)
	if err != nil {
		return retrieval.DocumentHandle{}, err
	}
	defer unlock()

	entry, err := s.registry.Get(ctx, docKey)
	if errors.Is(err, registry.ErrNotFound) {
		log.Info(ctx, "document not registered")
		return retrieval.DocumentHandle{}, fmt.Errorf("%w: %w", retrieval.ErrNotFound, err)
	}
	if err != nil {
		return retrieval.DocumentHandle{}, fmt.Errorf("looking up document: %w", err)
	}

	if err := s.removeChunks(ctx, log, docKey); err != nil {
		return retrieval.DocumentHandle{}, err
	}
	if _, err := s.registry.Remove(ctx, docKey); err != nil && !errors.Is(err, registry.ErrNotFound) {
		return retrieval.DocumentHandle{}, fmt.Errorf("unregistering document: %w", err)
	}

	log.Info(ctx, "document removed", zap.String("title", entry.Title))
	return handleFor(entry), nil
}

func (s *Service) removeChunks(ctx context.Context, log *logging.Logger, docKey tenant.Key) error {
	_, err := s.pipeline.Remove(ctx, docKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, retrieval.ErrNotFound):
		log.Warn(ctx, "registered document has no chunks")
		return nil
	default:
		log.Error(ctx, "chunk removal failed", zap.Error(err))
		return err
	}
}

// RemoveProject removes every registered document of a project and
// returns their handles. Documents whose chunks could not be removed stay
// registered and their errors are joined.
func (s *Service) RemoveProject(ctx context.Context, userID string, projectID uuid.UUID) ([]retrieval.DocumentHandle, error) {
	key, err := projectKey(userID, projectID)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(append(logging.TenantFields(key), zap.String("op", "remove_project"))...)

	unlock, err := s.lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	entries, err := s.registry.List(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}

	removed := make([]retrieval.DocumentHandle, 0, len(entries))
	var errs []error
	for _, e := range entries {
		docKey := key.WithDocument(e.ID)
		if err := s.removeChunks(ctx, log.With(zap.Stringer("document_id", e.ID)), docKey); err != nil {
			errs = append(errs, fmt.Errorf("document %s: %w", e.ID, err))
			continue
		}
		removed = append(removed, handleFor(e))
	}

	if len(errs) == 0 {
		if _, err := s.registry.Clear(ctx, key); err != nil {
			return removed, fmt.Errorf("clearing registry: %w", err)
		}
	} else {
		for _, h := range removed {
			if _, err := s.registry.Remove(ctx, key.WithDocument(h.ID)); err != nil && !errors.Is(err, registry.ErrNotFound) {
				errs = append(errs, fmt.Errorf("unregistering %s: %w", h.ID, err))
			}
		}
	}

	log.Info(ctx, "project removed", zap.Int("removed", len(removed)), zap.Int("failed", len(entries)-len(removed)))
	return removed, errors.Join(errs...)
}

// SearchRequest narrows a project search.
type SearchRequest struct {
	Query      string
	Top        int
	DocumentID uuid.UUID
	Title      string
}

// Search returns the most relevant chunk texts of a project, optionally
// narrowed to one document or title. Retrieval failures yield an empty
// result; only an invalid tenant is an error.
func (s *Service) Search(ctx context.Context, userID string, projectID uuid.UUID, req SearchRequest) ([]string, error) {
	key, err := projectKey(userID, projectID)
	if err != nil {
		return nil, err
	}
	filter := tenant.NewFilter(key.UserID, key.ProjectID)
	if req.DocumentID != uuid.Nil {
		filter = filter.WithDocument(req.DocumentID)
	}
	if t := strings.TrimSpace(req.Title); t != "" {
		filter = filter.WithTitle(t)
	}
	return s.pipeline.Search(ctx, filter, req.Query, req.Top), nil
}

// Account returns the caller's account.
func (s *Service) Account(ctx context.Context, userID string) (*budget.Account, error) {
	return s.accounts.Get(ctx, strings.TrimSpace(userID))
}

// SetTier creates the caller's account with tier, or moves an existing
// account to tier.
func (s *Service) SetTier(ctx context.Context, userID string, tier budget.Tier) (*budget.Account, error) {
	userID = strings.TrimSpace(userID)
	if tier == budget.TierUnknown {
		return nil, fmt.Errorf("%w: tier %s", budget.ErrInvalidOperation, tier)
	}
	a, err := s.accounts.Create(ctx, userID, tier)
	if errors.Is(err, budget.ErrAccountExists) {
		a, err = s.accounts.SetTier(ctx, userID, tier)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "account tier set",
		zap.String("op", "set_tier"),
		zap.String("user_id", userID),
		zap.Stringer("tier", a.Tier),
		zap.Int64("balance", a.Balance))
	return a, nil
}
