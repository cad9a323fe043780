package http

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/ingest"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/articler/docindex/internal/tenant"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// caller returns the X-User-ID header value.
func caller(c echo.Context) (string, error) {
	user := strings.TrimSpace(c.Request().Header.Get(HeaderUserID))
	if user == "" {
		return "", fmt.Errorf("%w: %s header is required", tenant.ErrMissingTenant, HeaderUserID)
	}
	return user, nil
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s %q", tenant.ErrInvalidTenant, name, c.Param(name))
	}
	return id, nil
}

// scope resolves the caller and the :project path parameter.
func scope(c echo.Context) (string, uuid.UUID, error) {
	user, err := caller(c)
	if err != nil {
		return "", uuid.Nil, err
	}
	project, err := pathUUID(c, "project")
	if err != nil {
		return "", uuid.Nil, err
	}
	return user, project, nil
}

func bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	return nil
}

func accountResponse(a *budget.Account) AccountResponse {
	return AccountResponse{UserID: a.UserID, Tier: a.Tier, Balance: a.Balance}
}

func (s *Server) handleGetAccount(c echo.Context) error {
	user, err := caller(c)
	if err != nil {
		return err
	}
	a, err := s.svc.Account(c.Request().Context(), user)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accountResponse(a))
}

func (s *Server) handlePutAccount(c echo.Context) error {
	user, err := caller(c)
	if err != nil {
		return err
	}
	var req AccountRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	tier, err := budget.ParseTier(req.Tier)
	if err != nil {
		return err
	}
	a, err := s.svc.SetTier(c.Request().Context(), user, tier)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, accountResponse(a))
}

func (s *Server) handleListDocuments(c echo.Context) error {
	user, project, err := scope(c)
	if err != nil {
		return err
	}
	docs, err := s.svc.Documents(c.Request().Context(), user, project)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, DocumentsResponse{Documents: docs})
}

// respondOutcome writes a successful add as 201 and a budget refusal as 402.
// Errors go to the error handler.
func (s *Server) respondOutcome(c echo.Context, out ingest.Outcome, err error) error {
	if err != nil {
		return err
	}
	if out.Status != budget.StatusSuccess {
		s.logger.Info(c.Request().Context(), "add refused by budget",
			zap.Stringer("status", out.Status),
			zap.Int64("remaining", out.Remaining))
		return c.JSON(http.StatusPaymentRequired, out)
	}
	return c.JSON(http.StatusCreated, out)
}

func (s *Server) handleAddText(c echo.Context) error {
	user, project, err := scope(c)
	if err != nil {
		return err
	}
	var req AddTextRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := s.svc.AddText(c.Request().Context(), user, project, req.Title, req.Text)
	return s.respondOutcome(c, out, err)
}

func (s *Server) handleAddPDF(c echo.Context) error {
	user, project, err := scope(c)
	if err != nil {
		return err
	}
	var req AddPDFRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	out, err := s.svc.AddPDF(c.Request().Context(), user, project, req.Title, req.URL)
	return s.respondOutcome(c, out, err)
}

func (s *Server) handleRemoveDocument(c echo.Context) error {
	user, project, err := scope(c)
	if err != nil {
		return err
	}
	doc, err := pathUUID(c, "document")
	if err != nil {
		return err
	}
	handle, err := s.svc.RemoveDocument(c.Request().Context(), user, project, doc)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, handle)
}

func (s *Server) handleRemoveProject(c echo.Context) error {
	user, project, err := scope(c)
	if err != nil {
		return err
	}
	removed, err := s.svc.RemoveProject(c.Request().Context(), user, project)
	if err != nil {
		return err
	}
	if removed == nil {
		removed = []retrieval.DocumentHandle{}
	}
	return c.JSON(http.StatusOK, DocumentsResponse{Documents: removed})
}

func (s *Server) handleSearch(c echo.Context) error {
	user, project, err := scope(c)
	if err != nil {
		return err
	}
	var req SearchRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sr := ingest.SearchRequest{Query: req.Query, Top: req.Top, Title: req.Title}
	if req.DocumentID != "" {
		id, err := uuid.Parse(req.DocumentID)
		if err != nil {
			return fmt.Errorf("%w: documentId %q", tenant.ErrInvalidTenant, req.DocumentID)
		}
		sr.DocumentID = id
	}
	results, err := s.svc.Search(c.Request().Context(), user, project, sr)
	if err != nil {
		return err
	}
	if results == nil {
		results = []string{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}
