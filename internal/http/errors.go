package http

import (
	"errors"
	"net/http"

	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/ingest"
	"github.com/articler/docindex/internal/pdftext"
	"github.com/articler/docindex/internal/retrieval"
	"github.com/articler/docindex/internal/tenant"
	"github.com/labstack/echo/v4"
)

// statusFor maps a service error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrEmptyInput),
		errors.Is(err, tenant.ErrMissingTenant),
		errors.Is(err, tenant.ErrInvalidTenant),
		errors.Is(err, tenant.ErrMissingDocument),
		errors.Is(err, budget.ErrInvalidOperation),
		errors.Is(err, pdftext.ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, retrieval.ErrNotFound),
		errors.Is(err, budget.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, pdftext.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, pdftext.ErrInvalidPDF),
		errors.Is(err, pdftext.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrPDFUnavailable):
		return http.StatusNotImplemented
	case errors.Is(err, retrieval.ErrProviderMismatch),
		errors.Is(err, retrieval.ErrStoreUnavailable),
		errors.Is(err, retrieval.ErrEmbeddingFailed),
		errors.Is(err, pdftext.ErrDownloadFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders every error as an ErrorResponse. Service errors are
// mapped with statusFor; 5xx messages are not echoed to the caller.
func errorHandler(e *echo.Echo) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := statusFor(err)
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				msg = m
			} else {
				msg = http.StatusText(code)
			}
		}
		if code >= http.StatusInternalServerError && he == nil {
			msg = http.StatusText(code)
		}

		resp := ErrorResponse{Error: msg, RequestID: c.Response().Header().Get(echo.HeaderXRequestID)}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, resp)
		}
		if werr != nil {
			e.Logger.Error(werr)
		}
	}
}
