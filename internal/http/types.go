package http

import (
	"github.com/articler/docindex/internal/budget"
	"github.com/articler/docindex/internal/retrieval"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

// AccountRequest is the request body for PUT /api/v1/accounts.
type AccountRequest struct {
	Tier string `json:"tier"`
}

// AccountResponse describes the caller's account.
type AccountResponse struct {
	UserID  string      `json:"userId"`
	Tier    budget.Tier `json:"tier"`
	Balance int64       `json:"balance"`
}

// AddTextRequest is the request body for POST .../documents/text.
type AddTextRequest struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// AddPDFRequest is the request body for POST .../documents/pdf.
type AddPDFRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// DocumentsResponse lists a project's documents.
type DocumentsResponse struct {
	Documents []retrieval.DocumentHandle `json:"documents"`
}

// SearchRequest is the request body for POST .../search.
type SearchRequest struct {
	Query      string `json:"query"`
	Top        int    `json:"top,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	Title      string `json:"title,omitempty"`
}

// SearchResponse carries the matching chunk texts, most relevant first.
type SearchResponse struct {
	Results []string `json:"results"`
}
