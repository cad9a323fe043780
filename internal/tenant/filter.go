package tenant

import (
	"github.com/google/uuid"
)

// Payload field names shared by every vector store schema.
const (
	FieldUserID     = "userId"
	FieldProjectID  = "projectId"
	FieldDocumentID = "documentId"
	FieldTitle      = "title"
	FieldText       = "textChunk"
)

// Filter is the store-agnostic predicate for chunk lookups. UserID and
// ProjectID are always applied; DocumentID and Title narrow the match when
// set. Store adapters translate it into their native syntax once per call.
type Filter struct {
	UserID     string
	ProjectID  uuid.UUID
	DocumentID uuid.UUID
	Title      string
}

// Condition is a single equality match on a payload field.
type Condition struct {
	Field string
	Value string
}

// NewFilter returns a project-scoped filter.
func NewFilter(userID string, projectID uuid.UUID) Filter {
	return Filter{UserID: userID, ProjectID: projectID}
}

// WithDocument narrows the filter to one document. uuid.Nil clears it.
func (f Filter) WithDocument(documentID uuid.UUID) Filter {
	f.DocumentID = documentID
	return f
}

// WithTitle narrows the filter to chunks with an exact title.
func (f Filter) WithTitle(title string) Filter {
	f.Title = title
	return f
}

// Validate fails closed when the mandatory scope is absent.
func (f Filter) Validate() error {
	return validateScope(f.UserID, f.ProjectID)
}

// Conditions returns the equality matches in a fixed order: user, project,
// then document and title when present. Callers must Validate first.
func (f Filter) Conditions() []Condition {
	conds := make([]Condition, 0, 4)
	conds = append(conds,
		Condition{Field: FieldUserID, Value: f.UserID},
		Condition{Field: FieldProjectID, Value: f.ProjectID.String()},
	)
	if f.DocumentID != uuid.Nil {
		conds = append(conds, Condition{Field: FieldDocumentID, Value: f.DocumentID.String()})
	}
	if f.Title != "" {
		conds = append(conds, Condition{Field: FieldTitle, Value: f.Title})
	}
	return conds
}
