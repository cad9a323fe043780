package tenant

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestFilter_Validate(t *testing.T) {
	project := uuid.New()

	assert.NoError(t, NewFilter("u", project).Validate())
	assert.ErrorIs(t, NewFilter("", project).Validate(), ErrMissingTenant)
	assert.ErrorIs(t, NewFilter("u", uuid.Nil).Validate(), ErrMissingTenant)
	assert.ErrorIs(t, Filter{Title: "only a title"}.Validate(), ErrMissingTenant)
}

func TestFilter_Conditions(t *testing.T) {
	project := uuid.New()
	document := uuid.New()

	tests := []struct {
		name   string
		filter Filter
		want   []Condition
	}{
		{
			name:   "project only",
			filter: NewFilter("u", project),
			want: []Condition{
				{Field: FieldUserID, Value: "u"},
				{Field: FieldProjectID, Value: project.String()},
			},
		},
		{
			name:   "document and title",
			filter: NewFilter("u", project).WithDocument(document).WithTitle("Notes"),
			want: []Condition{
				{Field: FieldUserID, Value: "u"},
				{Field: FieldProjectID, Value: project.String()},
				{Field: FieldDocumentID, Value: document.String()},
				{Field: FieldTitle, Value: "Notes"},
			},
		},
		{
			name:   "key filter",
			filter: Key{UserID: "u", ProjectID: project, DocumentID: document}.Filter(),
			want: []Condition{
				{Field: FieldUserID, Value: "u"},
				{Field: FieldProjectID, Value: project.String()},
				{Field: FieldDocumentID, Value: document.String()},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Conditions())
		})
	}
}
