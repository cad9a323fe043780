package retrieval

import (
	"fmt"

	"github.com/google/uuid"
)

// DocumentType is the source format of a document.
type DocumentType int

const (
	DocumentText DocumentType = iota
	DocumentPDF
)

func (t DocumentType) String() string {
	switch t {
	case DocumentText:
		return "text"
	case DocumentPDF:
		return "pdf"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t DocumentType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *DocumentType) UnmarshalText(b []byte) error {
	parsed, err := ParseDocumentType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseDocumentType parses "text" or "pdf".
func ParseDocumentType(s string) (DocumentType, error) {
	switch s {
	case "text":
		return DocumentText, nil
	case "pdf":
		return DocumentPDF, nil
	default:
		return 0, fmt.Errorf("unknown document type %q", s)
	}
}

// DocumentHandle identifies a stored document.
type DocumentHandle struct {
	Type  DocumentType `json:"type"`
	ID    uuid.UUID    `json:"id"`
	Title string       `json:"title"`
}
