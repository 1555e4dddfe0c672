package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"proofbox/api/internal/validation"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetFile(ctx context.Context, id string) (FileInfo, error)
	GetFileDocument(ctx context.Context, fileID, version string) (json.RawMessage, error)
}

// FileInfo holds basic uploaded file metadata
type FileInfo struct {
	ID          string
	FileName    string
	State       string
	Department  string
	Year        string
	Validated   bool
	ValidatedBy string
	UpdatedAt   time.Time
}

// Service provides audit file export functionality
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates an export of a file's extraction document in the
// requested format. Version selects the git revision; "latest" or empty
// means the head document.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	fileInfo, err := s.store.GetFile(ctx, req.FileID)
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	raw, err := s.store.GetFileDocument(ctx, req.FileID, req.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	var doc validation.ExtractionDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode document: %v", ErrContentUnavailable, err)
	}

	rows := validation.Transform(&doc)

	data := TemplateData{
		FileName:    fileInfo.FileName,
		State:       fileInfo.State,
		Department:  fileInfo.Department,
		Year:        fileInfo.Year,
		Validated:   fileInfo.Validated,
		ValidatedBy: fileInfo.ValidatedBy,
		GeneratedAt: time.Now(),
		Rows:        templateRows(rows),
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := exportTitle(fileInfo.FileName)

	switch req.Format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

func templateRows(rows []validation.DisplayRow) []TemplateRow {
	out := make([]TemplateRow, 0, len(rows))
	for _, row := range rows {
		for _, content := range row.Content {
			switch {
			case content.IsTable:
				out = append(out, TemplateRow{TableHTML: template.HTML(content.TableHTML)})
			case content.Ref.Kind == validation.RefPartContent && content.Ref.Content < 0:
				// Part, section, and subsection titles render as headings.
				out = append(out, TemplateRow{Label: row.Label, IsHeading: true})
			case content.Ref.Kind == validation.RefPartContent:
				out = append(out, TemplateRow{Text: content.Text})
			default:
				out = append(out, TemplateRow{Label: row.Label, Value: content.Value})
			}
		}
	}
	return out
}

// exportTitle strips the upload extension so export filenames do not
// carry two extensions.
func exportTitle(fileName string) string {
	if idx := strings.LastIndex(fileName, "."); idx > 0 {
		return fileName[:idx]
	}
	return fileName
}
