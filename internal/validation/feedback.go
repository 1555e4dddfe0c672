package validation

import (
	"strings"
	"sync"
	"time"
)

const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"

	StatusNeedsReview = "needs_review"
)

// The four reasons a reviewer can flag a field.
var allowedValidationTypes = map[string]struct{}{
	"missing":       {},
	"incorrect":     {},
	"extra":         {},
	"misclassified": {},
}

func IsValidationType(value string) bool {
	_, ok := allowedValidationTypes[value]
	return ok
}

// FeedbackRecord is the reviewer's annotation for one display row. A row has
// at most one record at a time; the latest action overwrites.
type FeedbackRecord struct {
	Type                 string     `json:"type"`
	Timestamp            time.Time  `json:"timestamp"`
	ValidationType       string     `json:"validationType,omitempty"`
	Comments             string     `json:"comments,omitempty"`
	Status               string     `json:"status,omitempty"`
	OriginalValue        string     `json:"originalValue,omitempty"`
	ReplacedWithComments bool       `json:"replacedWithComments,omitempty"`
	Edited               bool       `json:"edited,omitempty"`
	EditTimestamp        *time.Time `json:"editTimestamp,omitempty"`
	NewValue             string     `json:"newValue,omitempty"`
}

// Workspace owns one reviewer session over one document: the flattened rows,
// the per-row feedback records, and the transient form state. At most one
// inline validation form and one edit form are open at a time; opening a new
// one closes any other.
//
// Every transition is a guarded mutation: unknown keys and unmet
// preconditions are no-ops, never errors.
type Workspace struct {
	mu       sync.Mutex
	original *ExtractionDocument
	rows     []DisplayRow
	rowIndex map[string]int
	feedback map[string]*FeedbackRecord

	openForm    string
	pendingType string
	openEdit    string
	pendingEdit string
}

// NewWorkspace transforms the document and wraps the result in a workspace.
// A nil document yields a workspace with no rows; all operations on it are
// no-ops.
func NewWorkspace(doc *ExtractionDocument) *Workspace {
	rows := Transform(doc)
	index := make(map[string]int, len(rows))
	for i, row := range rows {
		for _, content := range row.Content {
			index[content.Key] = i
		}
	}
	return &Workspace{
		original: doc,
		rows:     rows,
		rowIndex: index,
		feedback: make(map[string]*FeedbackRecord),
	}
}

// Rows returns a copy of the current display rows.
func (w *Workspace) Rows() []DisplayRow {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]DisplayRow, len(w.rows))
	for i, row := range w.rows {
		out[i] = row
		out[i].Content = append([]RowContent(nil), row.Content...)
	}
	return out
}

// Feedback returns a copy of the current per-key feedback records.
func (w *Workspace) Feedback() map[string]FeedbackRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]FeedbackRecord, len(w.feedback))
	for key, record := range w.feedback {
		out[key] = *record
	}
	return out
}

// Record returns the feedback record for one row, if any.
func (w *Workspace) Record(key string) (FeedbackRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.feedback[key]
	if !ok {
		return FeedbackRecord{}, false
	}
	return *record, true
}

// OpenValidationKey reports which row, if any, has its validation form open.
func (w *Workspace) OpenValidationKey() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openForm
}

// OpenEditKey reports which row, if any, is in edit mode.
func (w *Workspace) OpenEditKey() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openEdit
}

// ThumbsUp marks a row approved and closes any validation form open on it.
func (w *Workspace) ThumbsUp(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rowIndex[key]; !ok {
		return
	}
	w.feedback[key] = &FeedbackRecord{Type: FeedbackPositive, Timestamp: time.Now()}
	if w.openForm == key {
		w.openForm = ""
		w.pendingType = ""
	}
}

// ThumbsDown opens the inline validation form for a row. The feedback record
// is not written until SubmitValidation.
func (w *Workspace) ThumbsDown(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.rowIndex[key]; !ok {
		return
	}
	w.openForm = key
	w.pendingType = ""
	w.openEdit = ""
	w.pendingEdit = ""
}

// SelectValidationType stages the flag reason for the currently open form.
func (w *Workspace) SelectValidationType(validationType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openForm == "" {
		return
	}
	if !IsValidationType(validationType) {
		return
	}
	w.pendingType = validationType
}

// PendingValidationType returns the staged flag reason, if any.
func (w *Workspace) PendingValidationType() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pendingType
}

// SubmitValidation flags a row. Both a validation type and a non-blank
// comment are required; the client disables submission without them, but the
// engine guards again here. The comment replaces the row's displayed value.
func (w *Workspace) SubmitValidation(key, validationType, comment string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	index, ok := w.rowIndex[key]
	if !ok {
		return
	}
	if !IsValidationType(validationType) {
		return
	}
	if strings.TrimSpace(comment) == "" {
		return
	}

	originalValue := comment
	if prior, ok := w.feedback[key]; ok && prior.OriginalValue != "" {
		originalValue = prior.OriginalValue
	}

	w.setRowValue(index, key, comment)
	w.feedback[key] = &FeedbackRecord{
		Type:                 FeedbackNegative,
		ValidationType:       validationType,
		Comments:             comment,
		Timestamp:            time.Now(),
		Status:               StatusNeedsReview,
		OriginalValue:        originalValue,
		ReplacedWithComments: true,
	}
	w.openForm = ""
	w.pendingType = ""
}

// CloseValidation discards the pending flag reason and closes the form.
func (w *Workspace) CloseValidation(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openForm != key {
		return
	}
	w.openForm = ""
	w.pendingType = ""
}

// BeginEdit enters edit mode for a flagged row. Only rows with a negative
// feedback record are editable; the first edit snapshots the current value.
func (w *Workspace) BeginEdit(key, currentValue string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	record, ok := w.feedback[key]
	if !ok || record.Type != FeedbackNegative {
		return
	}
	w.openEdit = key
	w.pendingEdit = currentValue
	w.openForm = ""
	w.pendingType = ""
	if record.OriginalValue == "" {
		record.OriginalValue = currentValue
	}
}

// SaveEdit overwrites the row value with the edited text and stamps the
// feedback record. Blank values are rejected.
func (w *Workspace) SaveEdit(key, newValue string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openEdit != key {
		return
	}
	if strings.TrimSpace(newValue) == "" {
		return
	}
	index, ok := w.rowIndex[key]
	if !ok {
		return
	}
	record, ok := w.feedback[key]
	if !ok {
		return
	}

	w.setRowValue(index, key, newValue)
	now := time.Now()
	record.Edited = true
	record.EditTimestamp = &now
	record.NewValue = newValue
	w.openEdit = ""
	w.pendingEdit = ""
}

// CancelEdit leaves edit mode without mutating anything.
func (w *Workspace) CancelEdit(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.openEdit != key {
		return
	}
	w.openEdit = ""
	w.pendingEdit = ""
}

// Reconstruct merges the current rows back over the original document.
func (w *Workspace) Reconstruct() (*ExtractionDocument, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Reconstruct(w.original, w.rows)
}

// Original returns the document the workspace was opened on.
func (w *Workspace) Original() *ExtractionDocument {
	return w.original
}

func (w *Workspace) setRowValue(index int, key, value string) {
	for i := range w.rows[index].Content {
		if w.rows[index].Content[i].Key == key {
			w.rows[index].Content[i].Text = value
			w.rows[index].Content[i].Value = value
		}
	}
}
