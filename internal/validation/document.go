// Package validation implements the review workspace for machine-extracted
// audit documents: flattening an extraction into addressable display rows,
// tracking reviewer feedback per row, and rebuilding the corrected document.
package validation

import (
	"encoding/json"
	"fmt"
)

// ExtractionDocument is the nested JSON produced by the extraction pipeline.
type ExtractionDocument struct {
	Metadata *OrderedMap `json:"metadata"`
	Parts    []Part      `json:"parts"`
}

type Part struct {
	PartTitle string    `json:"part_title"`
	Sections  []Section `json:"sections"`
}

type Section struct {
	SectionTitle string        `json:"section_title"`
	Content      []ContentItem `json:"content"`
	SubSections  []Subsection  `json:"sub_sections,omitempty"`
}

type Subsection struct {
	SubSectionTitle string        `json:"sub_section_title"`
	Content         []ContentItem `json:"content"`
}

// ContentItem is one unit of section body text. The pipeline emits paragraph
// and table items; anything else is kept verbatim in Extra and rendered as
// JSON.
type ContentItem struct {
	Type  string
	Text  string
	Table string
	Extra *OrderedMap
}

func (c *ContentItem) UnmarshalJSON(data []byte) error {
	om := NewOrderedMap()
	if err := om.UnmarshalJSON(data); err != nil {
		return err
	}
	c.Type = stringField(om, "type")
	c.Text = stringField(om, "text")
	c.Table = stringField(om, "table")
	if c.Type != "paragraph" && c.Type != "table" && c.Text == "" && c.Table == "" {
		c.Extra = om
	}
	return nil
}

func (c ContentItem) MarshalJSON() ([]byte, error) {
	if c.Extra != nil {
		return c.Extra.MarshalJSON()
	}
	out := NewOrderedMap()
	out.Set("type", c.Type)
	if c.Table != "" {
		out.Set("table", c.Table)
	} else {
		out.Set("text", c.Text)
	}
	return out.MarshalJSON()
}

func stringField(om *OrderedMap, key string) string {
	value, ok := om.Get(key)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}

// Clone deep-copies the document, including metadata key order.
func (d *ExtractionDocument) Clone() (*ExtractionDocument, error) {
	if d == nil {
		return nil, nil
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	var out ExtractionDocument
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("clone document: %w", err)
	}
	return &out, nil
}

// DisplayRow is one flattened, independently addressable unit of displayed
// content. Rows carry exactly one content item in this system's usage.
type DisplayRow struct {
	Label   string       `json:"label"`
	Content []RowContent `json:"content"`
}

type RowContent struct {
	Text      string   `json:"text"`
	Value     string   `json:"value"`
	Key       string   `json:"key"`
	IsTable   bool     `json:"isTable,omitempty"`
	TableHTML string   `json:"tableHtml,omitempty"`
	Ref       FieldRef `json:"-"`
}
