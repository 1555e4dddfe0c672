package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// [Table Content] marks table rows; the actual markup travels in TableHTML.
const tableMarker = "[Table Content]"

// tablePolicy scrubs extraction table markup before it reaches a display row.
// The pipeline emits HTML straight out of document conversion, so script and
// event-handler injection has to be assumed possible.
var tablePolicy = bluemonday.UGCPolicy()

// Transform flattens an extraction document into ordered display rows:
// metadata fields first in document order, then parts depth-first. A nil or
// empty document yields an empty slice, never an error.
func Transform(doc *ExtractionDocument) []DisplayRow {
	rows := make([]DisplayRow, 0)
	if doc == nil {
		return rows
	}

	for _, key := range doc.Metadata.Keys() {
		value, _ := doc.Metadata.Get(key)
		if value == nil {
			continue
		}
		rows = append(rows, metadataRows(key, value)...)
	}

	for p, part := range doc.Parts {
		rows = append(rows, titleRow(part.PartTitle, partTitleKey(p), partContentRef(p, -1, -1, -1)))
		for s, section := range part.Sections {
			rows = append(rows, titleRow(section.SectionTitle, sectionTitleKey(p, s), partContentRef(p, s, -1, -1)))
			for c, item := range section.Content {
				if row, ok := contentRow(item, sectionContentKey(p, s, c), partContentRef(p, s, -1, c)); ok {
					rows = append(rows, row)
				}
			}
			for sub, subsection := range section.SubSections {
				rows = append(rows, titleRow(subsection.SubSectionTitle, subsectionTitleKey(p, s, sub), partContentRef(p, s, sub, -1)))
				for c, item := range subsection.Content {
					if row, ok := contentRow(item, subsectionContentKey(p, s, sub, c), partContentRef(p, s, sub, c)); ok {
						rows = append(rows, row)
					}
				}
			}
		}
	}
	return rows
}

func metadataRows(key string, value any) []DisplayRow {
	switch Classify(value) {
	case KindObjectArray:
		fields := parseComplexObject(value, key, 0)
		rows := make([]DisplayRow, 0, len(fields))
		for _, field := range fields {
			rowKey := fmt.Sprintf("%s_%d_%s", key, field.index, field.property)
			rows = append(rows, valueRow(field.label, field.value, rowKey, metadataArrayItemRef(key, field.index, field.property)))
		}
		return rows
	case KindPlainObject:
		fields := parseComplexObject(value, key, 0)
		rows := make([]DisplayRow, 0, len(fields))
		for _, field := range fields {
			rowKey := key + "_" + field.property
			rows = append(rows, valueRow(field.label, field.value, rowKey, metadataPropertyRef(key, field.property)))
		}
		return rows
	default:
		return []DisplayRow{valueRow(DisplayLabel(key), formatValue(value), key, metadataScalarRef(key))}
	}
}

// parsedField is one flattened property produced by parseComplexObject.
type parsedField struct {
	label    string
	property string
	index    int // 1-based element position, 0 when the input was not an array
	value    string
}

// parseComplexObject flattens one level of nested object or array structure.
// Array input recurses per element with a 1-based position; object input
// emits one field per property; scalars collapse to a single field labeled
// from the base key.
func parseComplexObject(value any, baseKey string, index int) []parsedField {
	switch v := value.(type) {
	case []any:
		fields := make([]parsedField, 0)
		for i, elem := range v {
			fields = append(fields, parseComplexObject(elem, baseKey, i+1)...)
		}
		return fields
	case *OrderedMap:
		fields := make([]parsedField, 0, v.Len())
		for _, property := range v.Keys() {
			propValue, _ := v.Get(property)
			label := DisplayLabel(property)
			if index > 0 {
				label = fmt.Sprintf("%s (%d)", label, index)
			}
			fields = append(fields, parsedField{
				label:    label,
				property: property,
				index:    index,
				value:    formatValue(propValue),
			})
		}
		return fields
	default:
		return []parsedField{{label: DisplayLabel(baseKey), value: formatValue(value)}}
	}
}

// formatValue renders any metadata value as display text. Null-safe: nil
// becomes the empty string.
func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case []any:
		switch Classify(v) {
		case KindScalarArray:
			parts := make([]string, len(v))
			for i, elem := range v {
				parts[i] = formatValue(elem)
			}
			return strings.Join(parts, ", ")
		default:
			// Mixed arrays render as a numbered list, objects stringified.
			parts := make([]string, len(v))
			for i, elem := range v {
				if om, ok := elem.(*OrderedMap); ok {
					raw, err := json.Marshal(om)
					if err != nil {
						raw = []byte("{}")
					}
					parts[i] = fmt.Sprintf("%d. %s", i+1, raw)
				} else {
					parts[i] = fmt.Sprintf("%d. %s", i+1, formatValue(elem))
				}
			}
			return strings.Join(parts, "\n\n")
		}
	case *OrderedMap:
		if isPeriodPair(v) {
			from, _ := v.Get(periodFromKey)
			to, _ := v.Get(periodToKey)
			return formatValue(from) + " - " + formatValue(to)
		}
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return ""
		}
		return string(raw)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func valueRow(label, value, key string, ref FieldRef) DisplayRow {
	return DisplayRow{
		Label: label,
		Content: []RowContent{{
			Text:  value,
			Value: value,
			Key:   key,
			Ref:   ref,
		}},
	}
}

func titleRow(title, key string, ref FieldRef) DisplayRow {
	return DisplayRow{
		Label: title,
		Content: []RowContent{{
			Text:  title,
			Value: title,
			Key:   key,
			Ref:   ref,
		}},
	}
}

// contentRow renders one section or subsection content item. Blank paragraph
// items produce no row.
func contentRow(item ContentItem, key string, ref FieldRef) (DisplayRow, bool) {
	if item.Table != "" || item.Type == "table" {
		return DisplayRow{
			Label: tableMarker,
			Content: []RowContent{{
				Text:      tableMarker,
				Value:     tableMarker,
				Key:       key,
				IsTable:   true,
				TableHTML: tablePolicy.Sanitize(item.Table),
				Ref:       ref,
			}},
		}, true
	}

	text := item.Text
	if item.Extra != nil {
		raw, err := json.MarshalIndent(item.Extra, "", "  ")
		if err == nil {
			text = string(raw)
		}
	}
	if strings.TrimSpace(text) == "" {
		return DisplayRow{}, false
	}
	return DisplayRow{
		Label: text,
		Content: []RowContent{{
			Text:  text,
			Value: text,
			Key:   key,
			Ref:   ref,
		}},
	}, true
}
