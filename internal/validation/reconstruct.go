package validation

import (
	"errors"
)

// ErrNothingToSave is returned when reconstruction has no document or no rows
// to work from. Callers surface it instead of submitting an empty document.
var ErrNothingToSave = errors.New("nothing to save")

// Reconstruct rebuilds a nested document from the current display rows plus
// the original document shape. Only metadata-derived rows are merged back;
// part and section content rows are display-and-flag only and are skipped
// here. Keys the rows never touched survive from the original verbatim.
func Reconstruct(original *ExtractionDocument, rows []DisplayRow) (*ExtractionDocument, error) {
	if original == nil || len(rows) == 0 {
		return nil, ErrNothingToSave
	}

	out, err := original.Clone()
	if err != nil {
		return nil, err
	}
	if out.Metadata == nil {
		out.Metadata = NewOrderedMap()
	}

	for _, row := range rows {
		for _, content := range row.Content {
			if content.Key == "" || isPartKey(content.Key) {
				continue
			}
			mergeMetadataRow(out.Metadata, content)
		}
	}
	return out, nil
}

func mergeMetadataRow(metadata *OrderedMap, content RowContent) {
	ref := content.Ref
	if ref.Kind == RefNone || ref.Kind == RefPartContent {
		ref = refFromKey(metadata, content.Key)
	}

	switch ref.Kind {
	case RefMetadataArrayItem:
		setArrayItem(metadata, ref.Name, ref.Index-1, ref.Property, content.Value)
	case RefMetadataProperty:
		setNestedProperty(metadata, ref.Name, ref.Property, content.Value)
	default:
		setScalar(metadata, ref.Name, content.Value)
	}
}

// refFromKey decodes a composite string key for rows that arrived without a
// structured ref. A key that exists verbatim in the metadata is always
// treated as a direct field, so names that contain underscores (or the
// period-pair fields) do not get misread as composites.
func refFromKey(metadata *OrderedMap, key string) FieldRef {
	if _, ok := metadata.Get(key); ok {
		return metadataScalarRef(key)
	}
	parsed := parseMetadataKey(key)
	switch parsed.kind {
	case RefMetadataArrayItem:
		return metadataArrayItemRef(parsed.name, parsed.index, parsed.property)
	case RefMetadataProperty:
		return metadataPropertyRef(parsed.name, parsed.property)
	default:
		return metadataScalarRef(parsed.name)
	}
}

// setScalar assigns a top-level field. When the row value still renders the
// existing value exactly, the original is kept so unedited numbers and
// structured values do not collapse into their display strings.
func setScalar(metadata *OrderedMap, name, value string) {
	if existing, ok := metadata.Get(name); ok && formatValue(existing) == value {
		return
	}
	metadata.Set(name, value)
}

func setNestedProperty(metadata *OrderedMap, name, property, value string) {
	obj, ok := objectAt(metadata, name)
	if !ok {
		obj = NewOrderedMap()
		metadata.Set(name, obj)
	}
	if existing, ok := obj.Get(property); ok && formatValue(existing) == value {
		return
	}
	obj.Set(property, value)
}

func setArrayItem(metadata *OrderedMap, name string, index int, property, value string) {
	if index < 0 {
		return
	}
	arr, _ := metadata.Get(name)
	items, ok := arr.([]any)
	if !ok {
		items = make([]any, 0, index+1)
	}
	for len(items) <= index {
		items = append(items, NewOrderedMap())
	}
	obj, ok := items[index].(*OrderedMap)
	if !ok {
		obj = NewOrderedMap()
		items[index] = obj
	}
	metadata.Set(name, items)
	if existing, ok := obj.Get(property); ok && formatValue(existing) == value {
		return
	}
	obj.Set(property, value)
}

func objectAt(metadata *OrderedMap, name string) (*OrderedMap, bool) {
	value, ok := metadata.Get(name)
	if !ok {
		return nil, false
	}
	obj, ok := value.(*OrderedMap)
	return obj, ok
}
