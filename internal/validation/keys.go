package validation

import (
	"fmt"
	"strconv"
	"strings"
)

// RefKind classifies where a display row points back into the document.
type RefKind int

const (
	RefNone RefKind = iota
	RefMetadataScalar
	RefMetadataProperty
	RefMetadataArrayItem
	RefPartContent
)

// FieldRef is the structured counterpart of a row's string key. String keys
// remain the wire contract with the SPA, but composite keys are ambiguous
// when field names themselves contain underscores; rows produced by Transform
// carry a FieldRef so reconstruction never has to parse one back out.
type FieldRef struct {
	Kind     RefKind
	Name     string
	Property string
	Index    int // 1-based array element, 0 when absent

	Part       int
	Section    int
	Subsection int // -1 when the row is direct section content
	Content    int // -1 for title rows
}

func metadataScalarRef(name string) FieldRef {
	return FieldRef{Kind: RefMetadataScalar, Name: name}
}

func metadataPropertyRef(name, property string) FieldRef {
	return FieldRef{Kind: RefMetadataProperty, Name: name, Property: property}
}

func metadataArrayItemRef(name string, index int, property string) FieldRef {
	return FieldRef{Kind: RefMetadataArrayItem, Name: name, Index: index, Property: property}
}

func partContentRef(part, section, subsection, content int) FieldRef {
	return FieldRef{Kind: RefPartContent, Part: part, Section: section, Subsection: subsection, Content: content}
}

func partTitleKey(p int) string {
	return fmt.Sprintf("part_%d_title", p)
}

func sectionTitleKey(p, s int) string {
	return fmt.Sprintf("part_%d_section_%d_title", p, s)
}

func sectionContentKey(p, s, c int) string {
	return fmt.Sprintf("part_%d_section_%d_content_%d", p, s, c)
}

func subsectionTitleKey(p, s, sub int) string {
	return fmt.Sprintf("part_%d_section_%d_subsection_%d_title", p, s, sub)
}

func subsectionContentKey(p, s, sub, c int) string {
	return fmt.Sprintf("part_%d_section_%d_subsection_%d_content_%d", p, s, sub, c)
}

func isPartKey(key string) bool {
	return strings.HasPrefix(key, "part_") ||
		strings.Contains(key, "section_") ||
		strings.Contains(key, "subsection_")
}

// parsedKey is the result of decoding a composite metadata key string. Used
// only for rows that arrive without a FieldRef (external callers posting raw
// row payloads).
type parsedKey struct {
	kind     RefKind
	name     string
	property string
	index    int
}

func parseMetadataKey(key string) parsedKey {
	segments := strings.Split(key, "_")
	if len(segments) >= 3 {
		if n, err := strconv.Atoi(segments[len(segments)-2]); err == nil {
			return parsedKey{
				kind:     RefMetadataArrayItem,
				name:     strings.Join(segments[:len(segments)-2], "_"),
				index:    n,
				property: segments[len(segments)-1],
			}
		}
	}
	if len(segments) > 1 {
		return parsedKey{
			kind:     RefMetadataProperty,
			name:     segments[0],
			property: strings.Join(segments[1:], "_"),
		}
	}
	return parsedKey{kind: RefMetadataScalar, name: key}
}
