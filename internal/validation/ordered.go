package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OrderedMap is a JSON object that remembers key insertion order. Extraction
// metadata is order-sensitive: rows must come out in the order the pipeline
// wrote the fields, which encoding/json's map type does not preserve.
type OrderedMap struct {
	keys   []string
	values map[string]any
}

func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]any)}
}

func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	return m.keys
}

func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *OrderedMap) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	value, ok := m.values[key]
	return value, ok
}

func (m *OrderedMap) Set(key string, value any) {
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *OrderedMap) Clone() *OrderedMap {
	if m == nil {
		return nil
	}
	out := NewOrderedMap()
	for _, key := range m.keys {
		out.Set(key, cloneValue(m.values[key]))
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case *OrderedMap:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

func (m *OrderedMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	decoded, err := decodeObject(dec)
	if err != nil {
		return err
	}
	*m = *decoded
	return nil
}

func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, err := json.Marshal(m.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeObject consumes an object body after its opening brace, keeping
// nested objects ordered as well.
func decodeObject(dec *json.Decoder) (*OrderedMap, error) {
	out := NewOrderedMap()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out.Set(key, value)
	}
	// closing brace
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeArray(dec *json.Decoder) ([]any, error) {
	out := make([]any, 0)
	for dec.More() {
		value, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		out = append(out, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return tok, nil
	}
}
