package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Row is one provider record. Keys keep the order in which they were first set,
// which is the order the provider emitted them.
type Row struct {
	keys   []string
	values map[string]any
}

func NewRow() *Row {
	return &Row{values: map[string]any{}}
}

func (r *Row) Len() int {
	return len(r.keys)
}

func (r *Row) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

func (r *Row) Get(key string) (any, bool) {
	value, ok := r.values[key]
	return value, ok
}

func (r *Row) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Set stores value under key. A new key is appended after the existing ones;
// an existing key keeps its position.
func (r *Row) Set(key string, value any) {
	if r.values == nil {
		r.values = map[string]any{}
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

func (r *Row) Delete(key string) bool {
	if _, ok := r.values[key]; !ok {
		return false
	}
	delete(r.values, key)
	for i, candidate := range r.keys {
		if candidate == key {
			r.keys = append(r.keys[:i], r.keys[i+1:]...)
			break
		}
	}
	return true
}

func (r *Row) Clone() *Row {
	clone := &Row{
		keys:   make([]string, len(r.keys)),
		values: make(map[string]any, len(r.values)),
	}
	copy(clone.keys, r.keys)
	for key, value := range r.values {
		if nested, ok := value.(*Row); ok {
			value = nested.Clone()
		}
		clone.values[key] = value
	}
	return clone
}

func (r *Row) MarshalJSON() ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(&buf, key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONValue(&buf, r.values[key]); err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (r *Row) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	decoded, err := DecodeRow(dec)
	if err != nil {
		return err
	}
	if decoded == nil {
		decoded = NewRow()
	}
	*r = *decoded
	return nil
}

// DecodeRow reads the next JSON value from dec as an ordered Row. It returns a
// nil Row for JSON null. Nested objects are decoded as plain maps.
func DecodeRow(dec *json.Decoder) (*Row, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	return DecodeRowBody(dec)
}

// DecodeRowBody reads object members up to and including the closing brace.
// The opening brace must already have been consumed.
func DecodeRowBody(dec *json.Decoder) (*Row, error) {
	row := NewRow()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("decode field %q: %w", key, err)
		}
		row.Set(key, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return row, nil
}

// WriteJSON encodes v the way row fields are encoded: no HTML escaping and no
// trailing newline.
func WriteJSON(w io.Writer, v any) error {
	var buf bytes.Buffer
	if err := writeJSONValue(&buf, v); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func writeJSONValue(buf *bytes.Buffer, v any) error {
	if row, ok := v.(*Row); ok {
		raw, err := row.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(raw)
		return nil
	}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode always terminates with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}
