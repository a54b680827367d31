package provider

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/featurestream/featurestream/internal/query"
)

// Param is one provider query parameter. Order is kept so the generated URL
// matches the order the parameters were produced in.
type Param struct {
	Key   string
	Value string
}

type Params []Param

func (p Params) Get(key string) (string, bool) {
	for _, param := range p {
		if param.Key == key {
			return param.Value, true
		}
	}
	return "", false
}

// With returns a copy with key set to value, replacing an existing entry in
// place or appending a new one.
func (p Params) With(key, value string) Params {
	out := make(Params, len(p), len(p)+1)
	copy(out, p)
	for i := range out {
		if out[i].Key == key {
			out[i].Value = value
			return out
		}
	}
	return append(out, Param{Key: key, Value: value})
}

func (p Params) Without(key string) Params {
	out := make(Params, 0, len(p))
	for _, param := range p {
		if param.Key != key {
			out = append(out, param)
		}
	}
	return out
}

// Encode renders key=value pairs joined with "&". Values are escaped the way
// browsers escape URI components.
func (p Params) Encode() string {
	var b strings.Builder
	for i, param := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escapeComponent(param.Key))
		b.WriteByte('=')
		b.WriteString(escapeComponent(param.Value))
	}
	return b.String()
}

// ParamsFromRow converts a decoded JSON object into params. Strings are used
// verbatim, other scalars use their JSON text, and objects or arrays are
// re-encoded as JSON. Null values are dropped.
func ParamsFromRow(row *query.Row) (Params, error) {
	if row == nil {
		return nil, nil
	}
	params := make(Params, 0, row.Len())
	for _, key := range row.Keys() {
		value, _ := row.Get(key)
		text, ok, err := paramText(value)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", key, err)
		}
		if !ok {
			continue
		}
		params = append(params, Param{Key: key, Value: text})
	}
	return params, nil
}

func paramText(value any) (string, bool, error) {
	switch v := value.(type) {
	case nil:
		return "", false, nil
	case string:
		return v, true, nil
	case json.Number:
		return v.String(), true, nil
	case bool:
		if v {
			return "true", true, nil
		}
		return "false", true, nil
	default:
		var b strings.Builder
		if err := query.WriteJSON(&b, v); err != nil {
			return "", false, err
		}
		return b.String(), true, nil
	}
}

// escapeComponent leaves A-Z a-z 0-9 - _ . ! ~ * ' ( ) unescaped and
// percent-encodes everything else.
func escapeComponent(s string) string {
	escaped := url.QueryEscape(s)
	escaped = strings.ReplaceAll(escaped, "+", "%20")
	return componentUnescaper.Replace(escaped)
}

var componentUnescaper = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)
