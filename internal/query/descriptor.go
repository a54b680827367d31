package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Kind string

const (
	KindPlain    Kind = "plain"
	KindWildcard Kind = "wildcard"
	KindFunction Kind = "function"
)

type Argument struct {
	Value string
	Type  string
}

// Column is one projected column of the translated SQL.
type Column struct {
	SourceName   string
	Alias        string
	Kind         Kind
	FunctionName string
	Arguments    []Argument
}

// FunctionKey is the attribute name the provider generates for an aggregate
// column without an alias it honours, e.g. "min(shape_Length)".
func (c Column) FunctionKey() string {
	var b strings.Builder
	b.WriteString(c.FunctionName)
	b.WriteByte('(')
	for _, arg := range c.Arguments {
		b.WriteString(arg.Value)
	}
	b.WriteByte(')')
	return b.String()
}

// Descriptor is the column layout of a translated query.
type Descriptor struct {
	Columns []Column
	From    string
}

// Aliases returns alias to source name for plain aliased columns.
func (d Descriptor) Aliases() map[string]string {
	out := map[string]string{}
	for _, column := range d.Columns {
		if column.Kind != KindPlain || column.Alias == "" || column.SourceName == "" {
			continue
		}
		out[column.Alias] = column.SourceName
	}
	return out
}

type wireColumn struct {
	Value     json.RawMessage `json:"value"`
	Alias     string          `json:"alias"`
	Type      string          `json:"type"`
	Arguments []wireArgument  `json:"arguments"`
}

type wireArgument struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type"`
}

type wireDescriptor struct {
	Select []wireColumn    `json:"select"`
	From   json.RawMessage `json:"from"`
}

// ParseDescriptor builds a Descriptor from the translator's structured SQL
// form ("jsonSql"). Function columns without arguments are rejected.
func ParseDescriptor(raw json.RawMessage) (Descriptor, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Descriptor{}, nil
	}
	var wire wireDescriptor
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Descriptor{}, fmt.Errorf("decode query descriptor: %w", err)
	}

	descriptor := Descriptor{From: scalarText(wire.From)}
	for i, item := range wire.Select {
		value := scalarText(item.Value)
		column := Column{Alias: item.Alias}
		switch {
		case item.Type == "wildcard" || value == "*":
			column.Kind = KindWildcard
			column.SourceName = "*"
		case item.Type == "function":
			if len(item.Arguments) == 0 {
				return Descriptor{}, fmt.Errorf("select column %d: function %q has no arguments", i, value)
			}
			column.Kind = KindFunction
			column.FunctionName = value
			for _, arg := range item.Arguments {
				column.Arguments = append(column.Arguments, Argument{Value: scalarText(arg.Value), Type: arg.Type})
			}
		default:
			column.Kind = KindPlain
			column.SourceName = value
		}
		descriptor.Columns = append(descriptor.Columns, column)
	}
	return descriptor, nil
}

func scalarText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	return string(raw)
}
