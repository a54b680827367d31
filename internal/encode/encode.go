// Package encode turns rows into output fragments and wraps them in the
// per-format envelope.
package encode

import (
	"fmt"
	"strings"

	"github.com/featurestream/featurestream/internal/query"
)

type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatGeoJSON Format = "geojson"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatGeoJSON:
		return FormatGeoJSON, nil
	}
	return "", fmt.Errorf("unsupported format %q", value)
}

// ContentType is the response media type for the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}

// Extension is the file extension used for downloads.
func (f Format) Extension() string {
	return string(f)
}

// Encoder renders one row as an output fragment. first is true for the first
// row of a stream; encoders use it for separators and headers.
type Encoder interface {
	Encode(row *query.Row, first bool) ([]byte, error)
}

// ColumnReporter is implemented by encoders with a fixed column set.
type ColumnReporter interface {
	// DroppedColumns lists row keys that had no output column.
	DroppedColumns() []string
}

// New returns a fresh encoder. CSV encoders carry header state and must not be
// shared between streams.
func New(format Format) (Encoder, error) {
	switch format {
	case FormatJSON:
		return JSONEncoder{}, nil
	case FormatCSV:
		return &CSVEncoder{}, nil
	case FormatGeoJSON:
		return GeoJSONEncoder{}, nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

// JSONEncoder writes each row as a JSON object, comma separated.
type JSONEncoder struct{}

func (JSONEncoder) Encode(row *query.Row, first bool) ([]byte, error) {
	raw, err := row.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if first {
		return raw, nil
	}
	return append([]byte{','}, raw...), nil
}
