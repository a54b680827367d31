package encode

import (
	"bytes"
	"errors"

	"github.com/featurestream/featurestream/internal/query"
)

var ErrInlineCSV = errors.New("csv output is only available as a download")

const featureCollectionOpen = `{"type":"FeatureCollection","features":[`

// Meta is the trailer attached to inline responses.
type Meta struct {
	CloneURL any `json:"cloneUrl"`
}

// Envelope is the fixed prefix and suffix around the encoded rows.
//
//	inline json      {"data":[ rows ], "meta": {...} }
//	inline geojson   {"data":[{"type":"FeatureCollection","features":[ rows ]}], "meta": {...} }
//	download json    [ rows ]
//	download geojson {"data":[{"type":"FeatureCollection","features":[ rows ]}]}
//	download csv     rows
type Envelope struct {
	Format   Format
	Download bool
}

func (e Envelope) Validate() error {
	if e.Format == FormatCSV && !e.Download {
		return ErrInlineCSV
	}
	return nil
}

func (e Envelope) Open() []byte {
	switch {
	case e.Format == FormatCSV:
		return nil
	case e.Format == FormatGeoJSON:
		return []byte(`{"data":[` + featureCollectionOpen)
	case e.Download:
		return []byte(`[`)
	default:
		return []byte(`{"data":[`)
	}
}

// Close renders the suffix. meta is only used by inline envelopes.
func (e Envelope) Close(meta Meta) ([]byte, error) {
	switch {
	case e.Format == FormatCSV:
		return nil, nil
	case e.Download && e.Format == FormatGeoJSON:
		return []byte(`]}]}`), nil
	case e.Download:
		return []byte(`]`), nil
	}

	var buf bytes.Buffer
	if e.Format == FormatGeoJSON {
		buf.WriteString(`]}], "meta": `)
	} else {
		buf.WriteString(`], "meta": `)
	}
	if err := query.WriteJSON(&buf, meta); err != nil {
		return nil, err
	}
	buf.WriteString(` }`)
	return buf.Bytes(), nil
}
