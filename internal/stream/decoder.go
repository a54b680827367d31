package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/featurestream/featurestream/internal/query"
)

// Mode selects which part of the provider response becomes rows.
type Mode int

const (
	// ModeAttributes yields features[*].attributes.
	ModeAttributes Mode = iota
	// ModeFeatures yields each features[*] element whole.
	ModeFeatures
	// ModeCount yields the root count value once.
	ModeCount
)

func (m Mode) String() string {
	switch m {
	case ModeFeatures:
		return "features"
	case ModeCount:
		return "count"
	default:
		return "attributes"
	}
}

// SelectMode picks the decode mode for a query. Row-count-only wins over the
// output format.
func SelectMode(rowCountOnly, geoJSON bool) Mode {
	switch {
	case rowCountOnly:
		return ModeCount
	case geoJSON:
		return ModeFeatures
	default:
		return ModeAttributes
	}
}

// ProviderError is an error object the provider embedded in its response body
// instead of results. Error reports Message only; Details may echo request
// parameters and are kept for logging.
type ProviderError struct {
	Code    int
	Message string
	Details []string
}

func (e *ProviderError) Error() string {
	return e.Message
}

type state int

const (
	stateStart state = iota
	stateRoot
	stateFeatures
	stateDone
)

// Decoder pulls rows out of a provider response one at a time. Parts of the
// document outside the selected path are skipped token by token and never
// materialized.
type Decoder struct {
	dec   *json.Decoder
	mode  Mode
	state state
	err   error
}

func NewDecoder(r io.Reader, mode Mode) *Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return &Decoder{dec: dec, mode: mode}
}

// Next returns the next row. It returns io.EOF once the selected part of the
// response is exhausted, and a *ProviderError when the response carries an
// error object. Errors are sticky.
func (d *Decoder) Next() (*query.Row, error) {
	if d.err != nil {
		return nil, d.err
	}
	row, err := d.next()
	if err != nil {
		d.err = err
	}
	return row, err
}

func (d *Decoder) next() (*query.Row, error) {
	for {
		switch d.state {
		case stateStart:
			tok, err := d.dec.Token()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("decode provider response: empty body: %w", io.ErrUnexpectedEOF)
			}
			if err != nil {
				return nil, decodeErr(err)
			}
			if delim, ok := tok.(json.Delim); !ok || delim != '{' {
				return nil, fmt.Errorf("decode provider response: root is %v, want object", tok)
			}
			d.state = stateRoot

		case stateRoot:
			if !d.dec.More() {
				if _, err := d.dec.Token(); err != nil {
					return nil, decodeErr(err)
				}
				d.state = stateDone
				continue
			}
			key, err := d.readKey()
			if err != nil {
				return nil, err
			}
			switch {
			case key == "error":
				return nil, d.readProviderError()
			case d.mode == ModeCount && key == "count":
				var count json.Number
				if err := d.dec.Decode(&count); err != nil {
					return nil, decodeErr(err)
				}
				d.state = stateDone
				row := query.NewRow()
				row.Set("count", count)
				return row, nil
			case d.mode != ModeCount && key == "features":
				tok, err := d.dec.Token()
				if err != nil {
					return nil, decodeErr(err)
				}
				if tok == nil {
					continue
				}
				if delim, ok := tok.(json.Delim); !ok || delim != '[' {
					return nil, fmt.Errorf("decode provider response: features is %v, want array", tok)
				}
				d.state = stateFeatures
			default:
				if err := skipValue(d.dec); err != nil {
					return nil, decodeErr(err)
				}
			}

		case stateFeatures:
			if !d.dec.More() {
				if _, err := d.dec.Token(); err != nil {
					return nil, decodeErr(err)
				}
				d.state = stateRoot
				continue
			}
			var (
				row *query.Row
				err error
			)
			if d.mode == ModeFeatures {
				row, err = d.readFeature()
			} else {
				row, err = d.readAttributes()
			}
			if err != nil {
				return nil, err
			}
			if row != nil {
				return row, nil
			}

		default:
			return nil, io.EOF
		}
	}
}

func (d *Decoder) readKey() (string, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return "", decodeErr(err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("decode provider response: expected key, got %v", tok)
	}
	return key, nil
}

// readFeature decodes one feature, keeping its attributes as an ordered row.
func (d *Decoder) readFeature() (*query.Row, error) {
	open, err := d.openObject()
	if err != nil || !open {
		return nil, err
	}
	feature := query.NewRow()
	for d.dec.More() {
		key, err := d.readKey()
		if err != nil {
			return nil, err
		}
		if key == "attributes" {
			attributes, err := query.DecodeRow(d.dec)
			if err != nil {
				return nil, decodeErr(err)
			}
			if attributes == nil {
				feature.Set(key, nil)
				continue
			}
			feature.Set(key, attributes)
			continue
		}
		var value any
		if err := d.dec.Decode(&value); err != nil {
			return nil, decodeErr(err)
		}
		feature.Set(key, value)
	}
	if _, err := d.dec.Token(); err != nil {
		return nil, decodeErr(err)
	}
	return feature, nil
}

// readAttributes returns the attributes of one feature, or nil when the
// feature has none.
func (d *Decoder) readAttributes() (*query.Row, error) {
	open, err := d.openObject()
	if err != nil || !open {
		return nil, err
	}
	var attributes *query.Row
	for d.dec.More() {
		key, err := d.readKey()
		if err != nil {
			return nil, err
		}
		if key != "attributes" {
			if err := skipValue(d.dec); err != nil {
				return nil, decodeErr(err)
			}
			continue
		}
		attributes, err = query.DecodeRow(d.dec)
		if err != nil {
			return nil, decodeErr(err)
		}
	}
	if _, err := d.dec.Token(); err != nil {
		return nil, decodeErr(err)
	}
	return attributes, nil
}

// openObject consumes the opening brace of an array element. It reports false
// for a null element.
func (d *Decoder) openObject() (bool, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return false, decodeErr(err)
	}
	if tok == nil {
		return false, nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return false, fmt.Errorf("decode provider response: feature is %v, want object", tok)
	}
	return true, nil
}

type wireProviderError struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Details []json.RawMessage `json:"details"`
}

func (d *Decoder) readProviderError() error {
	var wire wireProviderError
	if err := d.dec.Decode(&wire); err != nil {
		return decodeErr(err)
	}
	providerErr := &ProviderError{Code: wire.Code, Message: wire.Message}
	if providerErr.Message == "" {
		providerErr.Message = "provider returned an error"
	}
	for _, detail := range wire.Details {
		var text string
		if err := json.Unmarshal(detail, &text); err != nil {
			text = string(detail)
		}
		if text != "" {
			providerErr.Details = append(providerErr.Details, text)
		}
	}
	return providerErr
}

func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}

func decodeErr(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("decode provider response: %w", err)
}
