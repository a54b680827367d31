package encode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/featurestream/featurestream/internal/query"
)

// CSVEncoder writes a header line derived from the first row's keys, then one
// line per row in header column order. Header names and string values are
// always quoted; numbers and booleans are written bare and null is empty.
// Lines end with "\n".
//
// The header is fixed once written. Keys that only appear in later rows have
// no column and their values are not written; DroppedColumns lists them.
type CSVEncoder struct {
	header []string
	// seen holds header columns (true) and dropped keys (false).
	seen    map[string]bool
	dropped []string
}

func (e *CSVEncoder) Encode(row *query.Row, first bool) ([]byte, error) {
	var buf bytes.Buffer
	if first || e.header == nil {
		e.header = row.Keys()
		e.seen = make(map[string]bool, len(e.header))
		e.dropped = nil
		for i, name := range e.header {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeQuoted(&buf, name)
			e.seen[name] = true
		}
		buf.WriteByte('\n')
	} else {
		for _, name := range row.Keys() {
			if _, ok := e.seen[name]; !ok {
				e.seen[name] = false
				e.dropped = append(e.dropped, name)
			}
		}
	}
	for i, name := range e.header {
		if i > 0 {
			buf.WriteByte(',')
		}
		value, _ := row.Get(name)
		if err := writeCSVValue(&buf, value); err != nil {
			return nil, fmt.Errorf("encode csv column %q: %w", name, err)
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// DroppedColumns returns the keys, in first-seen order, that rows carried but
// the header had no column for.
func (e *CSVEncoder) DroppedColumns() []string {
	return append([]string(nil), e.dropped...)
}

func writeCSVValue(buf *bytes.Buffer, value any) error {
	switch v := value.(type) {
	case nil:
	case string:
		writeQuoted(buf, v)
	case json.Number:
		buf.WriteString(v.String())
	case bool:
		buf.WriteString(strconv.FormatBool(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	case int:
		buf.WriteString(strconv.Itoa(v))
	case int64:
		buf.WriteString(strconv.FormatInt(v, 10))
	default:
		var nested bytes.Buffer
		if err := query.WriteJSON(&nested, v); err != nil {
			return err
		}
		writeQuoted(buf, nested.String())
	}
	return nil
}

func writeQuoted(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	buf.WriteString(strings.ReplaceAll(s, `"`, `""`))
	buf.WriteByte('"')
}
