// Package decoder turns delimited text lines into keyed JSON documents.
package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	bulkerr "github.com/arkilian/bulkindex/internal/errors"
)

// FieldCountPolicy decides what happens to rows with more values than the
// header has columns.
type FieldCountPolicy string

const (
	// FieldCountStrict rejects over-long rows with a field count mismatch.
	FieldCountStrict FieldCountPolicy = "strict"

	// FieldCountTruncate drops values beyond the last header column.
	FieldCountTruncate FieldCountPolicy = "truncate"
)

// Header is the ordered list of column names of a CSV source.
type Header []string

// FieldSet maps column names to values in header order.
type FieldSet struct {
	keys   []string
	values []string
}

// Len returns the number of fields.
func (fs FieldSet) Len() int {
	return len(fs.keys)
}

// Keys returns the column names in header order.
func (fs FieldSet) Keys() []string {
	return fs.keys
}

// Get returns the value for a column.
func (fs FieldSet) Get(key string) (string, bool) {
	for i, k := range fs.keys {
		if k == key {
			return fs.values[i], true
		}
	}
	return "", false
}

// Map returns the field set as an unordered map.
func (fs FieldSet) Map() map[string]string {
	m := make(map[string]string, len(fs.keys))
	for i, k := range fs.keys {
		m[k] = fs.values[i]
	}
	return m
}

// MarshalJSON encodes the field set as a JSON object whose keys follow
// header order.
func (fs FieldSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range fs.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(fs.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// LineParser parses a header line once and then decodes data lines against it.
// A LineParser is not safe for concurrent use.
type LineParser struct {
	policy FieldCountPolicy
	header Header
}

// NewLineParser creates a parser with the given field count policy.
// An empty policy means strict.
func NewLineParser(policy FieldCountPolicy) *LineParser {
	if policy == "" {
		policy = FieldCountStrict
	}
	return &LineParser{policy: policy}
}

// Header returns the stored header, or nil before ParseHeader succeeded.
func (p *LineParser) Header() Header {
	return p.header
}

// ParseHeader parses and validates a header line and stores it for Parse.
func (p *LineParser) ParseHeader(line string) (Header, error) {
	header, err := parseHeader(line)
	if err != nil {
		return nil, err
	}
	p.header = header
	return header, nil
}

// Parse decodes a data line against the stored header and returns the JSON
// document.
func (p *LineParser) Parse(line string) ([]byte, error) {
	fs, err := p.ParseFields(line)
	if err != nil {
		return nil, err
	}
	return fs.MarshalJSON()
}

// ParseFields decodes a data line against the stored header.
// Missing trailing values become empty strings.
func (p *LineParser) ParseFields(line string) (FieldSet, error) {
	if p.header == nil {
		return FieldSet{}, bulkerr.NewMalformedHeaderError("header has not been parsed")
	}

	values, err := splitLine(line)
	if err != nil {
		return FieldSet{}, bulkerr.NewMalformedRowError(err.Error())
	}

	if len(values) > len(p.header) {
		if p.policy != FieldCountTruncate {
			return FieldSet{}, bulkerr.NewFieldCountMismatchError(len(p.header), len(values))
		}
		values = values[:len(p.header)]
	}

	fs := FieldSet{
		keys:   p.header,
		values: make([]string, len(p.header)),
	}
	copy(fs.values, values)
	return fs, nil
}

func parseHeader(line string) (Header, error) {
	if strings.TrimSpace(line) == "" {
		return nil, bulkerr.NewMalformedHeaderError("header is empty")
	}

	names, err := splitLine(line)
	if err != nil {
		return nil, bulkerr.NewMalformedHeaderError(err.Error())
	}

	seen := make(map[string]struct{}, len(names))
	for i, name := range names {
		if name == "" {
			return nil, bulkerr.NewMalformedHeaderError(fmt.Sprintf("column %d has an empty name", i+1))
		}
		if _, dup := seen[name]; dup {
			return nil, bulkerr.NewMalformedHeaderError(fmt.Sprintf("duplicate column name %q", name)).
				WithDetails(map[string]interface{}{"column": name})
		}
		seen[name] = struct{}{}
	}
	return Header(names), nil
}

// splitLine splits one line on unquoted commas. Whitespace around a field
// is trimmed. A field starting with a double quote runs until the matching
// closing quote; commas inside are literal and "" is an escaped quote.
// Only whitespace may follow the closing quote.
func splitLine(line string) ([]string, error) {
	line = strings.TrimRight(line, "\r\n")

	var fields []string
	var cur strings.Builder
	i := 0
	for {
		// skip leading whitespace of the field
		for i < len(line) && isSpace(line[i]) {
			i++
		}

		cur.Reset()
		if i < len(line) && line[i] == '"' {
			i++
			closed := false
			for i < len(line) {
				c := line[i]
				if c == '"' {
					if i+1 < len(line) && line[i+1] == '"' {
						cur.WriteByte('"')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				cur.WriteByte(c)
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated quoted field %d", len(fields)+1)
			}
			rest := i
			for i < len(line) && line[i] != ',' {
				i++
			}
			if strings.TrimSpace(line[rest:i]) != "" {
				return nil, fmt.Errorf("unexpected text after closing quote in field %d", len(fields)+1)
			}
			fields = append(fields, cur.String())
		} else {
			start := i
			for i < len(line) && line[i] != ',' {
				i++
			}
			fields = append(fields, strings.TrimSpace(line[start:i]))
		}

		if i >= len(line) {
			return fields, nil
		}
		i++ // comma
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
