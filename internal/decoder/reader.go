package decoder

import (
	"bufio"
	"context"
	"io"
	"strings"

	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/pkg/types"
)

// DefaultMaxLineBytes is the longest line a Reader accepts.
const DefaultMaxLineBytes = 4 * 1024 * 1024

// CSVReader streams a CSV source as records holding one JSON document each.
// The first non-blank line is the header; blank lines are skipped.
type CSVReader struct {
	scanner *bufio.Scanner
	parser  *LineParser
	line    int
	err     error
}

// NewCSVReader creates a reader over r. maxLineBytes <= 0 uses the default.
func NewCSVReader(r io.Reader, policy FieldCountPolicy, maxLineBytes int) *CSVReader {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &CSVReader{
		scanner: sc,
		parser:  NewLineParser(policy),
	}
}

// Line returns the 1-based number of the last line read.
func (r *CSVReader) Line() int {
	return r.line
}

// Header returns the parsed header, or nil before the first Next.
func (r *CSVReader) Header() Header {
	return r.parser.Header()
}

// Next returns the next data line as a single-column record holding its
// JSON document. Decoder errors are sticky: once one is returned, every
// later call returns it again.
func (r *CSVReader) Next(ctx context.Context) (types.Record, error) {
	if r.err != nil {
		return nil, r.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for r.scanner.Scan() {
		r.line++
		text := r.scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}

		if r.parser.Header() == nil {
			if _, err := r.parser.ParseHeader(text); err != nil {
				r.err = withLine(err, r.line)
				return nil, r.err
			}
			continue
		}

		doc, err := r.parser.Parse(text)
		if err != nil {
			r.err = withLine(err, r.line)
			return nil, r.err
		}
		return types.Record{doc}, nil
	}

	if err := r.scanner.Err(); err != nil {
		r.err = bulkerr.NewMalformedRowError(err.Error())
		return nil, r.err
	}
	if r.parser.Header() == nil {
		r.err = bulkerr.NewMalformedHeaderError("header is empty")
		return nil, r.err
	}
	r.err = io.EOF
	return nil, io.EOF
}

// Close implements types.RowIterator. The underlying reader is owned by
// the caller.
func (r *CSVReader) Close() error {
	return nil
}

func withLine(err error, line int) error {
	if be, ok := err.(*bulkerr.BulkError); ok {
		details := map[string]interface{}{"line": line}
		for k, v := range be.Details {
			details[k] = v
		}
		return be.WithDetails(details)
	}
	return err
}
