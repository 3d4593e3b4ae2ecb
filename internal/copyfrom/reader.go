// Package copyfrom reads import sources as records for the index writer.
// Each record is [raw document, source uri, line number]; CSV lines are
// converted to JSON documents on the way.
package copyfrom

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arkilian/bulkindex/internal/decoder"
	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/internal/observability"
	"github.com/arkilian/bulkindex/internal/storage"
	"github.com/arkilian/bulkindex/pkg/types"
)

// Record columns.
const (
	ColRaw  = 0
	ColURI  = 1
	ColLine = 2
)

// Format is the encoding of a source.
type Format string

const (
	// FormatAuto picks csv for ".csv" files and json otherwise.
	FormatAuto Format = ""
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// Config configures a Reader.
type Config struct {
	Format Format

	// FieldCountPolicy applies to CSV sources.
	FieldCountPolicy decoder.FieldCountPolicy

	// MaxLineBytes bounds a single line (default: decoder.DefaultMaxLineBytes).
	MaxLineBytes int

	// ListConcurrency bounds concurrent pattern expansion (default: 4).
	ListConcurrency int

	// FailFast returns the first source error from Next instead of
	// recording it and moving on to the next source.
	FailFast bool

	Logger *zap.Logger
}

// SourceError is a failure that aborted one source.
type SourceError struct {
	URI  string
	Line int
	Err  error
}

func (e SourceError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %v", e.URI, e.Line, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.URI, e.Err)
}

func (e SourceError) Unwrap() error {
	return e.Err
}

// Reader iterates the records of several sources in order. It implements
// types.RowIterator and is not safe for concurrent use.
type Reader struct {
	opener  *storage.Opener
	cfg     Config
	logger  *zap.Logger
	sources []storage.Location

	idx     int
	current *sourceReader
	errs    []SourceError
	done    bool
}

var _ types.RowIterator = (*Reader)(nil)

// NewReader expands uris, which may hold glob patterns, and returns a
// reader over every matching source. Expansion runs concurrently; source
// order follows uri order and then listing order. A pattern matching
// nothing is not an error.
func NewReader(ctx context.Context, opener *storage.Opener, uris []string, cfg Config) (*Reader, error) {
	if len(uris) == 0 {
		return nil, fmt.Errorf("copyfrom: at least one uri is required")
	}
	if cfg.ListConcurrency <= 0 {
		cfg.ListConcurrency = 4
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = decoder.DefaultMaxLineBytes
	}

	locs := make([]storage.Location, len(uris))
	for i, uri := range uris {
		loc, err := storage.ParseURI(uri)
		if err != nil {
			return nil, err
		}
		locs[i] = loc
	}

	expanded := make([][]storage.Location, len(locs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ListConcurrency)
	for i, loc := range locs {
		i, loc := i, loc
		g.Go(func() error {
			matches, err := opener.Expand(gctx, loc)
			if err != nil {
				return fmt.Errorf("copyfrom: failed to expand %s: %w", loc, err)
			}
			expanded[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[storage.Location]struct{})
	var sources []storage.Location
	for _, matches := range expanded {
		for _, loc := range matches {
			if _, dup := seen[loc]; dup {
				continue
			}
			seen[loc] = struct{}{}
			sources = append(sources, loc)
		}
	}

	logger := observability.OrNop(cfg.Logger)
	logger.Debug("copy sources resolved", zap.Strings("uris", uris), zap.Int("sources", len(sources)))

	return &Reader{
		opener:  opener,
		cfg:     cfg,
		logger:  logger,
		sources: sources,
	}, nil
}

// Sources returns the resolved source locations.
func (r *Reader) Sources() []storage.Location {
	return r.sources
}

// Errors returns the errors of aborted sources, in source order.
func (r *Reader) Errors() []SourceError {
	return r.errs
}

// Next returns the next record across all sources.
func (r *Reader) Next(ctx context.Context) (types.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.done {
			return nil, io.EOF
		}

		if r.current == nil {
			if r.idx >= len(r.sources) {
				r.done = true
				return nil, io.EOF
			}
			loc := r.sources[r.idx]
			r.idx++

			src, err := r.open(ctx, loc)
			if err != nil {
				if ferr := r.sourceFailed(loc, 0, err); ferr != nil {
					return nil, ferr
				}
				continue
			}
			r.current = src
		}

		rec, err := r.current.next(ctx)
		if err == nil {
			return rec, nil
		}

		loc, line := r.current.loc, r.current.line()
		r.current.close()
		r.current = nil
		if err == io.EOF {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if ferr := r.sourceFailed(loc, line, err); ferr != nil {
			return nil, ferr
		}
	}
}

// sourceFailed records a source error. Under FailFast it returns the error
// and ends iteration.
func (r *Reader) sourceFailed(loc storage.Location, line int, err error) error {
	se := SourceError{URI: loc.String(), Line: line, Err: err}
	r.errs = append(r.errs, se)
	r.logger.Warn("copy source aborted", zap.String("uri", se.URI), zap.Int("line", line), zap.Error(err))
	if r.cfg.FailFast {
		r.done = true
		return se
	}
	return nil
}

// Close closes the current source.
func (r *Reader) Close() error {
	r.done = true
	if r.current != nil {
		err := r.current.close()
		r.current = nil
		return err
	}
	return nil
}

func (r *Reader) open(ctx context.Context, loc storage.Location) (*sourceReader, error) {
	rc, err := r.opener.Open(ctx, loc)
	if err != nil {
		return nil, err
	}

	format := r.cfg.Format
	if format == FormatAuto {
		format = FormatJSON
		if strings.EqualFold(path.Ext(loc.Path), ".csv") {
			format = FormatCSV
		}
	}

	sr := &sourceReader{loc: loc, uri: loc.String(), body: rc}
	switch format {
	case FormatCSV:
		sr.csv = decoder.NewCSVReader(rc, r.cfg.FieldCountPolicy, r.cfg.MaxLineBytes)
	case FormatJSON:
		sc := bufio.NewScanner(rc)
		sc.Buffer(make([]byte, 0, 64*1024), r.cfg.MaxLineBytes)
		sr.json = sc
	default:
		rc.Close()
		return nil, fmt.Errorf("copyfrom: unsupported format %q", format)
	}
	return sr, nil
}

// sourceReader reads one open source.
type sourceReader struct {
	loc  storage.Location
	uri  string
	body io.ReadCloser

	csv      *decoder.CSVReader
	json     *bufio.Scanner
	jsonLine int
}

func (s *sourceReader) line() int {
	if s.csv != nil {
		return s.csv.Line()
	}
	return s.jsonLine
}

func (s *sourceReader) next(ctx context.Context) (types.Record, error) {
	if s.csv != nil {
		rec, err := s.csv.Next(ctx)
		if err != nil {
			return nil, err
		}
		return types.Record{rec[0], s.uri, int64(s.csv.Line())}, nil
	}

	for s.json.Scan() {
		s.jsonLine++
		line := bytes.TrimSpace(s.json.Bytes())
		if len(line) == 0 {
			continue
		}
		if line[0] != '{' || !json.Valid(line) {
			return nil, bulkerr.NewMalformedRowError("line is not a JSON object").
				WithDetails(map[string]interface{}{"line": s.jsonLine})
		}
		doc := make([]byte, len(line))
		copy(doc, line)
		return types.Record{doc, s.uri, int64(s.jsonLine)}, nil
	}
	if err := s.json.Err(); err != nil {
		return nil, bulkerr.NewMalformedRowError(err.Error())
	}
	return nil, io.EOF
}

func (s *sourceReader) close() error {
	return s.body.Close()
}
