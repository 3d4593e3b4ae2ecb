// Package expression evaluates simple value expressions against records.
package expression

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/pkg/types"
)

// Expression produces a value from a record. A nil value is SQL NULL.
// Implementations must be safe for concurrent use and free of side effects.
type Expression interface {
	Evaluate(rec types.Record) (any, error)
}

// Literal always evaluates to Value.
type Literal struct {
	Value any
}

// Evaluate implements Expression.
func (l Literal) Evaluate(types.Record) (any, error) {
	return l.Value, nil
}

func (l Literal) String() string {
	return fmt.Sprintf("%v", l.Value)
}

// Column evaluates to the record value at Index.
type Column struct {
	Index int
	Name  string
}

// Evaluate implements Expression.
func (c Column) Evaluate(rec types.Record) (any, error) {
	if c.Index < 0 || c.Index >= len(rec) {
		return nil, bulkerr.NewInvalidValueError(
			fmt.Sprintf("column %s out of range for record of %d values", c, len(rec)), nil)
	}
	if d, ok := rec[c.Index].(*Document); ok {
		return d.Raw, nil
	}
	return rec[c.Index], nil
}

func (c Column) String() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("$%d", c.Index)
}

// SourceField extracts a value from a JSON document held in column Index.
// Path walks nested objects. A missing key evaluates to NULL. Numbers
// evaluate to json.Number so integers keep every digit.
type SourceField struct {
	Index int
	Path  []string
}

// Field returns a SourceField for a dotted path such as "address.city".
func Field(index int, path string) SourceField {
	return SourceField{Index: index, Path: strings.Split(path, ".")}
}

// Evaluate implements Expression.
func (f SourceField) Evaluate(rec types.Record) (any, error) {
	if f.Index < 0 || f.Index >= len(rec) {
		return nil, bulkerr.NewInvalidValueError(
			fmt.Sprintf("column %s out of range for record of %d values", f, len(rec)), nil)
	}

	var doc map[string]any
	var err error
	switch v := rec[f.Index].(type) {
	case nil:
		return nil, nil
	case *Document:
		doc, err = v.Fields()
	case map[string]any:
		doc = v
	case []byte:
		doc, err = decodeObject(v)
	case string:
		doc, err = decodeObject([]byte(v))
	default:
		return nil, bulkerr.NewInvalidValueError(fmt.Sprintf("unsupported source type %T", v), nil)
	}
	if err != nil {
		return nil, err
	}

	var cur any = doc
	for _, key := range f.Path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, nil
		}
		cur, ok = obj[key]
		if !ok {
			return nil, nil
		}
	}
	return cur, nil
}

func (f SourceField) String() string {
	return "_raw['" + strings.Join(f.Path, ".") + "']"
}

// Func computes a value from the record with an arbitrary function.
type Func struct {
	Name string
	Fn   func(rec types.Record) (any, error)
}

// Evaluate implements Expression.
func (f Func) Evaluate(rec types.Record) (any, error) {
	if f.Fn == nil {
		return nil, bulkerr.NewInvalidValueError("function "+f.Name+" has no body", nil)
	}
	return f.Fn(rec)
}

func (f Func) String() string {
	return f.Name + "()"
}

// EvaluateAll evaluates every expression in order.
func EvaluateAll(exprs []Expression, rec types.Record) ([]any, error) {
	if len(exprs) == 0 {
		return nil, nil
	}
	values := make([]any, len(exprs))
	for i, e := range exprs {
		v, err := e.Evaluate(rec)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return values, nil
}

// Document is a JSON document column value decoded at most once. Column
// evaluates it to Raw. A Document is safe for concurrent use.
type Document struct {
	Raw []byte

	once   sync.Once
	fields map[string]any
	err    error
}

// NewDocument wraps raw JSON.
func NewDocument(raw []byte) *Document {
	return &Document{Raw: raw}
}

// Fields returns the decoded top level object.
func (d *Document) Fields() (map[string]any, error) {
	d.once.Do(func() {
		d.fields, d.err = decodeObject(d.Raw)
	})
	return d.fields, d.err
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, bulkerr.NewInvalidValueError("source is not a JSON object", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, bulkerr.NewInvalidValueError("source has data after the JSON object", nil)
	}
	return doc, nil
}

// DocumentColumns returns the columns exprs read as JSON documents.
func DocumentColumns(exprs ...Expression) []int {
	var cols []int
	seen := make(map[int]bool)
	for _, e := range exprs {
		f, ok := e.(SourceField)
		if !ok || seen[f.Index] {
			continue
		}
		seen[f.Index] = true
		cols = append(cols, f.Index)
	}
	return cols
}

// WithDocuments returns rec with the raw JSON values at cols wrapped in
// Documents, so every SourceField over the same column shares one decode.
// rec itself is not modified.
func WithDocuments(rec types.Record, cols []int) types.Record {
	var out types.Record
	for _, i := range cols {
		if i < 0 || i >= len(rec) {
			continue
		}
		var raw []byte
		switch v := rec[i].(type) {
		case []byte:
			raw = v
		case string:
			raw = []byte(v)
		default:
			continue
		}
		if out == nil {
			out = make(types.Record, len(rec))
			copy(out, rec)
		}
		out[i] = NewDocument(raw)
	}
	if out == nil {
		return rec
	}
	return out
}
