package indexing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	bulkerr "github.com/arkilian/bulkindex/internal/errors"
	"github.com/arkilian/bulkindex/internal/expression"
	"github.com/arkilian/bulkindex/pkg/types"
)

// WriteOp is one pending document write.
type WriteOp struct {
	Seq      int64
	ID       string
	PKValues []any
	Routing  string
	Source   []byte
	Version  *int64
}

// Expressions binds the target table's columns to expressions over input
// records.
type Expressions struct {
	// PrimaryKey holds one expression per primary key column. An empty list
	// means the table has no primary key and ids are generated.
	PrimaryKey []expression.Expression

	// PrimaryKeyNames names the primary key columns for error details.
	PrimaryKeyNames []string

	Partition []expression.Expression

	// Routing is optional. Without it documents are routed by id.
	Routing expression.Expression

	// Version is optional. When set, writes only apply on a matching version.
	Version expression.Expression

	Source expression.Expression
}

// RowEvaluator turns records into write operations.
type RowEvaluator struct {
	exprs   Expressions
	docCols []int
}

// NewRowEvaluator creates an evaluator for exprs.
func NewRowEvaluator(exprs Expressions) *RowEvaluator {
	all := append([]expression.Expression{}, exprs.PrimaryKey...)
	all = append(all, exprs.Partition...)
	for _, e := range []expression.Expression{exprs.Routing, exprs.Version, exprs.Source} {
		if e != nil {
			all = append(all, e)
		}
	}
	return &RowEvaluator{exprs: exprs, docCols: expression.DocumentColumns(all...)}
}

// Evaluate returns the partition values of rec and its write operation.
// A NULL primary key value fails with a null primary key error.
func (e *RowEvaluator) Evaluate(seq int64, rec types.Record) ([]any, WriteOp, error) {
	op := WriteOp{Seq: seq}
	rec = expression.WithDocuments(rec, e.docCols)

	pk, err := expression.EvaluateAll(e.exprs.PrimaryKey, rec)
	if err != nil {
		return nil, op, err
	}
	for i, v := range pk {
		if v == nil {
			return nil, op, bulkerr.NewNullPrimaryKeyError(e.pkName(i))
		}
	}
	op.PKValues = pk
	op.ID = documentID(pk)

	partitionValues, err := expression.EvaluateAll(e.exprs.Partition, rec)
	if err != nil {
		return nil, op, err
	}

	if e.exprs.Routing != nil {
		v, err := e.exprs.Routing.Evaluate(rec)
		if err != nil {
			return nil, op, err
		}
		op.Routing, _ = types.FormatValue(v)
	}

	if e.exprs.Version != nil {
		v, err := e.exprs.Version.Evaluate(rec)
		if err != nil {
			return nil, op, err
		}
		if v != nil {
			version, err := toVersion(v)
			if err != nil {
				return nil, op, err
			}
			op.Version = &version
		}
	}

	if e.exprs.Source == nil {
		return nil, op, bulkerr.NewInvalidValueError("no source expression configured", nil)
	}
	raw, err := e.exprs.Source.Evaluate(rec)
	if err != nil {
		return nil, op, err
	}
	op.Source, err = toSource(raw)
	if err != nil {
		return nil, op, err
	}

	return partitionValues, op, nil
}

func (e *RowEvaluator) pkName(i int) string {
	if i < len(e.exprs.PrimaryKeyNames) {
		return e.exprs.PrimaryKeyNames[i]
	}
	if s, ok := e.exprs.PrimaryKey[i].(fmt.Stringer); ok {
		return s.String()
	}
	return ""
}

// documentID encodes primary key values into a document id. A single value
// is used as is; several values are encoded so that distinct tuples never
// share an id. Without primary key values a random id is generated.
func documentID(pk []any) string {
	switch len(pk) {
	case 0:
		return uuid.NewString()
	case 1:
		s, _ := types.FormatValue(pk[0])
		return s
	default:
		return base64.RawURLEncoding.EncodeToString(types.EncodeValues(pk))
	}
}

func toVersion(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, bulkerr.NewInvalidValueError(fmt.Sprintf("version %s is not an integer", x), err)
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, bulkerr.NewInvalidValueError(fmt.Sprintf("version %q is not an integer", x), err)
		}
		return n, nil
	default:
		return 0, bulkerr.NewInvalidValueError(fmt.Sprintf("unsupported version type %T", v), nil)
	}
}

func toSource(v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return nil, bulkerr.NewInvalidValueError("source must not be NULL", nil)
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	case json.RawMessage:
		return x, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, bulkerr.NewInvalidValueError("source cannot be encoded as JSON", err)
		}
		return b, nil
	}
}
