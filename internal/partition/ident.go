// Package partition resolves partition value tuples to physical partitions
// and creates missing partitions on demand.
package partition

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/arkilian/bulkindex/pkg/types"
)

// Prefix starts every partition name of a partitioned table.
const Prefix = ".partitioned."

// nameEncoding is lower-case base32hex without padding, so encoded values
// never contain a dot or an upper-case letter.
var nameEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// Ident identifies the physical partition a write targets.
type Ident struct {
	Table  string
	Values []any
	Name   string
}

// Partitioned reports whether the identity belongs to a partitioned table.
func (id Ident) Partitioned() bool {
	return len(id.Values) > 0
}

func (id Ident) String() string {
	return id.Name
}

// NewIdent builds the identity for values of table. A table without
// partition values maps to a partition named like the table.
func NewIdent(table string, values []any) Ident {
	if len(values) == 0 {
		return Ident{Table: table, Name: table}
	}
	return Ident{
		Table:  table,
		Values: values,
		Name:   Name(table, values),
	}
}

// Name encodes table and values as ".partitioned.<table>.<encoded values>".
// Distinct value tuples always produce distinct names.
func Name(table string, values []any) string {
	return Prefix + table + "." + nameEncoding.EncodeToString(types.EncodeValues(values))
}

// ParseName reverses Name. Values come back in their string form.
func ParseName(name string) (string, []any, error) {
	if !strings.HasPrefix(name, Prefix) {
		return "", nil, fmt.Errorf("partition: %q is not a partition name", name)
	}
	rest := name[len(Prefix):]
	dot := strings.LastIndexByte(rest, '.')
	if dot <= 0 {
		return "", nil, fmt.Errorf("partition: %q has no table", name)
	}

	raw, err := nameEncoding.DecodeString(rest[dot+1:])
	if err != nil {
		return "", nil, fmt.Errorf("partition: invalid encoded values in %q: %w", name, err)
	}
	values, err := types.DecodeValues(raw)
	if err != nil {
		return "", nil, fmt.Errorf("partition: invalid encoded values in %q: %w", name, err)
	}
	return rest[:dot], values, nil
}
