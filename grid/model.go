// Package grid defines the narrow store-operation surface ("dialect") that
// entity persistence is written against, and a dialect over any
// store.ConditionalStore.
package grid

import (
	"bytes"
	"fmt"
	"reflect"
	"strings"
)

// EntityKeyMetadata names an entity table and its id columns.
type EntityKeyMetadata struct {
	Table   string
	Columns []string
}

// EntityKey identifies one tuple.
type EntityKey struct {
	Metadata EntityKeyMetadata
	Values   []any
}

func NewEntityKey(table string, columns []string, values ...any) EntityKey {
	return EntityKey{
		Metadata: EntityKeyMetadata{Table: table, Columns: append([]string(nil), columns...)},
		Values:   append([]any(nil), values...),
	}
}

func (k EntityKey) Table() string {
	return k.Metadata.Table
}

func (k EntityKey) Equal(o EntityKey) bool {
	return reflect.DeepEqual(k, o)
}

func (k EntityKey) Clone() EntityKey {
	return NewEntityKey(k.Metadata.Table, k.Metadata.Columns, k.Values...)
}

func (k EntityKey) String() string {
	return k.Metadata.Table + "{" + columnsString(k.Metadata.Columns, k.Values) + "}"
}

// AssociationKey identifies the rows linking an owner entity to others.
type AssociationKey struct {
	Table   string
	Columns []string
	Values  []any
	Owner   EntityKey
}

func (k AssociationKey) Clone() AssociationKey {
	return AssociationKey{
		Table:   k.Table,
		Columns: append([]string(nil), k.Columns...),
		Values:  append([]any(nil), k.Values...),
		Owner:   k.Owner.Clone(),
	}
}

func (k AssociationKey) String() string {
	return k.Table + "{" + columnsString(k.Columns, k.Values) + "}"
}

func columnsString(cols []string, vals []any) string {
	var b strings.Builder
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString("=")
		if i < len(vals) {
			fmt.Fprintf(&b, "%v", vals[i])
		}
	}
	return b.String()
}

// Tuple is a snapshot of one entity's columns.
type Tuple map[string]any

// Clone copies the map and any byte slices in it. Other values are
// expected to be immutable scalars.
func (t Tuple) Clone() Tuple {
	if t == nil {
		return nil
	}
	c := make(Tuple, len(t))
	for k, v := range t {
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		c[k] = v
	}
	return c
}

// Association is the full set of rows stored under an AssociationKey.
type Association struct {
	Rows []Tuple
}

func (a *Association) Clone() *Association {
	if a == nil {
		return nil
	}
	rows := make([]Tuple, len(a.Rows))
	for i, r := range a.Rows {
		rows[i] = r.Clone()
	}
	return &Association{Rows: rows}
}

// IDSourceKey names a sequence used for generated ids.
type IDSourceKey struct {
	Name         string
	InitialValue int64
	Increment    int64
}
