package grid

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	tuplePrefix       = "t|"
	associationPrefix = "a|"
)

var keyEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`, `,`, `\,`, `=`, `\=`)

// keyValue renders a column value. Strings are quoted. Integers of every
// kind render as bare decimals, so one number names the same key whatever
// its Go type. Anything else is tagged with its type, which keeps it apart
// from strings and integers but not from another value of the same type
// that prints the same.
func keyValue(v any) string {
	switch x := v.(type) {
	case string:
		return strconv.Quote(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	default:
		return fmt.Sprintf("%T:%v", x, x)
	}
}

func encodeColumns(b *strings.Builder, cols []string, vals []any) {
	for i, c := range cols {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(keyEscaper.Replace(c))
		b.WriteByte('=')
		if i < len(vals) {
			b.WriteString(keyEscaper.Replace(keyValue(vals[i])))
		}
	}
}

// tupleKey renders t|<table>|<col>=<value>,...
func tupleKey(k EntityKey) []byte {
	var b strings.Builder
	b.WriteString(tuplePrefix)
	b.WriteString(keyEscaper.Replace(k.Metadata.Table))
	b.WriteByte('|')
	encodeColumns(&b, k.Metadata.Columns, k.Values)
	return []byte(b.String())
}

// associationKey renders a|<table>|<col>=<value>,...
func associationKey(k AssociationKey) []byte {
	var b strings.Builder
	b.WriteString(associationPrefix)
	b.WriteString(keyEscaper.Replace(k.Table))
	b.WriteByte('|')
	encodeColumns(&b, k.Columns, k.Values)
	return []byte(b.String())
}
