package grid

import (
	"bytes"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-msgpack/v2/codec"
)

// msgpackHandle encodes maps with sorted keys, so equal snapshots always
// produce equal bytes; compare-and-swap relies on that.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.Canonical = true
	h.WriteExt = true
	h.SignedInteger = true
	h.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return h
}

func encodeValue(v any) ([]byte, error) {
	var out []byte
	if err := codec.NewEncoderBytes(&out, msgpackHandle).Encode(v); err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

func encodeTuple(t Tuple) ([]byte, error) {
	return encodeValue(map[string]any(t))
}

func decodeTuple(b []byte) (Tuple, error) {
	var m map[string]any
	if err := codec.NewDecoderBytes(b, msgpackHandle).Decode(&m); err != nil {
		return nil, errors.WithStack(err)
	}
	return Tuple(m), nil
}

func encodeAssociation(a *Association) ([]byte, error) {
	rows := make([]map[string]any, 0, len(a.Rows))
	for _, r := range a.Rows {
		rows = append(rows, map[string]any(r))
	}
	return encodeValue(rows)
}

func decodeAssociation(b []byte) (*Association, error) {
	var rows []map[string]any
	if err := codec.NewDecoderBytes(b, msgpackHandle).Decode(&rows); err != nil {
		return nil, errors.WithStack(err)
	}
	a := &Association{Rows: make([]Tuple, 0, len(rows))}
	for _, r := range rows {
		a.Rows = append(a.Rows, Tuple(r))
	}
	return a, nil
}

// sameColumnValues reports whether every column in want holds an equal
// value in got. Values are compared by encoding, so int and int64 of the
// same number match.
func sameColumnValues(want, got Tuple) (bool, error) {
	for col, w := range want {
		g, ok := got[col]
		if !ok {
			return false, nil
		}
		wb, err := encodeValue(w)
		if err != nil {
			return false, err
		}
		gb, err := encodeValue(g)
		if err != nil {
			return false, err
		}
		if !bytes.Equal(wb, gb) {
			return false, nil
		}
	}
	return true, nil
}
