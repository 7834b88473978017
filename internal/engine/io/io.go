// Package io serializes step outputs with rtl so checkpoints can be replayed
// into the caller's type.
package io

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"github.com/stephenfire/go-rtl"
)

var ErrNilOutput = errors.New("nil output")

// Encode serializes v. Pointers are dereferenced first so that a step
// returning *T and one returning T produce the same checkpoint.
func Encode(v any) ([]byte, error) {
	if v == nil {
		return nil, ErrNilOutput
	}
	// just get the real one
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, ErrNilOutput
		}
		v = rv.Elem().Interface()
	}

	buf := new(bytes.Buffer)
	if err := rtl.Encode(v, buf); err != nil {
		return nil, fmt.Errorf("rtl encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

// Decode reads a checkpoint back into T.
func Decode[T any](raw []byte) (T, error) {
	var out T
	if err := rtl.Decode(bytes.NewBuffer(raw), &out); err != nil {
		return out, fmt.Errorf("rtl decode %T: %w", out, err)
	}
	return out, nil
}
