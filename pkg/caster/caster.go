// Package caster converts wire payloads to typed values.
package caster

import (
	"bytes"
	"encoding/json"
)

type ChannelCaster[T any] interface {
	From([]byte) (T, error)
	To(T) ([]byte, error)
}

// JSONChannelCaster decodes JSON bodies. With Strict set unknown fields are an error.
type JSONChannelCaster[T any] struct {
	Strict bool
}

func (jc JSONChannelCaster[T]) From(data []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	if jc.Strict {
		dec.DisallowUnknownFields()
	}
	err := dec.Decode(&v)
	return v, err
}

func (jc JSONChannelCaster[T]) To(v T) ([]byte, error) {
	return json.Marshal(v)
}

// Recast converts an already decoded value, such as a map[string]any body, into T.
func Recast[T any](body any) (T, error) {
	var v T
	data, err := json.Marshal(body)
	if err != nil {
		return v, err
	}
	return JSONChannelCaster[T]{}.From(data)
}
