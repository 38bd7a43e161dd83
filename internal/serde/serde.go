// Package serde provides the stateless, total, bidirectional byte-sequence
// mappings the core uses to move typed keys and values through the
// snapshot engine adapter without knowing their concrete Go type.
package serde

import (
	"unicode/utf8"

	vkverrors "github.com/kartikbazzad/vkvstore/internal/errors"
)

// Serde is a stateless bidirectional mapping between a value of type T and
// its byte-sequence representation. Encode is infallible; Decode fails only
// on malformed input, wrapped as a SerdeError.
type Serde[T any] interface {
	Encode(v T) []byte
	Decode(b []byte) (T, error)
}

// String is the UTF-8 Serde for string-typed keys and values.
type String struct{}

var _ Serde[string] = String{}

func (String) Encode(v string) []byte {
	return []byte(v)
}

// Decode returns a SerdeError{EncodingInvalid} if b is not valid UTF-8.
func (String) Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", vkverrors.New(vkverrors.SerdeError, "serde.String.Decode", vkverrors.EncodingInvalid)
	}
	return string(b), nil
}
