package serde

import (
	"encoding/binary"

	vkverrors "github.com/kartikbazzad/vkvstore/internal/errors"
)

// Int64 is the fixed 8-byte Serde for int64-typed keys and values. The wire
// representation is pinned to little-endian on every host rather than true
// native order.
type Int64 struct{}

var _ Serde[int64] = Int64{}

// Encode always produces exactly 8 bytes.
func (Int64) Encode(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// Decode accepts 1..8 input bytes, zero-extending any missing high bytes,
// and fails with SerdeError{EncodingInvalid} for inputs longer than 8 bytes.
func (Int64) Decode(b []byte) (int64, error) {
	if len(b) == 0 || len(b) > 8 {
		return 0, vkverrors.New(vkverrors.SerdeError, "serde.Int64.Decode", vkverrors.EncodingInvalid)
	}
	var buf [8]byte
	copy(buf[:len(b)], b)
	return int64(binary.LittleEndian.Uint64(buf[:])), nil
}
