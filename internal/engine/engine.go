// Package engine adapts the external embedded key-value engine to the
// narrow contract the core requires: open/open-read-only/put/get/multi-get/
// close on a directory. The concrete backing is cockroachdb/pebble, an
// LSM-style pure-Go engine.
package engine

import (
	"io"

	"github.com/cockroachdb/pebble"

	vkverrors "github.com/kartikbazzad/vkvstore/internal/errors"
)

// Handle is an opened instance of the underlying engine pointing at one
// snapshot directory.
type Handle struct {
	db       *pebble.DB
	writable bool
}

// OpenWritable creates or opens a writable pebble instance at dir.
func OpenWritable(dir string) (*Handle, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, vkverrors.New(vkverrors.EngineError, "engine.open_writable", err)
	}
	return &Handle{db: db, writable: true}, nil
}

// OpenReadonly opens dir read-only. Writes through this handle fail.
func OpenReadonly(dir string) (*Handle, error) {
	db, err := pebble.Open(dir, &pebble.Options{ReadOnly: true})
	if err != nil {
		return nil, vkverrors.New(vkverrors.EngineError, "engine.open_readonly", err)
	}
	return &Handle{db: db, writable: false}, nil
}

// Put stores a key/value pair. Writes are unsynced per-call; the write-once
// contract relies on a single durable flush at Close instead of per-put
// fsyncs.
func (h *Handle) Put(key, value []byte) error {
	if err := h.db.Set(key, value, pebble.NoSync); err != nil {
		return vkverrors.New(vkverrors.EngineError, "engine.put", err)
	}
	return nil
}

// Get returns the value for key, or nil if absent.
func (h *Handle) Get(key []byte) ([]byte, error) {
	v, closer, err := h.db.Get(key)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil
		}
		return nil, vkverrors.New(vkverrors.EngineError, "engine.get", err)
	}
	out := append([]byte{}, v...)
	if cerr := closer.Close(); cerr != nil {
		return out, vkverrors.New(vkverrors.EngineError, "engine.get", cerr)
	}
	return out, nil
}

// MultiGet returns a value per key, in input order, with nil for missing
// keys. Pebble has no native batched point-get, so this loops Get.
func (h *Handle) MultiGet(keys [][]byte) ([][]byte, error) {
	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := h.Get(k)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Close flushes and durably closes the handle. For a writable handle this
// is the durable-flush point the core's write_once protocol depends on:
// after Close returns, a subsequent OpenReadonly in any process sees
// exactly what was Put.
func (h *Handle) Close() error {
	if err := h.db.Close(); err != nil {
		return vkverrors.New(vkverrors.EngineError, "engine.close", err)
	}
	return nil
}

var _ io.Closer = (*Handle)(nil)
