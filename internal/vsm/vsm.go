// Package vsm implements the Versioned Snapshot Manager: one VSM owns a
// single logical database directory, publishes write-once versions, serves
// reads against the latest published version via a bounded handle cache,
// and retires expired versions.
package vsm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kartikbazzad/vkvstore/internal/engine"
	vkverrors "github.com/kartikbazzad/vkvstore/internal/errors"
	"github.com/kartikbazzad/vkvstore/internal/fvr"
	"github.com/kartikbazzad/vkvstore/internal/logger"
	"github.com/kartikbazzad/vkvstore/internal/serde"
)

// Option is the result of a lookup that may legitimately be absent, without
// allocating a pointer for the common found case.
type Option[T any] struct {
	Value T
	Found bool
}

// Writer is handed to a Producer so it can issue serialized puts against the
// snapshot currently being built.
type Writer[K, V any] struct {
	h  *engine.Handle
	ks serde.Serde[K]
	vs serde.Serde[V]
}

// Put encodes k and v and writes them into the snapshot under construction.
func (w *Writer[K, V]) Put(k K, v V) error {
	return w.h.Put(w.ks.Encode(k), w.vs.Encode(v))
}

// Producer populates a freshly opened writable snapshot and reports whether
// it completed successfully; a false return (or a panic, which WriteOnce
// recovers) aborts publication and discards the scratch directory.
type Producer[K, V any] func(w *Writer[K, V]) bool

// Config carries the per-VSM tunables forwarded from config.VSMConfig.
type Config struct {
	RecordCapacity      int
	MaxOpenHandles      int
	HandleIdleTimeout   time.Duration
	VersionClearTimeout time.Duration
}

// VSM owns one logical database directory.
type VSM[K, V any] struct {
	dir string
	fv  *fvr.FVR
	ks  serde.Serde[K]
	vs  serde.Serde[V]
	cfg Config
	log *logger.Logger

	mu      sync.Mutex
	handles *expirable.LRU[int32, *engine.Handle]
}

// Open constructs a generic VSM[K,V] over dir, opening (and, if necessary,
// creating) its FVR, and sweeping any orphaned _temp_v*_* scratch
// directories left behind by a crashed writer.
func Open[K, V any](dir string, ks serde.Serde[K], vs serde.Serde[V], cfg Config, log *logger.Logger) (*VSM[K, V], error) {
	const op = "vsm.Open"
	if log == nil {
		log = logger.Default()
	}
	log = log.With("vsm")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, vkverrors.New(vkverrors.IoError, op, err)
	}

	fv, err := fvr.Open(dir, cfg.RecordCapacity, log)
	if err != nil {
		return nil, err
	}

	m := &VSM[K, V]{dir: dir, fv: fv, ks: ks, vs: vs, cfg: cfg, log: log}

	maxOpen := cfg.MaxOpenHandles
	if maxOpen <= 0 {
		maxOpen = 10
	}
	m.handles = expirable.NewLRU[int32, *engine.Handle](maxOpen, func(_ int32, h *engine.Handle) {
		if h == nil {
			return
		}
		if err := h.Close(); err != nil {
			m.log.Warn("vsm: error closing evicted handle: %v", err)
		}
	}, cfg.HandleIdleTimeout)

	m.sweepOrphans()
	return m, nil
}

// sweepOrphans deletes every _temp_v*_* directory under dir: scratch
// directories from writers that crashed before the CAS+rename completed.
func (m *VSM[K, V]) sweepOrphans() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.log.Warn("vsm: sweepOrphans readdir: %v", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "_temp_v") {
			full := filepath.Join(m.dir, e.Name())
			if err := os.RemoveAll(full); err != nil {
				m.log.Warn("vsm: failed to sweep orphan %s: %v", full, err)
			} else {
				m.log.Info("vsm: swept orphaned scratch directory %s", full)
			}
		}
	}
}

// Version returns the current published version, or 0 for an empty database.
func (m *VSM[K, V]) Version() int32 {
	return m.fv.Latest()
}

// WriteOnce allocates the next version, streams producer's puts into a
// scratch directory, and publishes it via CAS-then-rename.
// installed is false, with a nil error, when the producer reported failure
// or another writer won the CAS race; it is impossible for a vkvstore
// read path to observe either outcome as a partial snapshot.
func (m *VSM[K, V]) WriteOnce(producer Producer[K, V]) (installed bool, err error) {
	const op = "vsm.write_once"

	expected := m.fv.Latest()
	next := expected + 1
	if int(next) > m.fv.Capacity() {
		return false, vkverrors.New(vkverrors.CapacityExhausted, op, fmt.Errorf("version %d exceeds capacity %d", next, m.fv.Capacity()))
	}

	tmp := filepath.Join(m.dir, fmt.Sprintf("_temp_v%d_%d", next, time.Now().UnixMilli()))
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return false, vkverrors.New(vkverrors.IoError, op, err)
	}

	h, err := engine.OpenWritable(tmp)
	if err != nil {
		os.RemoveAll(tmp)
		return false, err
	}

	ok := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				m.log.Warn("vsm: producer panicked: %v", r)
				ok = false
			}
		}()
		return producer(&Writer[K, V]{h: h, ks: m.ks, vs: m.vs})
	}()

	if cerr := h.Close(); cerr != nil {
		os.RemoveAll(tmp)
		return false, cerr
	}

	if !ok {
		os.RemoveAll(tmp)
		return false, nil
	}

	installed, casErr := m.fv.CompareAndSetMeta(expected, next)
	if casErr != nil {
		os.RemoveAll(tmp)
		return false, casErr
	}
	if !installed {
		os.RemoveAll(tmp)
		return false, nil
	}

	target := filepath.Join(m.dir, fmt.Sprint(next))
	if err := os.Rename(tmp, target); err != nil {
		// The version is already installed in the FVR; a failed rename here
		// is a filesystem-level inconsistency the caller must be told about.
		return true, vkverrors.New(vkverrors.IoError, op, err)
	}
	return true, nil
}

// Get returns the value for k against the latest published version,
// absorbing every engine/serde error into a not-found result: reads never
// fail loudly.
func (m *VSM[K, V]) Get(k K) Option[V] {
	var zero V
	v := m.fv.Latest()
	if v == 0 {
		return Option[V]{}
	}
	h, ok := m.loadHandle(v)
	if !ok {
		return Option[V]{}
	}
	raw, err := h.Get(m.ks.Encode(k))
	if err != nil || raw == nil {
		if err != nil {
			m.log.Warn("vsm: get error: %v", err)
		}
		return Option[V]{}
	}
	val, err := m.vs.Decode(raw)
	if err != nil {
		m.log.Warn("vsm: decode error: %v", err)
		return Option[V]{Value: zero}
	}
	return Option[V]{Value: val, Found: true}
}

// MultiGet returns one Option[V] per key, positionally aligned. On any
// engine error it returns an empty slice.
func (m *VSM[K, V]) MultiGet(keys []K) []Option[V] {
	v := m.fv.Latest()
	if v == 0 {
		return make([]Option[V], len(keys))
	}
	h, ok := m.loadHandle(v)
	if !ok {
		return make([]Option[V], len(keys))
	}

	raw := make([][]byte, len(keys))
	for i, k := range keys {
		raw[i] = m.ks.Encode(k)
	}
	vals, err := h.MultiGet(raw)
	if err != nil {
		m.log.Warn("vsm: multi_get error: %v", err)
		return nil
	}

	out := make([]Option[V], len(keys))
	for i, b := range vals {
		if b == nil {
			continue
		}
		dv, err := m.vs.Decode(b)
		if err != nil {
			m.log.Warn("vsm: decode error: %v", err)
			continue
		}
		out[i] = Option[V]{Value: dv, Found: true}
	}
	return out
}

// loadHandle is the handle-cache loader: absent for a nonexistent or
// reclaiming version, otherwise open-read-only and best-effort refresh the
// access timestamp.
func (m *VSM[K, V]) loadHandle(v int32) (*engine.Handle, bool) {
	if v <= 0 {
		return nil, false
	}
	if h, ok := m.handles.Get(v); ok {
		return h, true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Re-check under the lock: another goroutine may have loaded it first.
	if h, ok := m.handles.Get(v); ok {
		return h, true
	}

	dir := filepath.Join(m.dir, fmt.Sprint(v))
	if _, err := os.Stat(dir); err != nil {
		return nil, false
	}
	rv, err := m.fv.RecordValue(int(v))
	if err != nil || rv <= -1 {
		return nil, false
	}

	h, err := engine.OpenReadonly(dir)
	if err != nil {
		m.log.Warn("vsm: open_readonly(%s) failed: %v", dir, err)
		return nil, false
	}

	// Best-effort access-time refresh: a CAS loss just means another reader
	// beat us to it, which is equally recent.
	if _, casErr := m.fv.CompareAndSetRecordValue(int(v), rv, time.Now().UnixMilli()); casErr != nil {
		m.log.Warn("vsm: record-value refresh failed for version %d: %v", v, casErr)
	}

	m.handles.Add(v, h)
	return h, true
}

// Clear runs one reclamation pass: every non-current version
// whose access timestamp is older than VersionClearTimeout is CAS'd to the
// Clearing sentinel and its directory deleted; a delete failure restores the
// prior timestamp so the version is reconsidered next time.
func (m *VSM[K, V]) Clear() {
	latest := m.fv.Latest()
	now := time.Now().UnixMilli()
	window := m.cfg.VersionClearTimeout.Milliseconds()

	for v := int32(1); v < latest; v++ {
		t, err := m.fv.RecordValue(int(v))
		if err != nil {
			continue
		}
		if t < 0 || (now-t) <= window {
			continue
		}
		m.reclaim(v, t)
	}
}

// reclaim CASes version's record to Clearing, deletes its directory, and
// restores the prior timestamp if deletion fails.
func (m *VSM[K, V]) reclaim(v int32, observed int64) {
	ok, err := m.fv.CompareAndSetRecordValue(int(v), observed, fvr.Clearing)
	if err != nil || !ok {
		return
	}
	m.handles.Remove(v)

	dir := filepath.Join(m.dir, fmt.Sprint(v))
	if err := os.RemoveAll(dir); err != nil {
		m.log.Warn("vsm: reclaim delete failed for version %d: %v", v, err)
		if _, restoreErr := m.fv.CompareAndSetRecordValue(int(v), fvr.Clearing, observed); restoreErr != nil {
			m.log.Warn("vsm: reclaim restore failed for version %d: %v", v, restoreErr)
		}
	}
}

// Close releases the handle cache and the FVR mapping.
func (m *VSM[K, V]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles.Purge()
	return m.fv.Close()
}
