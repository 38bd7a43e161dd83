package vsm

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kartikbazzad/vkvstore/internal/serde"
)

func newTestVSM(t *testing.T, cfg Config) (*VSM[int64, string], string) {
	t.Helper()
	dir := t.TempDir()
	if cfg.RecordCapacity == 0 {
		cfg.RecordCapacity = 8
	}
	if cfg.MaxOpenHandles == 0 {
		cfg.MaxOpenHandles = 4
	}
	if cfg.HandleIdleTimeout == 0 {
		cfg.HandleIdleTimeout = time.Hour
	}
	if cfg.VersionClearTimeout == 0 {
		cfg.VersionClearTimeout = time.Hour
	}
	m, err := Open[int64, string](dir, serde.Int64{}, serde.String{}, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, dir
}

func mapWriter(data map[int64]string) Producer[int64, string] {
	return func(w *Writer[int64, string]) bool {
		for k, v := range data {
			if err := w.Put(k, v); err != nil {
				return false
			}
		}
		return true
	}
}

func TestWriteOnce_ColdWriteThenRead(t *testing.T) {
	m, dir := newTestVSM(t, Config{})

	installed, err := m.WriteOnce(mapWriter(map[int64]string{1: "a", 2: "b"}))
	if err != nil || !installed {
		t.Fatalf("WriteOnce = (%v, %v), want (true, nil)", installed, err)
	}
	if m.Version() != 1 {
		t.Fatalf("Version() = %d, want 1", m.Version())
	}
	if _, err := os.Stat(filepath.Join(dir, "1")); err != nil {
		t.Fatalf("version dir missing: %v", err)
	}

	if got := m.Get(1); !got.Found || got.Value != "a" {
		t.Errorf("Get(1) = %+v, want {a true}", got)
	}
	if got := m.Get(2); !got.Found || got.Value != "b" {
		t.Errorf("Get(2) = %+v, want {b true}", got)
	}
	if got := m.Get(3); got.Found {
		t.Errorf("Get(3) = %+v, want not found", got)
	}
}

func TestWriteOnce_SecondWriteReplacesNotMerges(t *testing.T) {
	m, _ := newTestVSM(t, Config{})
	if _, err := m.WriteOnce(mapWriter(map[int64]string{1: "a", 2: "b"})); err != nil {
		t.Fatalf("first WriteOnce: %v", err)
	}
	if _, err := m.WriteOnce(mapWriter(map[int64]string{1: "x"})); err != nil {
		t.Fatalf("second WriteOnce: %v", err)
	}
	if m.Version() != 2 {
		t.Fatalf("Version() = %d, want 2", m.Version())
	}

	got := m.MultiGet([]int64{1, 2, 3})
	if len(got) != 3 {
		t.Fatalf("MultiGet returned %d results, want 3", len(got))
	}
	if !got[0].Found || got[0].Value != "x" {
		t.Errorf("MultiGet[0] = %+v, want {x true}", got[0])
	}
	if got[1].Found || got[2].Found {
		t.Errorf("MultiGet[1],[2] should be not-found after replacement: %+v %+v", got[1], got[2])
	}
}

func TestWriteOnce_ProducerFailureLeavesNoVersion(t *testing.T) {
	m, dir := newTestVSM(t, Config{})
	installed, err := m.WriteOnce(func(w *Writer[int64, string]) bool {
		_ = w.Put(1, "a")
		return false
	})
	if err != nil || installed {
		t.Fatalf("WriteOnce = (%v, %v), want (false, nil)", installed, err)
	}
	if m.Version() != 0 {
		t.Fatalf("Version() = %d, want 0 (no version installed)", m.Version())
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.Name() == "1" {
			t.Fatalf("version directory 1 should not exist after producer failure")
		}
	}
}

func TestWriteOnce_CapacityExhausted(t *testing.T) {
	m, _ := newTestVSM(t, Config{RecordCapacity: 1})
	if _, err := m.WriteOnce(mapWriter(map[int64]string{1: "a"})); err != nil {
		t.Fatalf("first WriteOnce: %v", err)
	}
	_, err := m.WriteOnce(mapWriter(map[int64]string{1: "b"}))
	if err == nil {
		t.Fatal("expected CapacityExhausted error")
	}
}

func TestClear_RetiresOldVersionButKeepsCurrent(t *testing.T) {
	m, dir := newTestVSM(t, Config{VersionClearTimeout: time.Millisecond})
	if _, err := m.WriteOnce(mapWriter(map[int64]string{1: "a"})); err != nil {
		t.Fatalf("write 1: %v", err)
	}
	// Touch version 1 so it has a nonzero access timestamp to expire.
	_ = m.Get(1)
	if _, err := m.WriteOnce(mapWriter(map[int64]string{1: "b"})); err != nil {
		t.Fatalf("write 2: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	m.Clear()

	if m.Version() != 2 {
		t.Fatalf("Version() = %d after Clear, want unchanged 2", m.Version())
	}
	if _, err := os.Stat(filepath.Join(dir, "1")); !os.IsNotExist(err) {
		t.Fatalf("version 1 directory should be removed, stat err = %v", err)
	}
	rv, err := m.fv.RecordValue(1)
	if err != nil {
		t.Fatalf("RecordValue(1): %v", err)
	}
	if rv != -1 {
		t.Fatalf("RecordValue(1) = %d, want Clearing(-1)", rv)
	}
}

func TestGet_RefusesWhenRecordIsClearing(t *testing.T) {
	m, _ := newTestVSM(t, Config{})
	if _, err := m.WriteOnce(mapWriter(map[int64]string{1: "a"})); err != nil {
		t.Fatalf("WriteOnce: %v", err)
	}
	// Force the current version's record into the CLEARING sentinel, as if
	// a reclaimer (or, here, a disk-quota sweep) had raced ahead of us.
	if ok, err := m.fv.CompareAndSetRecordValue(1, 0, -1); err != nil || !ok {
		t.Fatalf("CompareAndSetRecordValue to Clearing = (%v, %v), want (true, nil)", ok, err)
	}

	got := m.Get(1)
	if got.Found {
		t.Fatalf("Get(1) = %+v while version is CLEARING, want not found", got)
	}
	if _, ok := m.handles.Get(1); ok {
		t.Fatal("handle cache should not retain a handle for a CLEARING version")
	}
}

func TestOpen_SweepsOrphanTempDirs(t *testing.T) {
	dir := t.TempDir()
	orphan := filepath.Join(dir, "_temp_v3_12345")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cfg := Config{RecordCapacity: 8, MaxOpenHandles: 4, HandleIdleTimeout: time.Hour, VersionClearTimeout: time.Hour}
	m, err := Open[int64, string](dir, serde.Int64{}, serde.String{}, cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatalf("orphan scratch dir should have been swept, stat err = %v", err)
	}
}
