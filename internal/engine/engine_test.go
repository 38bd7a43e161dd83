package engine

import (
	"path/filepath"
	"testing"
)

func TestWriteThenReadonly_SeesData(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "v1")

	w, err := OpenWritable(dir)
	if err != nil {
		t.Fatalf("OpenWritable: %v", err)
	}
	if err := w.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close writable: %v", err)
	}

	r, err := OpenReadonly(dir)
	if err != nil {
		t.Fatalf("OpenReadonly: %v", err)
	}
	defer r.Close()

	v, err := r.Get([]byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("Get(a) = (%q, %v), want (1, nil)", v, err)
	}

	missing, err := r.Get([]byte("missing"))
	if err != nil || missing != nil {
		t.Fatalf("Get(missing) = (%v, %v), want (nil, nil)", missing, err)
	}

	got, err := r.MultiGet([][]byte{[]byte("a"), []byte("missing"), []byte("b")})
	if err != nil {
		t.Fatalf("MultiGet: %v", err)
	}
	if len(got) != 3 || string(got[0]) != "1" || got[1] != nil || string(got[2]) != "2" {
		t.Fatalf("MultiGet = %v, want [1 nil 2]", got)
	}
}
