// Package fvr implements the Fixed Version Record: a fixed-size
// memory-mapped file per logical database holding the current published
// version and one access-timestamp record per allowable version, coordinated
// across cooperating processes via byte-range advisory locks. Every integer
// in the file is stored little-endian, whatever the host's native order.
package fvr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	vkverrors "github.com/kartikbazzad/vkvstore/internal/errors"
	"github.com/kartikbazzad/vkvstore/internal/logger"
)

const (
	// metaSize is the byte width of the current-version field at offset 0.
	metaSize = 4
	// recordSize is the byte width of one per-version record (4-byte tag +
	// 8-byte access-timestamp value).
	recordSize = 12

	// DefaultCapacity is R when the caller does not specify, or specifies
	// an out-of-range value.
	DefaultCapacity = 64
	// MaxCapacity is the hard ceiling on R.
	MaxCapacity = 1024

	// Clearing is the access-timestamp sentinel meaning "reclamation in
	// progress"; readers must refuse to open this version.
	Clearing int64 = -1

	fileName = "_VERSION"
)

// FVR is the fixed version record for one logical database directory.
type FVR struct {
	path string
	r    int
	size int

	f    *os.File
	data []byte

	log *logger.Logger
}

// Open resolves the FVR path under dir (appending "_VERSION" unless dir
// already names it), creates and zero-extends the file to its fixed size if
// necessary, and memory-maps it read-write. R out of [1, MaxCapacity] is
// clamped to DefaultCapacity.
func Open(dir string, r int, log *logger.Logger) (*FVR, error) {
	const op = "fvr.Open"
	if log == nil {
		log = logger.Default()
	}
	log = log.With("fvr")
	if r < 1 || r > MaxCapacity {
		r = DefaultCapacity
	}

	path := dir
	if filepath.Base(dir) != fileName {
		path = filepath.Join(dir, fileName)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, vkverrors.New(vkverrors.IoError, op, err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, vkverrors.New(vkverrors.IoError, op, err)
	}

	size := metaSize + r*recordSize
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, vkverrors.New(vkverrors.IoError, op, err)
	}
	if info.Size() < int64(size) {
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, vkverrors.New(vkverrors.IoError, op, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, vkverrors.New(vkverrors.IoError, op, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, vkverrors.New(vkverrors.IoError, op, err)
	}

	return &FVR{path: path, r: r, size: size, f: f, data: data, log: log}, nil
}

// Capacity returns R, the configured record count.
func (v *FVR) Capacity() int { return v.r }

// Path returns the resolved on-disk path of the record file.
func (v *FVR) Path() string { return v.path }

func recordOffset(v int) int {
	return metaSize + (v-1)*recordSize
}

// Latest reads the current version. Lock-free; may briefly return a stale
// value under a racing writer.
func (v *FVR) Latest() int32 {
	return int32(binary.LittleEndian.Uint32(v.data[0:4]))
}

// CompareAndSetMeta validates new is in [1,R] and strictly greater than
// expected, then attempts to install it under the meta byte-range lock.
// Returns false (not an error) on a plain CAS miss or lock contention;
// returns a LockError on an unexpected lock failure and an IoError if the
// flush of the new value fails.
func (v *FVR) CompareAndSetMeta(expected, next int32) (bool, error) {
	const op = "fvr.compare_and_set_meta"
	if next < 1 || int(next) > v.r || next <= expected {
		return false, vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("invalid transition %d -> %d for R=%d", expected, next, v.r))
	}

	unlock, err := v.lockRange(0, metaSize)
	if err != nil {
		if errors.Is(err, errLockContended) {
			return false, nil
		}
		return false, vkverrors.New(vkverrors.LockError, op, err)
	}
	defer unlock()

	cur := v.Latest()
	if cur != expected {
		return false, nil
	}
	binary.LittleEndian.PutUint32(v.data[0:4], uint32(next))
	if err := v.flush(0, metaSize); err != nil {
		return false, vkverrors.New(vkverrors.IoError, op, err)
	}
	return true, nil
}

// RecordValue reads the 8-byte access-timestamp value for version v,
// lock-free.
func (v *FVR) RecordValue(version int) (int64, error) {
	const op = "fvr.record_value"
	if version < 1 || version > v.r {
		return 0, vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("version %d out of range [1,%d]", version, v.r))
	}
	off := recordOffset(version) + 4
	return int64(binary.LittleEndian.Uint64(v.data[off : off+8])), nil
}

// CompareAndSetRecordValue acquires the exclusive byte-range lock on
// version's 12-byte record, initializes its tag on first use, and attempts
// to CAS the 8-byte value from expected to next. A mismatch or recoverable
// I/O error returns false, not an error.
func (v *FVR) CompareAndSetRecordValue(version int, expected, next int64) (bool, error) {
	const op = "fvr.compare_and_set_record_value"
	if version < 1 || version > v.r {
		return false, vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("version %d out of range [1,%d]", version, v.r))
	}

	base := recordOffset(version)
	unlock, err := v.lockRange(int64(base), recordSize)
	if err != nil {
		if errors.Is(err, errLockContended) {
			return false, nil
		}
		return false, vkverrors.New(vkverrors.LockError, op, err)
	}
	defer unlock()

	tag := int32(binary.LittleEndian.Uint32(v.data[base : base+4]))
	if tag != int32(version) {
		binary.LittleEndian.PutUint32(v.data[base:base+4], uint32(version))
	}

	valOff := base + 4
	cur := int64(binary.LittleEndian.Uint64(v.data[valOff : valOff+8]))
	if cur != expected {
		return false, nil
	}
	binary.LittleEndian.PutUint64(v.data[valOff:valOff+8], uint64(next))
	if err := v.flush(base, recordSize); err != nil {
		v.log.Warn("fvr: flush failed for version %d: %v", version, err)
		return false, nil
	}
	return true, nil
}

// TryLockMeta acquires the non-blocking exclusive advisory lock on the
// current-version field for callers implementing custom multi-step
// critical sections. ok is false, with a nil error, when another process
// holds the range; a LockError means a real I/O failure.
func (v *FVR) TryLockMeta() (unlock func(), ok bool, err error) {
	u, err := v.lockRange(0, metaSize)
	if err != nil {
		if errors.Is(err, errLockContended) {
			return nil, false, nil
		}
		return nil, false, vkverrors.New(vkverrors.LockError, "fvr.try_lock_meta", err)
	}
	return u, true, nil
}

// TryLockRecord acquires the non-blocking exclusive advisory lock on
// version's 12-byte record, with the same contention-vs-error split as
// TryLockMeta.
func (v *FVR) TryLockRecord(version int) (unlock func(), ok bool, err error) {
	if version < 1 || version > v.r {
		return nil, false, vkverrors.New(vkverrors.ArgumentError, "fvr.try_lock_record", fmt.Errorf("version %d out of range [1,%d]", version, v.r))
	}
	u, err := v.lockRange(int64(recordOffset(version)), recordSize)
	if err != nil {
		if errors.Is(err, errLockContended) {
			return nil, false, nil
		}
		return nil, false, vkverrors.New(vkverrors.LockError, "fvr.try_lock_record", err)
	}
	return u, true, nil
}

// errLockContended reports that another process holds the byte range. The
// CAS paths translate it into a plain miss rather than a LockError, since
// contention is the expected outcome of two writers racing, not a fault.
var errLockContended = errors.New("byte range held by another process")

// lockRange acquires a non-blocking exclusive byte-range advisory lock over
// [start, start+length) on the underlying file descriptor. Contention is
// reported as errLockContended; any other failure is a real I/O error. The
// returned func releases the lock; it is always safe to call exactly once.
func (v *FVR) lockRange(start int64, length int) (func(), error) {
	lock := unix.Flock_t{
		Type:   unix.F_WRLCK,
		Whence: int16(os.SEEK_SET),
		Start:  start,
		Len:    int64(length),
	}
	if err := unix.FcntlFlock(v.f.Fd(), unix.F_SETLK, &lock); err != nil {
		// F_SETLK reports a held lock as EAGAIN (or EACCES on some
		// systems), per fcntl(2).
		if err == unix.EAGAIN || err == unix.EACCES {
			return nil, errLockContended
		}
		return nil, err
	}
	return func() {
		unlock := unix.Flock_t{
			Type:   unix.F_UNLCK,
			Whence: int16(os.SEEK_SET),
			Start:  start,
			Len:    int64(length),
		}
		if err := unix.FcntlFlock(v.f.Fd(), unix.F_SETLK, &unlock); err != nil {
			v.log.Warn("fvr: failed to release byte-range lock [%d,%d): %v", start, start+int64(length), err)
		}
	}, nil
}

// flush durably propagates mapped writes in [off, off+n) to the backing
// file so cooperating processes observe them after a meta/record CAS.
// msync(2) requires a page-aligned start address, so the synced range begins
// at the page boundary containing off.
func (v *FVR) flush(off, n int) error {
	start := off &^ (os.Getpagesize() - 1)
	return unix.Msync(v.data[start:off+n], unix.MS_SYNC)
}

// Close unmaps and closes the underlying file. Idempotent.
func (v *FVR) Close() error {
	if v.data == nil {
		return nil
	}
	err := unix.Munmap(v.data)
	v.data = nil
	if cerr := v.f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return vkverrors.New(vkverrors.IoError, "fvr.close", err)
	}
	return nil
}
