// Package dbname validates logical database names, each of which maps 1:1
// onto a data-root subdirectory. ValidateDBName exists to keep a
// caller-supplied name from escaping <data_root> and, unlike a bare
// path-traversal check, from colliding with the reserved on-disk entries the
// FVR/VSM layer itself creates one level below that directory.
package dbname

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	vkverrors "github.com/kartikbazzad/vkvstore/internal/errors"
)

const (
	// MaxNameBytes bounds a database name well under common filesystem
	// NAME_MAX limits (255 on ext4/APFS/NTFS). Unlike the per-version
	// "_temp_vN_ts" scratch directories, which live one level below it, the
	// name itself never gets a suffix appended, so no extra headroom is
	// needed beyond a conservative cap.
	MaxNameBytes = 64

	// reservedTempPrefix is the scratch-directory naming scheme WriteOnce
	// uses one level below a database's own directory
	// ("_temp_v<v>_<ts>"). A database literally named with this prefix would
	// be indistinguishable from an orphaned scratch directory to any
	// data-root-level sweep (MDM.EnforceDiskQuota walks every subdirectory
	// of data_dir, and an operator's external tooling may do the same), so
	// it is reserved outright.
	reservedTempPrefix = "_temp_v"

	// reservedFVRName is the FVR's own on-disk file name.
	// fvr.Open resolves its path as "dir/_VERSION" unless dir's basename is
	// already "_VERSION", in which case it treats dir itself as the record
	// file. A database named exactly this would make its own directory
	// ambiguous with that special case, so it is rejected.
	reservedFVRName = "_VERSION"
)

// validNamePattern is an allowlist rather than the denylist a path-traversal
// check alone would give: a database name is used as a bare path component
// with no further escaping, and forbidding only the handful of sequences that
// matter for traversal ('/', '\', "..") still leaves room for OS-reserved or
// shell-hostile bytes that were never enumerated. Instead only ASCII
// letters, digits, '-', '_', and '.' are accepted.
var validNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateDBName reports whether name is safe to use as the final path
// component of <data_root>/<name>/. It rejects: empty or non-UTF-8 input,
// names over MaxNameBytes, names containing anything outside
// [A-Za-z0-9_.-], names starting/ending in '.' (hidden-file ambiguity, and
// rules out "." and ".." outright), and names that would collide with a
// reserved on-disk entry the core creates inside a database directory:
// "_VERSION", anything starting with "_temp_v", or a purely numeric name
// (indistinguishable from a version directory to a data-root-level sweep).
func ValidateDBName(name string) error {
	const op = "dbname.ValidateDBName"

	if name == "" {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name cannot be empty"))
	}
	if !utf8.ValidString(name) {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name must be valid UTF-8"))
	}
	if len(name) > MaxNameBytes {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name exceeds maximum length of %d bytes", MaxNameBytes))
	}
	if !validNamePattern.MatchString(name) {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name %q must match [A-Za-z0-9_.-]+", name))
	}
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name cannot start or end with '.'"))
	}

	if name == reservedFVRName {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name %q is reserved for the FVR file", name))
	}
	if strings.HasPrefix(name, reservedTempPrefix) {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name cannot start with reserved prefix %q", reservedTempPrefix))
	}
	if _, err := strconv.Atoi(name); err == nil {
		return vkverrors.New(vkverrors.ArgumentError, op, fmt.Errorf("database name %q cannot be purely numeric (ambiguous with a version directory)", name))
	}

	return nil
}
