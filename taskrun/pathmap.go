package taskrun

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParseCapture splits a declared output path into its capture kind and the
// marker-free container-internal path.
func ParseCapture(declared string) (CaptureKind, string) {
	switch {
	case strings.HasPrefix(declared, logMarker):
		return CaptureLog, strings.TrimLeft(declared, ">")
	case strings.HasPrefix(declared, stdoutMarker):
		return CaptureStdout, strings.TrimLeft(declared, ">")
	default:
		return CaptureNone, declared
	}
}

// NamesADirectory reports whether a path names a directory tree rather than
// a file (even in storage, existing or yet to be created) by checking for a
// trailing separator.
func NamesADirectory(path string) bool {
	return strings.HasSuffix(path, "/")
}

// PathMapper rebases container-internal paths from the task's
// internal_prefix onto new roots: the storage prefix, or a local staging
// root.
type PathMapper struct {
	internalPrefix string
}

func NewPathMapper(internalPrefix string) *PathMapper {
	return &PathMapper{internalPrefix: internalPrefix}
}

// Rebase strips any capture marker, computes the path relative to the
// internal prefix, and joins it onto newRoot, keeping the trailing
// separator of directory paths. A result containing ".." means the internal
// path does not fall under the internal prefix; that is a hard
// configuration error, not a retryable condition.
func (m *PathMapper) Rebase(internalPath, newRoot string) (string, error) {
	_, core := ParseCapture(internalPath)

	rel, err := filepath.Rel(m.internalPrefix, core)
	if err != nil {
		return "", fmt.Errorf("cannot rebase %q from prefix %q: %w", core, m.internalPrefix, err)
	}
	// Join would clean the ".." segments away, so the escape check must run
	// on the relative path.
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("storage I/O path %q escapes the internal prefix %q", core, m.internalPrefix)
	}

	rebased := filepath.Join(newRoot, rel)

	if NamesADirectory(core) && !NamesADirectory(rebased) {
		rebased += "/"
	}
	return rebased, nil
}
