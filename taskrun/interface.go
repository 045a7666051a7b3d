package taskrun

import (
	"context"
	"fmt"
	"os"
	"time"
)

// TaskSpec declares one containerized task. It is read-only input: the
// runner never mutates it.
type TaskSpec struct {
	// Name identifies the task in logs and error messages.
	Name string `yaml:"name"`

	// Image is the container image reference, e.g.
	// "gcr.io/my-project/my-code" or "python:3.11-slim". A reference
	// without a tag gets ":latest", which is merely the default tag name
	// and says nothing about freshness.
	Image string `yaml:"image"`

	// Command is the shell command tokens to run in the container.
	Command []string `yaml:"command"`

	// InternalPrefix is the base path inside the container for inputs and
	// outputs; each declared path is rebased from it onto the storage and
	// staging roots.
	InternalPrefix string `yaml:"internal_prefix"`

	// StoragePrefix is the durable-storage base path ("bucket/base/path")
	// for inputs and outputs.
	StoragePrefix string `yaml:"storage_prefix"`

	// Inputs and Outputs are container-internal paths. A path ending in a
	// separator names a directory tree; anything else names a file. The
	// object store is flat, so the trailing separator is the only
	// directory signal. An output path may carry a capture marker: ">"
	// captures stdout + stderr, ">>" captures a log of stdout + stderr
	// plus run metadata and is written even when the task fails.
	Inputs  []string `yaml:"inputs,omitempty"`
	Outputs []string `yaml:"outputs,omitempty"`

	// TimeoutSec bounds the run's wall-clock time; 0 means the default.
	TimeoutSec int `yaml:"timeout_sec,omitempty"`
}

// DefaultTimeout is the task timeout applied when a spec does not set one.
const DefaultTimeout = time.Hour

func (s *TaskSpec) validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("task spec is missing a name")
	case s.Image == "":
		return fmt.Errorf("task %q is missing an image", s.Name)
	case len(s.Command) == 0:
		return fmt.Errorf("task %q is missing a command", s.Name)
	case s.InternalPrefix == "":
		return fmt.Errorf("task %q is missing an internal_prefix", s.Name)
	case s.StoragePrefix == "":
		return fmt.Errorf("task %q is missing a storage_prefix", s.Name)
	}
	return nil
}

// CaptureKind classifies a declared output path: an ordinary bind-mounted
// file or tree, a stdout + stderr capture, or an always-written log capture.
type CaptureKind int

const (
	CaptureNone CaptureKind = iota
	CaptureStdout
	CaptureLog
)

// Capture markers on declared output paths, decoded once during mount
// planning and never re-parsed downstream.
const (
	stdoutMarker = ">"
	logMarker    = ">>"
)

// BindMount maps a local staging path into the container.
type BindMount struct {
	Source string // local path
	Target string // container-internal path
}

// PathMapping ties one declared container-internal path to its local
// staging location and its storage key. Mount is nil for capture mappings:
// captures are written locally after the run, not inside the container.
type PathMapping struct {
	Kind        CaptureKind
	LocalPrefix string // staging root for this mapping's group
	Local       string // absolute local path, file or directory
	SubPath     string // path relative to the storage prefix (the storage key)
	Mount       *BindMount
}

// ExecutionResult is the outcome of one Execute call. It is created once
// per call and never mutated after Execute returns.
type ExecutionResult struct {
	Elapsed   time.Duration
	ExitCode  int
	TimedOut  bool
	OOMKilled bool
	Lines     []string // captured stdout + stderr lines, in arrival order
	Errors    []string // human-readable error strings, in discovery order
}

// Success reports whether the run completed with no recorded errors.
func (r *ExecutionResult) Success() bool { return len(r.Errors) == 0 }

// ContainerState is the runtime-reported final state of a container.
type ContainerState struct {
	Running   bool
	OOMKilled bool
}

// LogSink consumes one decoded log line at a time, in stream order. Lines
// keep their trailing newline when the stream provides one.
type LogSink func(line string)

// ContainerClient is the container-runtime contract the runner consumes.
// Implementations must be safe for concurrent use: the watchdog calls
// ForceStop from its timer goroutine while the main flow streams logs.
type ContainerClient interface {
	// PullImage pulls the image and returns its ID. Failing to reach the
	// runtime at all is the caller's one fatal setup error.
	PullImage(ctx context.Context, ref string) (imageID string, err error)

	// Run starts a detached container and returns its ID.
	Run(ctx context.Context, imageID string, command []string, user string, mounts []BindMount) (containerID string, err error)

	// StreamLogs feeds the combined stdout + stderr stream to sink, one
	// line at a time, blocking until the container exits and the runtime
	// closes the stream. The stream is finite and not restartable.
	StreamLogs(ctx context.Context, containerID string, sink LogSink) error

	// Wait returns the container's exit code, giving up after timeout.
	Wait(ctx context.Context, containerID string, timeout time.Duration) (exitCode int, err error)

	// ForceStop stops a running container. Stopping an already-exited
	// container returns an error the caller may ignore.
	ForceStop(ctx context.Context, containerID string) error

	// Inspect reports the container's current state.
	Inspect(ctx context.Context, containerID string) (ContainerState, error)

	// Remove force-removes the container.
	Remove(ctx context.Context, containerID string) error
}

// ObjectStore is the durable-storage contract. A storage path is
// "bucket/key..."; a trailing separator marks an enumerable prefix (a
// directory tree) rather than a single object. Transfers are "as", not
// "into": a file downloads as localPath, a tree's objects land under it.
type ObjectStore interface {
	DownloadTree(ctx context.Context, storagePath, localPath string) error
	UploadTree(ctx context.Context, localPath, storagePath string) error
}

// FileSystem defines the file system operations the runner stages through.
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	EnsureFile(path string) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations.
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// EnsureFile creates an empty file if none exists, leaving an existing one
// alone. Pre-creating staging files lets the container runtime distinguish
// file binds from directory binds.
func (RealFileSystem) EnsureFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, FilePermission)
	if err != nil {
		return err
	}
	return f.Close()
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// File permission constants
const (
	DirPermission  = 0755
	FilePermission = 0644
)
