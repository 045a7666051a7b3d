package taskrun

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockFileSystem implements FileSystem for testing
type MockFileSystem struct {
	mkdirAllErrors  map[string]error
	ensureFileErrs  map[string]error
	writeFileErrors map[string]error
	removeAllErr    error

	mkdirAllCalls  []string
	ensureFiles    []string
	writeFileData  map[string][]byte
	removeAllCalls []string
}

func (m *MockFileSystem) MkdirAll(path string, _ os.FileMode) error {
	m.mkdirAllCalls = append(m.mkdirAllCalls, path)
	if err, exists := m.mkdirAllErrors[path]; exists {
		return err
	}
	return nil
}

func (m *MockFileSystem) EnsureFile(path string) error {
	m.ensureFiles = append(m.ensureFiles, path)
	if err, exists := m.ensureFileErrs[path]; exists {
		return err
	}
	return nil
}

func (m *MockFileSystem) WriteFile(filename string, data []byte, _ os.FileMode) error {
	if err, exists := m.writeFileErrors[filename]; exists {
		return err
	}
	if m.writeFileData == nil {
		m.writeFileData = make(map[string][]byte)
	}
	m.writeFileData[filename] = data
	return nil
}

func (m *MockFileSystem) RemoveAll(path string) error {
	m.removeAllCalls = append(m.removeAllCalls, path)
	return m.removeAllErr
}

// MockObjectStore implements ObjectStore for testing. It records every
// attempted transfer, including the failed ones.
type MockObjectStore struct {
	downloadErrors map[string]error
	uploadErrors   map[string]error

	downloads map[string]string // storagePath -> localPath
	uploads   map[string]string // storagePath -> localPath
}

func (m *MockObjectStore) DownloadTree(_ context.Context, storagePath, localPath string) error {
	if m.downloads == nil {
		m.downloads = make(map[string]string)
	}
	m.downloads[storagePath] = localPath
	if err, exists := m.downloadErrors[storagePath]; exists {
		return err
	}
	return nil
}

func (m *MockObjectStore) UploadTree(_ context.Context, localPath, storagePath string) error {
	if m.uploads == nil {
		m.uploads = make(map[string]string)
	}
	m.uploads[storagePath] = localPath
	if err, exists := m.uploadErrors[storagePath]; exists {
		return err
	}
	return nil
}

// MockContainerClient implements ContainerClient for testing. The watchdog
// calls ForceStop from its timer goroutine, so the mock is mutex-guarded.
type MockContainerClient struct {
	mu sync.Mutex

	pullImageID string
	pullErr     error
	containerID string
	runErr      error
	lines       []string
	streamErr   error
	// blockStream makes StreamLogs wait for ForceStop before returning,
	// imitating a container that runs until stopped.
	blockStream bool
	waitExit    int
	waitErr     error
	stopErr     error
	inspect     ContainerState
	inspectErr  error
	removeErr   error

	stopped     chan struct{}
	stopClosed  bool
	pullCalls   int
	runCalls    int
	stopCalls   int
	removeCalls int
	runUser     string
	runMounts   []BindMount
}

func newMockContainerClient() *MockContainerClient {
	return &MockContainerClient{
		pullImageID: "sha256:abc123",
		containerID: "container-1",
		stopped:     make(chan struct{}),
	}
}

func (m *MockContainerClient) PullImage(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pullCalls++
	return m.pullImageID, m.pullErr
}

func (m *MockContainerClient) Run(_ context.Context, _ string, _ []string, user string, mounts []BindMount) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCalls++
	m.runUser = user
	m.runMounts = mounts
	return m.containerID, m.runErr
}

func (m *MockContainerClient) StreamLogs(_ context.Context, _ string, sink LogSink) error {
	m.mu.Lock()
	lines := m.lines
	block := m.blockStream
	m.mu.Unlock()

	for _, line := range lines {
		sink(line)
	}
	if block {
		<-m.stopped
	}
	return m.streamErr
}

func (m *MockContainerClient) Wait(_ context.Context, _ string, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitExit, m.waitErr
}

func (m *MockContainerClient) ForceStop(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	if m.stopErr != nil {
		return m.stopErr
	}
	if !m.stopClosed {
		close(m.stopped)
		m.stopClosed = true
	}
	return nil
}

func (m *MockContainerClient) Inspect(_ context.Context, _ string) (ContainerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inspect, m.inspectErr
}

func (m *MockContainerClient) Remove(_ context.Context, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls++
	return m.removeErr
}

func (m *MockContainerClient) ForceStopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

func TestTaskSpecValidate(t *testing.T) {
	valid := func() *TaskSpec {
		return &TaskSpec{
			Name:           "demo",
			Image:          "python:3.11-slim",
			Command:        []string{"echo", "hi"},
			InternalPrefix: "/data",
			StoragePrefix:  "bucket/run1",
		}
	}

	t.Run("Valid", func(t *testing.T) {
		require.NoError(t, valid().validate())
	})

	t.Run("MissingName", func(t *testing.T) {
		spec := valid()
		spec.Name = ""
		err := spec.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing a name")
	})

	t.Run("MissingImage", func(t *testing.T) {
		spec := valid()
		spec.Image = ""
		err := spec.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing an image")
	})

	t.Run("MissingCommand", func(t *testing.T) {
		spec := valid()
		spec.Command = nil
		err := spec.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing a command")
	})

	t.Run("MissingInternalPrefix", func(t *testing.T) {
		spec := valid()
		spec.InternalPrefix = ""
		err := spec.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing an internal_prefix")
	})

	t.Run("MissingStoragePrefix", func(t *testing.T) {
		spec := valid()
		spec.StoragePrefix = ""
		err := spec.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing a storage_prefix")
	})
}

func TestExecutionResultSuccess(t *testing.T) {
	assert.True(t, (&ExecutionResult{}).Success())
	assert.False(t, (&ExecutionResult{Errors: []string{"task timeout"}}).Success())
}

func TestRealFileSystemEnsureFile(t *testing.T) {
	fs := RealFileSystem{}
	dir := t.TempDir()

	t.Run("CreatesMissingFile", func(t *testing.T) {
		path := filepath.Join(dir, "fresh.txt")
		require.NoError(t, fs.EnsureFile(path))
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())
	})

	t.Run("LeavesExistingContentAlone", func(t *testing.T) {
		path := filepath.Join(dir, "existing.txt")
		require.NoError(t, os.WriteFile(path, []byte("keep me"), 0644))
		require.NoError(t, fs.EnsureFile(path))
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "keep me", string(data))
	})
}
