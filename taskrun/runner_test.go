package taskrun

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testSpec() *TaskSpec {
	return &TaskSpec{
		Name:           "demo",
		Image:          "python:3.11-slim",
		Command:        []string{"echo", "hi"},
		InternalPrefix: "/data",
		StoragePrefix:  "bucket/run1",
	}
}

func TestContainerRunSuccess(t *testing.T) {
	client := newMockContainerClient()
	client.lines = []string{"hello\n", "world\n"}
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	assert.Empty(t, report.Errors)
	assert.Equal(t, 0, report.ExitCode)
	assert.False(t, report.TimedOut)
	assert.False(t, report.OOMKilled)
	assert.Equal(t, []string{"hello\n", "world\n"}, report.Lines)
	assert.Positive(t, report.Elapsed)
	assert.Equal(t, 1, client.removeCalls)
}

func TestContainerRunStartFailure(t *testing.T) {
	client := newMockContainerClient()
	client.runErr = errors.New("no such image")
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "failed to start the container")
	// Nothing to remove: the container never started.
	assert.Equal(t, 0, client.removeCalls)
}

func TestContainerRunAnnotatesKillExitCode(t *testing.T) {
	client := newMockContainerClient()
	client.waitExit = 137
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	assert.Equal(t, 137, report.ExitCode)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "task exit code 137 (SIGKILL)", report.Errors[0])
}

func TestContainerRunPlainNonZeroExit(t *testing.T) {
	client := newMockContainerClient()
	client.waitExit = 2
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	require.Len(t, report.Errors, 1)
	assert.Equal(t, "task exit code 2", report.Errors[0])
}

func TestContainerRunReportsOOM(t *testing.T) {
	client := newMockContainerClient()
	client.waitExit = 137
	client.inspect = ContainerState{OOMKilled: true}
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	assert.True(t, report.OOMKilled)
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[1], "ran out of memory")
}

func TestContainerRunWaitFailureIsRecorded(t *testing.T) {
	client := newMockContainerClient()
	client.waitErr = errors.New("wait timed out")
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "failed to get the exit code")
	assert.Equal(t, 1, client.removeCalls)
}

func TestContainerRunInspectFailureIsSoft(t *testing.T) {
	client := newMockContainerClient()
	client.inspectErr = errors.New("daemon hiccup")
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	// Without the final state the OOM flag just stays unset.
	assert.Empty(t, report.Errors)
	assert.False(t, report.OOMKilled)
}

func TestContainerRunTimeout(t *testing.T) {
	client := newMockContainerClient()
	client.lines = []string{"working...\n"}
	client.blockStream = true
	client.waitExit = 137
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, 20*time.Millisecond)

	assert.True(t, report.TimedOut)
	assert.Contains(t, report.Errors, "task timeout")
	assert.Contains(t, report.Errors, "task exit code 137 (SIGKILL)")
	assert.Equal(t, []string{"working...\n"}, report.Lines)
	assert.Equal(t, 1, client.removeCalls)
}

func TestContainerRunStreamFailureIsRecorded(t *testing.T) {
	client := newMockContainerClient()
	client.streamErr = errors.New("connection reset")
	runner := NewContainerRunner(client, zaptest.NewLogger(t))

	report := runner.Run(context.Background(), testSpec(), "sha256:abc123", nil, time.Minute)

	require.NotEmpty(t, report.Errors)
	assert.Contains(t, report.Errors[0], "log streaming broke off")
}

func TestContainerRunPassesUserAndMounts(t *testing.T) {
	client := newMockContainerClient()
	runner := NewContainerRunner(client, zaptest.NewLogger(t))
	mounts := []BindMount{{Source: "/staging/inputs/in.txt", Target: "/data/in.txt"}}

	runner.Run(context.Background(), testSpec(), "sha256:abc123", mounts, time.Minute)

	assert.Equal(t, uidGID(), client.runUser)
	assert.Equal(t, mounts, client.runMounts)
}
