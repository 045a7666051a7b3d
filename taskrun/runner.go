package taskrun

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// killExitCode is what the kernel reports for a SIGKILLed process, the
// usual sign of the OOM killer or a force-stop.
const killExitCode = 137

// defaultWaitTimeout bounds the exit-code query after the log stream
// closes.
const defaultWaitTimeout = 10 * time.Second

// ContainerRunner owns the container lifecycle for one run: start detached,
// stream logs while the watchdog races them, wait for the exit code,
// inspect the final state, and always remove the container.
type ContainerRunner struct {
	client      ContainerClient
	logger      *zap.Logger
	waitTimeout time.Duration
}

func NewContainerRunner(client ContainerClient, logger *zap.Logger) *ContainerRunner {
	return &ContainerRunner{client: client, logger: logger, waitTimeout: defaultWaitTimeout}
}

// RunReport is the observed outcome of one container run. Its Errors are
// operational: the run carried on past them so the log could still be
// captured.
type RunReport struct {
	Elapsed   time.Duration
	ExitCode  int
	TimedOut  bool
	OOMKilled bool
	Lines     []string
	Errors    []string
}

// Run executes the spec's command in a container of the already-pulled
// image and reports what happened. The container is removed no matter how
// the run went; a removal failure is logged, never reported as a task
// error.
func (r *ContainerRunner) Run(ctx context.Context, spec *TaskSpec, imageID string, mounts []BindMount, timeout time.Duration) RunReport {
	report := RunReport{}
	fail := func(msg string) { report.Errors = append(report.Errors, msg) }

	r.logger.Info("running command", zap.Strings("command", spec.Command))
	start := time.Now()
	containerID, err := r.client.Run(ctx, imageID, spec.Command, uidGID(), mounts)
	if err != nil {
		fail(fmt.Sprintf("failed to start the container: %v", err))
		return report
	}

	defer func() {
		if err := r.client.Remove(context.WithoutCancel(ctx), containerID); err != nil {
			// Troubling but not a task error.
			r.logger.Error("error removing the container", zap.Error(err))
		}
	}()

	// The stream is the one place the flow blocks for the task's whole
	// duration. A watchdog firing force-stops the container, which ends
	// the stream naturally; it never cuts the stream short itself.
	watchdog := StartWatchdog(r.client, containerID, spec.Name, timeout, r.logger)
	streamErr := r.client.StreamLogs(ctx, containerID, func(line string) {
		report.Lines = append(report.Lines, line)
		r.logger.Info(strings.TrimRight(line, "\n"))
	})
	watchdog.Cancel()
	report.Elapsed = time.Since(start)
	if streamErr != nil {
		fail(fmt.Sprintf("log streaming broke off: %v", streamErr))
	}

	exitCode, err := r.client.Wait(ctx, containerID, r.waitTimeout)
	if err != nil {
		fail(fmt.Sprintf("failed to get the exit code: %v", err))
	}
	report.ExitCode = exitCode

	// Timeout, exit code, and OOM are independent, cumulative error
	// conditions.
	if watchdog.Fired() {
		report.TimedOut = true
		fail("task timeout")
	}
	if exitCode != 0 {
		suffix := ""
		if exitCode == killExitCode {
			suffix = " (SIGKILL)"
		}
		fail(fmt.Sprintf("task exit code %d%s", exitCode, suffix))
	}

	state, err := r.client.Inspect(ctx, containerID)
	if err != nil {
		// Best effort: without the final state the OOM flag stays unset.
		r.logger.Warn("could not inspect the final container state", zap.Error(err))
	} else if state.OOMKilled {
		report.OOMKilled = true
		fail("the task ran out of memory (OOMKilled)")
	}

	return report
}

// uidGID returns the calling process's "uid:gid" pair. Running the
// container as this non-root user keeps files it writes into bind mounts
// owned by this user on the host.
func uidGID() string {
	return fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid())
}
