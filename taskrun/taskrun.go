package taskrun

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/taskdock/config"
)

// TaskRunner composes the mount planner, storage sync, container runner and
// output policy into the single Execute entry point.
type TaskRunner struct {
	containers ContainerClient
	store      ObjectStore
	fs         FileSystem
	logger     *zap.Logger

	stagingDir     string
	defaultTimeout time.Duration
	waitTimeout    time.Duration
	now            func() time.Time
}

// Option defines a functional option for TaskRunner
type Option func(*TaskRunner)

// WithFileSystem sets the FileSystem for TaskRunner
func WithFileSystem(fs FileSystem) Option {
	return func(t *TaskRunner) {
		t.fs = fs
	}
}

// WithClock sets the wall clock used for log-file timestamps
func WithClock(now func() time.Time) Option {
	return func(t *TaskRunner) {
		t.now = now
	}
}

// WithDefaultTimeout sets the timeout applied to specs that carry none
func WithDefaultTimeout(d time.Duration) Option {
	return func(t *TaskRunner) {
		t.defaultTimeout = d
	}
}

// WithWaitTimeout bounds the post-run exit-code query
func WithWaitTimeout(d time.Duration) Option {
	return func(t *TaskRunner) {
		t.waitTimeout = d
	}
}

// New creates a TaskRunner with default implementations and optional
// overrides. stagingDir is the base under which each Execute call gets its
// own staging root.
func New(containers ContainerClient, store ObjectStore, stagingDir string, logger *zap.Logger, opts ...Option) *TaskRunner {
	t := &TaskRunner{
		containers:     containers,
		store:          store,
		fs:             RealFileSystem{},
		logger:         logger,
		stagingDir:     stagingDir,
		defaultTimeout: DefaultTimeout,
		waitTimeout:    defaultWaitTimeout,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewFromConfig creates a TaskRunner from the application configuration.
func NewFromConfig(cfg *config.Config, logger *zap.Logger, containers ContainerClient, store ObjectStore) *TaskRunner {
	return New(containers, store, cfg.Staging.Dir, logger,
		WithDefaultTimeout(cfg.DefaultTimeout()),
		WithWaitTimeout(cfg.WaitTimeout()))
}

// Execute runs one task to completion: pull the image, stage inputs from
// storage, run the command in a container with bind-mounted paths under a
// timeout watchdog, write the captures, push the selected outputs back, and
// wipe the staging area.
//
// Setup problems (unreachable runtime, paths escaping the internal prefix,
// a capture path naming a directory) abort immediately. Operational
// problems (pull failure, non-zero exit, timeout, OOM kill, push failure)
// are recorded and the run carries on so the log is still captured; if any
// were recorded, the returned error aggregates them all. The result is
// valid in both cases, and the staging area is wiped no matter what.
func (t *TaskRunner) Execute(ctx context.Context, spec *TaskSpec) (*ExecutionResult, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	result := &ExecutionResult{}
	var failure error
	check := func(ok bool, orError string) {
		if !ok {
			result.Errors = append(result.Errors, orError)
			failure = multierr.Append(failure, errors.New(orError))
		}
	}
	// Setup errors abort the run instead of joining result.Errors, but the
	// epilogue still has to report them as a failure.
	var fatal error

	timeout := time.Duration(spec.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = t.defaultTimeout
	}

	// Each call stages under its own root so concurrent calls never
	// collide.
	staging := filepath.Join(t.stagingDir, "task-"+uuid.NewString())
	startStamp := t.now().Format(logStampLayout)
	elapsed := "---"

	logger := t.logger.With(zap.String("task", spec.Name))
	logger.Warn("STARTING TASK")

	epilogue := func() string {
		status := "SUCCESSFUL"
		if len(result.Errors) > 0 || fatal != nil {
			status = "FAILED"
		}
		msg := fmt.Sprintf("%s task: %s, elapsed %s of timeout %s",
			status, spec.Name, elapsed, timeout)
		if len(result.Errors) > 0 {
			msg += fmt.Sprintf(" %v", result.Errors)
		}
		if fatal != nil {
			msg += fmt.Sprintf(" [%v]", fatal)
		}
		return msg
	}

	defer func() {
		logger.Warn(epilogue())
		// The staging area is wiped no matter how the run went.
		if err := t.fs.RemoveAll(staging); err != nil {
			logger.Error("error wiping the staging area",
				zap.String("path", staging), zap.Error(err))
		}
	}()

	// An unreachable runtime is fatal: nothing was staged and no container
	// exists yet.
	imageID, err := t.containers.PullImage(ctx, spec.Image)
	if err != nil {
		fatal = fmt.Errorf("pulling image %q: %w", spec.Image, err)
		return result, fatal
	}
	logger.Info("pulled image", zap.String("image", spec.Image), zap.String("id", imageID))

	mapper := NewPathMapper(spec.InternalPrefix)
	planner := NewMountPlanner(mapper, t.fs, t.now)
	ins, err := planner.Plan(spec.Inputs, filepath.Join(staging, "inputs"))
	if err != nil {
		fatal = err
		return result, err
	}
	outs, err := planner.Plan(spec.Outputs, filepath.Join(staging, "outputs"))
	if err != nil {
		fatal = err
		return result, err
	}

	// A failed pull is recorded and the run proceeds: the task will likely
	// fail on the missing file, and the captured log will say why.
	sync := NewStorageSync(t.store, logger)
	check(sync.Pull(ctx, spec.StoragePrefix, ins), "failed to fetch inputs from storage")

	mounts := make([]BindMount, 0, len(ins)+len(outs))
	for _, group := range [][]PathMapping{ins, outs} {
		for _, m := range group {
			if m.Mount != nil {
				mounts = append(mounts, *m.Mount)
			}
		}
	}

	runner := &ContainerRunner{client: t.containers, logger: logger, waitTimeout: t.waitTimeout}
	report := runner.Run(ctx, spec, imageID, mounts, timeout)
	result.Elapsed = report.Elapsed
	result.ExitCode = report.ExitCode
	result.TimedOut = report.TimedOut
	result.OOMKilled = report.OOMKilled
	result.Lines = report.Lines
	for _, msg := range report.Errors {
		check(false, msg)
	}
	if report.Elapsed > 0 {
		elapsed = report.Elapsed.Round(time.Millisecond).String()
	}

	// NOTE: the log capture is written before pushing, so it cannot report
	// push failures; the structured log still gets them.
	policy := NewOutputPolicy(t.fs, logger)
	toPush := policy.Select(result.Lines, len(result.Errors) == 0, outs,
		t.prologue(startStamp, spec, imageID), epilogue())
	check(sync.Push(ctx, spec.StoragePrefix, toPush), "failed to store outputs to storage")

	if failure != nil {
		return result, fmt.Errorf("task %s failed: %w", spec.Name, failure)
	}
	return result, nil
}

// prologue renders the header of an always-capture-log file: when the run
// started, the full spec, and the exact image it ran.
func (t *TaskRunner) prologue(startStamp string, spec *TaskSpec, imageID string) string {
	dump, err := yaml.Marshal(spec)
	if err != nil {
		dump = []byte(fmt.Sprintf("%+v\n", spec))
	}
	return fmt.Sprintf("%s task %s\n\n%s\nimage ID: %s", startStamp, spec.Name, dump, imageID)
}
