// Package taskrun executes storage-staged tasks in isolated containers.
//
// The taskrun package implements the execution engine for running a declared
// shell command inside a Docker container, pulling input files from durable
// object storage into a local staging area beforehand and pushing declared
// outputs back afterward. A watchdog timer force-stops runs that exceed
// their timeout, and a per-run log of stdout + stderr is captured so even a
// failed run leaves a durable record of what happened.
//
// The package defines the ContainerClient and ObjectStore collaborator
// contracts and composes PathMapper, MountPlanner, StorageSync, Watchdog,
// ContainerRunner and OutputPolicy behind the single TaskRunner entry point.
//
// Usage:
//
//	runner := taskrun.New(containers, store, "/tmp/taskdock", logger)
//	result, err := runner.Execute(ctx, &taskrun.TaskSpec{
//	    Name:           "sim-42",
//	    Image:          "gcr.io/my-project/my-code",
//	    Command:        []string{"python", "sim.py"},
//	    InternalPrefix: "/data",
//	    StoragePrefix:  "my-bucket/runs/42",
//	    Inputs:         []string{"/data/config.json"},
//	    Outputs:        []string{"/data/out/", ">>/data/task.log"},
//	})
package taskrun
