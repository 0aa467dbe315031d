// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process provides abstractions for external process execution and
inter-process synchronization.

# Overview

This package contains two main components:

  - Runner: executes external commands described by an Invocation and
    reports every outcome as a Result
  - Lock: file-based locking that keeps two dev processes from mutating
    the same project at once

# Runner

Every external program the CLI touches (docker, docker compose, git and the
tools inside containers) is reached through the Runner interface, so the
lifecycle logic can be tested with MockRunner and no real containers.

	runner := process.NewDefaultRunner(logger)
	res := runner.Run(ctx, process.Invocation{
	    Step:    "build",
	    Program: "docker",
	    Args:    []string{"compose", "build"},
	    Dir:     projectDir,
	})
	if err := res.AsError(); err != nil {
	    return err
	}

For testing, use MockRunner:

	mock := process.NewMockRunner()
	mock.On("docker compose ps", process.Result{Stdout: "[]"})

# Lock

	lock := process.NewLock(process.LockConfig{LockDir: projectDir, LockName: ".dev"})
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Thread Safety

  - DefaultRunner and MockRunner are safe for concurrent use
  - Lock is NOT safe for concurrent use from multiple goroutines

# Limitations

  - Runner never retries; callers decide what a failure means
  - Lock uses advisory flock(2); other tools can ignore it
*/
package process
