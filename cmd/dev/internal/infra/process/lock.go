// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Locker defines the interface for project-level instance locking.
//
// # Description
//
// Locker keeps two dev processes from mutating the same project at once,
// e.g. `dev nuke` in one terminal tearing down containers that `dev init`
// in another terminal is still starting.
//
// # Thread Safety
//
// Implementations must be safe for use from a single goroutine. The lock
// itself provides inter-process synchronization, not intra-process.
type Locker interface {
	// Acquire attempts to get an exclusive lock without blocking.
	Acquire() error

	// Release releases the lock if held.
	// Safe to call multiple times or if lock was never acquired.
	Release() error

	// IsHeld returns true if this instance currently holds the lock.
	IsHeld() bool

	// HolderPID returns the PID of the process holding the lock, or 0.
	HolderPID() int
}

// LockConfig configures lock file location.
//
// # Example
//
//	config := LockConfig{
//	    LockDir:  "/home/me/stack",
//	    LockName: ".dev",
//	}
type LockConfig struct {
	// LockDir is the directory for lock files.
	// Default: system temp directory
	LockDir string

	// LockName is the base name for lock files.
	// Default: ".dev"
	LockName string
}

// Lock implements Locker using flock(2).
//
// # How It Works
//
//  1. Creates a lock file at {LockDir}/{LockName}.lock
//  2. Attempts a non-blocking exclusive flock on the file
//  3. Writes PID to {LockDir}/{LockName}.pid for diagnostics
//  4. On release, removes the PID file and releases the flock
//
// # Limitations
//
//   - Advisory lock only
//   - NFS and some network filesystems don't support flock properly
//   - The OS releases the flock if the process dies; the PID file may linger
type Lock struct {
	config   LockConfig
	lockPath string
	pidPath  string
	lockFile *os.File
	held     bool
}

// NewLock creates a lock. It does not acquire it.
func NewLock(config LockConfig) *Lock {
	if config.LockDir == "" {
		config.LockDir = os.TempDir()
	}
	if config.LockName == "" {
		config.LockName = ".dev"
	}

	return &Lock{
		config:   config,
		lockPath: filepath.Join(config.LockDir, config.LockName+".lock"),
		pidPath:  filepath.Join(config.LockDir, config.LockName+".pid"),
	}
}

// Acquire attempts to get an exclusive lock.
//
// # Description
//
// Uses a non-blocking flock. If another process holds the lock, returns
// immediately with a *LockHeldError carrying the holder's PID when known.
//
// # Outputs
//
//   - error: nil if acquired, *LockHeldError if held elsewhere, or an I/O error
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}

	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("failed to create lock file %s: %w", l.lockPath, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return &LockHeldError{HolderPID: l.readHolderPID(), LockPath: l.lockPath}
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	l.lockFile = f
	l.held = true

	// PID file is diagnostic only; the flock is what matters.
	_ = os.WriteFile(l.pidPath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)

	return nil
}

// Release removes the PID file and releases the flock.
func (l *Lock) Release() error {
	if !l.held || l.lockFile == nil {
		return nil
	}

	os.Remove(l.pidPath)

	err := unix.Flock(int(l.lockFile.Fd()), unix.LOCK_UN)
	l.lockFile.Close()
	l.lockFile = nil
	l.held = false

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// IsHeld returns true if this instance holds the lock.
func (l *Lock) IsHeld() bool {
	return l.held
}

// HolderPID returns the PID recorded by the current holder, or 0.
func (l *Lock) HolderPID() int {
	return l.readHolderPID()
}

// LockPath returns the path to the lock file.
func (l *Lock) LockPath() string {
	return l.lockPath
}

func (l *Lock) readHolderPID() int {
	data, err := os.ReadFile(l.pidPath)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// LockHeldError is returned when the lock is held by another process.
type LockHeldError struct {
	HolderPID int
	LockPath  string
}

// Error implements the error interface.
func (e *LockHeldError) Error() string {
	if e.HolderPID > 0 {
		return fmt.Sprintf("another dev command is running in this project (PID %d)", e.HolderPID)
	}
	return fmt.Sprintf("another dev command is running in this project (check: lsof %s)", e.LockPath)
}

// Compile-time interface satisfaction check
var _ Locker = (*Lock)(nil)
