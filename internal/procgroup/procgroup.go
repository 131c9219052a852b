// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package procgroup starts child processes in their own process group so
// termination reaches the whole tree, not just the direct child. FFmpeg
// forks helper processes for some pipelines; signalling only the leader
// would orphan them.
package procgroup

import (
	"os/exec"
	"syscall"
)

// Set configures cmd to run as a process group leader. Must be called
// before cmd.Start for Signal to cover the group.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// Signal delivers sig to cmd's process group. A process that already
// exited is not an error.
func Signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return signal(cmd, sig)
}

// Alive reports whether pid still names a running process.
func Alive(pid int) bool {
	return alive(pid)
}

// SignalPID delivers sig to the group led by pid, or to pid alone when it
// is not a leader. For processes recorded across a restart, where no
// exec.Cmd handle exists anymore.
func SignalPID(pid int, sig syscall.Signal) error {
	return signalPID(pid, sig)
}
