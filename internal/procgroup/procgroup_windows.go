// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build windows

package procgroup

import (
	"os"
	"os/exec"
	"syscall"
)

func set(cmd *exec.Cmd) {
	// Windows has no POSIX process groups; Signal falls back to the
	// direct child.
}

func signal(cmd *exec.Cmd, sig syscall.Signal) error {
	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	// Graceful signals are not deliverable; the caller escalates to
	// SIGKILL after its grace window.
	return nil
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

func signalPID(pid int, sig syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	defer func() { _ = p.Release() }()
	if sig == syscall.SIGKILL {
		return p.Kill()
	}
	return nil
}
