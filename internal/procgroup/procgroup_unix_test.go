// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

//go:build unix

package procgroup

import (
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSetMakesGroupLeader(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	Set(cmd)
	require.NotNil(t, cmd.SysProcAttr)
	require.True(t, cmd.SysProcAttr.Setpgid)

	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	require.Equal(t, cmd.Process.Pid, pgid)
}

func TestSignalTerminatesGroup(t *testing.T) {
	// The shell and its sleep child share one group; SIGKILL to the
	// group must take both down.
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	Set(cmd)
	require.NoError(t, cmd.Start())

	require.NoError(t, Signal(cmd, syscall.SIGKILL))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived SIGKILL")
	}
}

func TestSignalNilCommandIsNoop(t *testing.T) {
	require.NoError(t, Signal(nil, syscall.SIGTERM))
	require.NoError(t, Signal(&exec.Cmd{}, syscall.SIGTERM))
}

func TestSignalPIDTerminatesGroupByPIDAlone(t *testing.T) {
	// Orphan cleanup only has a recorded PID, no Cmd handle.
	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	Set(cmd)
	require.NoError(t, cmd.Start())

	require.True(t, Alive(cmd.Process.Pid))
	require.NoError(t, SignalPID(cmd.Process.Pid, syscall.SIGKILL))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("process group survived SIGKILL")
	}
	require.False(t, Alive(cmd.Process.Pid))
}

func TestSignalPIDGoneProcessIsNoop(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	require.False(t, Alive(cmd.Process.Pid))
	require.NoError(t, SignalPID(cmd.Process.Pid, syscall.SIGTERM))
}

func TestSignalExitedProcessIsNoop(t *testing.T) {
	cmd := exec.Command("true")
	Set(cmd)
	require.NoError(t, cmd.Run())
	require.NoError(t, Signal(cmd, syscall.SIGTERM))
}
