// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/nexa/internal/log"
	"github.com/ManuGH/nexa/internal/procgroup"
)

// killGrace is how long SIGTERM gets before SIGKILL follows.
const killGrace = 2 * time.Second

// Progress is one parsed frame of the -progress pipe.
type Progress struct {
	OutTimeMs int64
	TotalSize int64
	Speed     float64
	Done      bool
}

// Runner supervises one FFmpeg process: stderr ring buffer, -progress
// parsing, and two-phase termination. One Runner per transcode job or
// subtitle extraction; it is not reusable.
type Runner struct {
	bin  string
	args []string

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool

	ring *lineRing
	log  zerolog.Logger

	// OnProgress, when set before Start, receives parsed progress frames.
	OnProgress func(Progress)
}

// NewRunner prepares a runner; Start actually spawns the process.
func NewRunner(bin string, args []string) *Runner {
	return &Runner{
		bin:  bin,
		args: args,
		ring: newLineRing(64),
		log:  log.WithComponent("ffmpeg-runner"),
	}
}

// Start spawns the process. The -progress pipe rides stdout when OnProgress
// is set; stderr always feeds the ring buffer.
func (r *Runner) Start(ctx context.Context) (pid int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return 0, fmt.Errorf("runner already started")
	}

	args := r.args
	if r.OnProgress != nil {
		args = append([]string{"-progress", "pipe:1", "-nostats"}, args...)
	}
	cmd := exec.CommandContext(ctx, r.bin, args...)
	// Own process group, so Stop reaches forked helper processes too.
	procgroup.Set(cmd)
	cmd.Cancel = func() error {
		// Context cancellation goes through the same two-phase kill.
		return procgroup.Signal(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, err
	}
	var stdout io.ReadCloser
	if r.OnProgress != nil {
		if stdout, err = cmd.StdoutPipe(); err != nil {
			return 0, err
		}
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", r.bin, err)
	}
	r.cmd = cmd
	r.started = true

	go r.consumeStderr(stderr)
	if stdout != nil {
		go r.consumeProgress(stdout)
	}
	return cmd.Process.Pid, nil
}

// Wait blocks until the process exits and returns its exit code.
func (r *Runner) Wait() (int, error) {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil {
		return -1, fmt.Errorf("runner not started")
	}

	err := cmd.Wait()
	code := cmd.ProcessState.ExitCode()
	if err != nil && code != 0 {
		lines := r.ring.LastN(10)
		if len(lines) > 0 {
			r.log.Error().Int("exit_code", code).Strs("stderr", lines).Msg("ffmpeg process failed")
		}
	}
	return code, err
}

// Stop terminates the process: SIGTERM, wait up to the grace window, then
// SIGKILL. It returns only after the OS confirms exit.
func (r *Runner) Stop() error {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if cmd.ProcessState != nil {
		return nil // already exited
	}

	if err := procgroup.Signal(cmd, syscall.SIGTERM); err != nil {
		// ESRCH means the process is already gone.
		return nil //nolint:nilerr
	}

	done := make(chan struct{})
	go func() {
		_, _ = cmd.Process.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(killGrace):
		_ = procgroup.Signal(cmd, syscall.SIGKILL)
		<-done
	}
	return nil
}

// LastLogLines returns up to n recent stderr lines for diagnostics.
func (r *Runner) LastLogLines(n int) []string {
	return r.ring.LastN(n)
}

func (r *Runner) consumeStderr(pipe io.Reader) {
	sc := bufio.NewScanner(pipe)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		r.ring.Append(sc.Text())
	}
}

func (r *Runner) consumeProgress(pipe io.Reader) {
	var cur Progress
	sc := bufio.NewScanner(pipe)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "out_time_ms":
			// ffmpeg reports microseconds despite the name.
			if us, err := strconv.ParseInt(val, 10, 64); err == nil {
				cur.OutTimeMs = us / 1000
			}
		case "total_size":
			if n, err := strconv.ParseInt(val, 10, 64); err == nil {
				cur.TotalSize = n
			}
		case "speed":
			if f, err := strconv.ParseFloat(strings.TrimSuffix(val, "x"), 64); err == nil {
				cur.Speed = f
			}
		case "progress":
			cur.Done = val == "end"
			if r.OnProgress != nil {
				r.OnProgress(cur)
			}
		}
	}
}

// lineRing keeps the last capacity lines of process output.
type lineRing struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newLineRing(capacity int) *lineRing {
	return &lineRing{lines: make([]string, capacity)}
}

func (l *lineRing) Append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines[l.next] = line
	l.next = (l.next + 1) % len(l.lines)
	if l.next == 0 {
		l.full = true
	}
}

// LastN returns up to n lines, oldest first.
func (l *lineRing) LastN(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = len(l.lines)
	}
	if n > size {
		n = size
	}
	out := make([]string, 0, n)
	start := l.next - n
	if start < 0 {
		start += len(l.lines)
	}
	for i := 0; i < n; i++ {
		out = append(out, l.lines[(start+i)%len(l.lines)])
	}
	return out
}
