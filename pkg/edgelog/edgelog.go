// Package edgelog controls the external edge-logger subprocess: the
// replay/capture binary that feeds raw vehicle logs into the pipeline.
// The process is driven over its standard input and terminated with a
// bounded grace period.
package edgelog

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"sync"
	"time"
)

// Status of the managed subprocess.
type Status int

const (
	StatusNotRunning Status = iota
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return "not_running"
	}
}

var (
	// ErrAlreadyRunning is returned by Start when the logger is running.
	ErrAlreadyRunning = errors.New("edgelog: logger already running")

	// ErrNotRunning is returned by operations that need a live logger.
	ErrNotRunning = errors.New("edgelog: logger not running")
)

// Handle owns the logger subprocess lifecycle. Operations invalid in the
// current state are rejected instead of best-effort ignored.
type Handle struct {
	mu sync.Mutex

	path string
	args []string

	gracePeriod time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	done   chan struct{}
	status Status
}

// New creates a handle for the logger binary at path. Nothing is started.
func New(path string, args ...string) *Handle {
	return &Handle{
		path:        path,
		args:        args,
		gracePeriod: 5 * time.Second,
	}
}

// Status returns the current lifecycle state.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Start launches the subprocess. Rejected if it is already running or
// still stopping.
func (h *Handle) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusNotRunning {
		return ErrAlreadyRunning
	}

	cmd := exec.Command(h.path, h.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("edgelog: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		return fmt.Errorf("edgelog: start %s: %w", h.path, err)
	}

	done := make(chan struct{})
	h.cmd = cmd
	h.stdin = stdin
	h.done = done
	h.status = StatusRunning
	log.Printf("Edge logger started (pid %d)", cmd.Process.Pid)

	// Reap the process whenever it exits, whether we stopped it or it
	// died on its own.
	go func() {
		err := cmd.Wait()
		close(done)

		h.mu.Lock()
		if h.cmd == cmd {
			h.cmd = nil
			h.stdin = nil
			h.status = StatusNotRunning
		}
		h.mu.Unlock()

		if err != nil {
			log.Printf("Edge logger exited: %v", err)
		} else {
			log.Println("Edge logger exited cleanly")
		}
	}()

	return nil
}

// Stop terminates the subprocess: SIGTERM, a bounded grace period, then
// SIGKILL. Rejected if the logger is not running.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if h.status != StatusRunning {
		h.mu.Unlock()
		return ErrNotRunning
	}
	h.status = StatusStopping
	cmd := h.cmd
	done := h.done
	grace := h.gracePeriod
	h.mu.Unlock()

	if err := cmd.Process.Signal(terminateSignal); err != nil {
		// Process may have just exited on its own.
		log.Printf("Edge logger signal failed: %v", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		log.Printf("Edge logger did not exit within %v, killing", grace)
		if err := cmd.Process.Kill(); err != nil {
			return fmt.Errorf("edgelog: kill: %w", err)
		}
		<-done
		return nil
	}
}

// SetOffline toggles the logger's offline buffering mode by writing a
// control line to its standard input.
func (h *Handle) SetOffline(offline bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.status != StatusRunning {
		return ErrNotRunning
	}

	line := "ONLINE\n"
	if offline {
		line = "OFFLINE\n"
	}
	if _, err := io.WriteString(h.stdin, line); err != nil {
		return fmt.Errorf("edgelog: write control line: %w", err)
	}
	return nil
}
