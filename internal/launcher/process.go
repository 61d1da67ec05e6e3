package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

const (
	// DefaultTerminationGrace is the SIGTERM window before SIGKILL.
	DefaultTerminationGrace = 2 * time.Second

	defaultForcedExitWait = 2 * time.Second
)

var (
	// ErrStartTimeout reports that the endpoint never appeared within the start timeout.
	ErrStartTimeout = errors.New("editor endpoint did not appear before timeout")
	// ErrExitedEarly reports that the editor exited before binding its endpoint.
	ErrExitedEarly = errors.New("editor exited before binding its endpoint")
)

// Readiness is the outcome of waiting for the editor endpoint.
type Readiness int

const (
	// ReadyOK means the endpoint exists.
	ReadyOK Readiness = iota
	// ReadyTimeout means the start timeout elapsed first.
	ReadyTimeout
	// ReadyExited means the editor process exited first.
	ReadyExited
	// ReadyCanceled means the caller's context ended first.
	ReadyCanceled
)

func (r Readiness) String() string {
	switch r {
	case ReadyOK:
		return "ready"
	case ReadyTimeout:
		return "timeout"
	case ReadyExited:
		return "exited"
	case ReadyCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("readiness(%d)", int(r))
	}
}

// Process is one launched editor.
type Process struct {
	cmd            *exec.Cmd
	terminal       *os.File
	endpoint       string
	signaler       Signaler
	logger         *log.Logger
	forcedExitWait time.Duration

	exited    chan struct{}
	mu        sync.Mutex
	exitErr   error
	exitCode  int
	closeOnce sync.Once
}

func newProcess(cmd *exec.Cmd, terminal *os.File, endpoint string, signaler Signaler, logger *log.Logger) *Process {
	p := &Process{
		cmd:            cmd,
		terminal:       terminal,
		endpoint:       endpoint,
		signaler:       signaler,
		logger:         logger,
		forcedExitWait: defaultForcedExitWait,
		exited:         make(chan struct{}),
		exitCode:       -1,
	}
	go p.wait()
	return p
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	code := p.exitCode
	p.mu.Unlock()

	close(p.exited)
	p.logger.With("pid", p.PID(), "exit_code", code).Debug("editor exited")
}

func (p *Process) drain(out io.Writer) {
	// The copy ends with EIO once the editor closes its side of the pty.
	_, _ = io.Copy(out, p.terminal)
}

// PID returns the editor's process ID.
func (p *Process) PID() int {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Endpoint returns the path the editor was told to listen on.
func (p *Process) Endpoint() string {
	if p == nil {
		return ""
	}
	return p.endpoint
}

// Exited is closed once the editor process has been reaped.
func (p *Process) Exited() <-chan struct{} {
	return p.exited
}

// ExitCode returns the exit status, or -1 while running or when killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// ExitErr returns the error reported by the process wait, if any.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *Process) hasExited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// WaitReady polls for the endpoint every interval until it exists, the editor exits,
// timeout elapses, or ctx ends.
func (p *Process) WaitReady(ctx context.Context, timeout, interval time.Duration) (Readiness, error) {
	if p == nil {
		return ReadyExited, errors.New("process is nil")
	}
	if timeout <= 0 {
		return ReadyTimeout, fmt.Errorf("%w: timeout %s must be > 0", ErrStartTimeout, timeout)
	}
	if interval <= 0 {
		interval = time.Millisecond
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if p.hasExited() {
			return ReadyExited, fmt.Errorf("%w (exit code %d)", ErrExitedEarly, p.ExitCode())
		}
		if EndpointExists(p.endpoint) {
			return ReadyOK, nil
		}

		select {
		case <-ctx.Done():
			return ReadyCanceled, ctx.Err()
		case <-p.exited:
		case <-deadline.C:
			if EndpointExists(p.endpoint) {
				return ReadyOK, nil
			}
			return ReadyTimeout, fmt.Errorf("%w: %s after %s", ErrStartTimeout, p.endpoint, timeout)
		case <-ticker.C:
		}
	}
}

// Terminate applies SIGTERM, waits up to grace, then SIGKILL. It is a no-op once the
// process has exited and may be called repeatedly.
func (p *Process) Terminate(ctx context.Context, grace time.Duration) error {
	if p == nil {
		return nil
	}
	defer p.closeTerminal()

	if p.hasExited() {
		return nil
	}
	if grace <= 0 {
		grace = DefaultTerminationGrace
	}

	pid := p.PID()
	if err := p.signaler.Signal(pid, unix.SIGTERM); err != nil && !isProcessGoneError(err) {
		return fmt.Errorf("send SIGTERM to pid %d: %w", pid, err)
	}

	exited, err := p.waitForExit(ctx, grace)
	if err != nil {
		return fmt.Errorf("wait for pid %d after SIGTERM: %w", pid, err)
	}
	if exited {
		return nil
	}

	p.logger.With("pid", pid, "grace", grace).Warn("editor ignored SIGTERM; sending SIGKILL")
	if err := p.signaler.Signal(pid, unix.SIGKILL); err != nil && !isProcessGoneError(err) {
		return fmt.Errorf("send SIGKILL to pid %d: %w", pid, err)
	}
	exited, err = p.waitForExit(ctx, p.forcedExitWait)
	if err != nil {
		return fmt.Errorf("wait for pid %d after SIGKILL: %w", pid, err)
	}
	if !exited {
		return fmt.Errorf("pid %d still alive after SIGKILL", pid)
	}
	return nil
}

func (p *Process) waitForExit(ctx context.Context, window time.Duration) (bool, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()

	select {
	case <-p.exited:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (p *Process) closeTerminal() {
	p.closeOnce.Do(func() {
		if p.terminal != nil {
			_ = p.terminal.Close()
		}
	})
}

func isProcessGoneError(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, os.ErrProcessDone)
}
