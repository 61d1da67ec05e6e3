// Package editor drives a running Neovim over msgpack-RPC for vroom-style editor tests.
//
// A Session launches the editor, feeds it simulated keystrokes, and reads back
// buffer and cursor state. Query results are memoized until the next command.
package editor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/vroom-nvim/driver/internal/config"
	"github.com/vroom-nvim/driver/internal/launcher"
	"github.com/vroom-nvim/driver/internal/logging"
)

// State is the lifecycle state of a Session.
type State string

const (
	// StateUnstarted is a new session that has not launched the editor.
	StateUnstarted State = "unstarted"
	// StateStarting is held while the editor launches and binds its endpoint.
	StateStarting State = "starting"
	// StateReady accepts commands and queries.
	StateReady State = "ready"
	// StateQuitting is held while a graceful quit is in flight.
	StateQuitting State = "quitting"
	// StateKilled is held while the process is torn down.
	StateKilled State = "killed"
	// StateClosed is terminal.
	StateClosed State = "closed"
)

// Process is a launched editor as seen by the session.
type Process interface {
	WaitReady(ctx context.Context, timeout, interval time.Duration) (launcher.Readiness, error)
	Exited() <-chan struct{}
	Terminate(ctx context.Context, grace time.Duration) error
	PID() int
}

// LaunchFunc starts the editor described by cfg.
type LaunchFunc func(ctx context.Context, cfg config.Session) (Process, error)

// CommandLog records raw commands for diagnostic replay.
type CommandLog interface {
	Log(command string)
}

// Launch adapts a launcher to a LaunchFunc.
func Launch(l *launcher.Launcher) LaunchFunc {
	return func(ctx context.Context, cfg config.Session) (Process, error) {
		proc, err := l.Start(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return proc, nil
	}
}

// Options configures a Session. Zero values select the real launcher, RPC dialer,
// and a transcript that only logs.
type Options struct {
	Launch   LaunchFunc
	Dial     DialFunc
	Logger   *log.Logger
	Commands CommandLog
	Sleep    func(ctx context.Context, d time.Duration) error
}

// Session owns one editor process and its RPC connection.
// It is not safe for concurrent use.
type Session struct {
	cfg      *config.Session
	launch   LaunchFunc
	dial     DialFunc
	logger   *log.Logger
	commands CommandLog
	sleep    func(ctx context.Context, d time.Duration) error

	state   State
	process Process
	client  Client
	cache   resultCache
}

// New validates cfg and returns an unstarted session.
func New(cfg *config.Session, opts Options) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("session config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.With("server", cfg.ServerName)

	launch := opts.Launch
	if launch == nil {
		launch = Launch(launcher.New(launcher.Options{Logger: logger}))
	}

	dial := opts.Dial
	if dial == nil {
		dial = Dialer(logger)
	}

	commands := opts.Commands
	if commands == nil {
		commands = logging.NewTranscript(nil, logger)
	}

	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Session{
		cfg:      cfg,
		launch:   launch,
		dial:     dial,
		logger:   logger,
		commands: commands,
		sleep:    sleep,
		state:    StateUnstarted,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	if s == nil {
		return StateClosed
	}
	return s.state
}

// ServerName returns the session's communication endpoint.
func (s *Session) ServerName() string {
	if s == nil {
		return ""
	}
	return s.cfg.ServerName
}

// Start launches the editor, waits for its endpoint, and connects.
// A failed start tears down whatever was launched and leaves the session closed.
func (s *Session) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("session is nil")
	}
	if s.state != StateUnstarted {
		return fmt.Errorf("%w: start from %s", ErrInvalidState, s.state)
	}
	s.state = StateStarting

	proc, err := s.launch(ctx, *s.cfg)
	if err != nil {
		s.state = StateClosed
		return fmt.Errorf("launch editor: %w", err)
	}
	s.process = proc

	readiness, err := proc.WaitReady(ctx, s.cfg.StartTimeout, s.cfg.PollInterval)
	if err != nil {
		s.logger.With("readiness", readiness.String(), "err", err).Error("editor did not become ready")
		s.abortStart(ctx)
		return fmt.Errorf("wait for endpoint %s: %w", s.cfg.ServerName, err)
	}

	client, err := s.dial(ctx, s.cfg.ServerName)
	if err != nil {
		s.logger.With("err", err).Error("connect to editor failed")
		s.abortStart(ctx)
		return fmt.Errorf("connect to %s: %w", s.cfg.ServerName, err)
	}

	s.client = client
	s.state = StateReady
	s.logger.With("pid", proc.PID()).Info("editor session ready")
	return nil
}

// Quit asks the editor to exit and closes the connection.
// It is a no-op when the session never connected.
func (s *Session) Quit() error {
	if s == nil || s.client == nil {
		return nil
	}
	s.state = StateQuitting
	s.cache.clear()

	quitErr := s.client.Command("qa!")
	closeErr := s.client.Close()
	s.client = nil
	s.state = StateClosed

	// The editor drops the channel while exiting, so a broken connection is success.
	if quitErr != nil && !isConnectionError(quitErr) && !s.processExited() {
		return fmt.Errorf("quit editor: %w", quitErr)
	}
	if closeErr != nil && !isConnectionError(closeErr) {
		return fmt.Errorf("close editor connection: %w", closeErr)
	}
	s.logger.Info("editor quit")
	return nil
}

// Kill terminates the editor process and removes the endpoint file.
// It is safe to call repeatedly and before Start.
func (s *Session) Kill(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if s.state != StateClosed {
		s.state = StateKilled
	}
	s.cache.clear()

	var errs []error
	if s.client != nil {
		if err := s.client.Close(); err != nil && !isConnectionError(err) {
			errs = append(errs, fmt.Errorf("close editor connection: %w", err))
		}
		s.client = nil
	}
	if s.process != nil {
		if err := s.process.Terminate(ctx, s.cfg.KillGrace); err != nil {
			errs = append(errs, fmt.Errorf("terminate editor: %w", err))
		}
	}
	if err := launcher.RemoveEndpoint(s.cfg.ServerName); err != nil {
		errs = append(errs, err)
	}

	s.state = StateClosed
	return errors.Join(errs...)
}

func (s *Session) abortStart(ctx context.Context) {
	if err := s.process.Terminate(ctx, s.cfg.KillGrace); err != nil {
		s.logger.With("err", err).Warn("terminate editor after failed start")
	}
	if err := launcher.RemoveEndpoint(s.cfg.ServerName); err != nil {
		s.logger.With("err", err).Warn("remove endpoint after failed start")
	}
	s.state = StateClosed
}

func (s *Session) processExited() bool {
	if s.process == nil {
		return false
	}
	select {
	case <-s.process.Exited():
		return true
	default:
		return false
	}
}

// checkReady gates every command and query. A dead editor is reported before
// any cached value can be served.
func (s *Session) checkReady() error {
	if s == nil {
		return ErrNotConnected
	}
	if s.state != StateReady || s.client == nil {
		return fmt.Errorf("%w (state %s)", ErrNotConnected, s.state)
	}
	if s.processExited() {
		s.cache.clear()
		return fmt.Errorf("%w: pid %d exited", ErrQuit, s.process.PID())
	}
	return nil
}

func (s *Session) rpcFailure(op string, err error) error {
	if s.processExited() || isConnectionError(err) {
		s.cache.clear()
		s.logger.With("op", op, "err", err).Error("editor connection lost")
		return fmt.Errorf("%s: %w: %w", op, ErrQuit, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
