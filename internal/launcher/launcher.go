package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
	"github.com/vroom-nvim/driver/internal/config"
	"github.com/vroom-nvim/driver/internal/logging"
	"golang.org/x/sys/unix"
)

const (
	// EnvListenAddress tells the editor where to bind its RPC server.
	EnvListenAddress = "NVIM_LISTEN_ADDRESS"
	// EnvNeovimMarker lets a mocked shell spawned by the editor detect this backend.
	EnvNeovimMarker = "VROOM_NEOVIM"

	defaultPTYCols = 80
	defaultPTYRows = 24
)

// Signaler sends unix signals to a process ID.
type Signaler interface {
	Signal(pid int, signal unix.Signal) error
}

type defaultSignaler struct{}

func (defaultSignaler) Signal(pid int, signal unix.Signal) error {
	return unix.Kill(pid, signal)
}

// Options configures a Launcher.
type Options struct {
	Signaler Signaler
	Logger   *log.Logger
	// Stdin, Stdout and Stderr are inherited by the editor when it runs without a pty.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// PTYOutput receives everything the editor draws when it runs under a pty.
	PTYOutput io.Writer
	// IsTerminal reports whether the driver's own stdin is a terminal.
	IsTerminal func() bool
	// BaseEnv is the environment the editor inherits before overrides.
	BaseEnv []string
	// LookPath resolves the editor binary. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
}

// Launcher starts editor processes.
type Launcher struct {
	signaler   Signaler
	logger     *log.Logger
	stdin      io.Reader
	stdout     io.Writer
	stderr     io.Writer
	ptyOutput  io.Writer
	isTerminal func() bool
	baseEnv    []string
	lookPath   func(file string) (string, error)
}

// New creates a launcher with default dependencies where omitted.
func New(opts Options) *Launcher {
	signaler := opts.Signaler
	if signaler == nil {
		signaler = defaultSignaler{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	ptyOutput := opts.PTYOutput
	if ptyOutput == nil {
		ptyOutput = io.Discard
	}

	isTerminal := opts.IsTerminal
	if isTerminal == nil {
		isTerminal = stdinIsTerminal
	}

	baseEnv := opts.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ()
	}

	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	return &Launcher{
		lookPath:   lookPath,
		signaler:   signaler,
		logger:     logger,
		stdin:      opts.Stdin,
		stdout:     opts.Stdout,
		stderr:     opts.Stderr,
		ptyOutput:  ptyOutput,
		isTerminal: isTerminal,
		baseEnv:    baseEnv,
	}
}

// BuildArgs returns the editor argument vector, binary first.
func BuildArgs(cfg config.Session) []string {
	args := []string{
		cfg.Binary,
		"-u", cfg.VimRC,
		"-c", "set shell=" + cfg.Shell,
	}
	if script := strings.TrimSpace(cfg.SetupScript); script != "" {
		args = append(args, "-c", "source "+script)
	}
	return args
}

// BuildEnv overlays cfg.Env and the listen address and backend marker onto base.
// Later entries win, and the result is sorted by key for stable output.
func BuildEnv(cfg config.Session, base []string) []string {
	merged := make(map[string]string, len(base)+len(cfg.Env)+2)
	for _, entry := range base {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			continue
		}
		merged[key] = value
	}
	for key, value := range cfg.Env {
		merged[key] = value
	}
	merged[EnvListenAddress] = cfg.ServerName
	merged[EnvNeovimMarker] = "1"

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, key := range keys {
		env = append(env, key+"="+merged[key])
	}
	return env
}

// Start launches the editor described by cfg and returns without waiting for readiness.
func (l *Launcher) Start(ctx context.Context, cfg config.Session) (*Process, error) {
	if l == nil {
		return nil, errors.New("launcher is nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	availability, warnings, err := preflight(cfg, l.lookPath, fileExists)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		l.logger.Warn(warning)
	}

	// A stale endpoint would read as ready before the editor binds it.
	if err := RemoveEndpoint(cfg.ServerName); err != nil {
		return nil, err
	}

	argv := BuildArgs(cfg)
	// The child must outlive ctx, which only bounds startup.
	// #nosec G204 -- the editor binary comes from trusted configuration.
	cmd := exec.Command(availability.Binary, argv[1:]...)
	cmd.Env = BuildEnv(cfg, l.baseEnv)

	usePTY := l.usePTY(cfg.PTY)
	var terminal *os.File
	if usePTY {
		ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: defaultPTYCols, Rows: defaultPTYRows})
		if err != nil {
			return nil, fmt.Errorf("start %s under pty: %w", cfg.Binary, err)
		}
		terminal = ptmx
	} else {
		cmd.Stdin = l.stdin
		cmd.Stdout = l.stdout
		cmd.Stderr = l.stderr
		if err := cmd.Start(); err != nil {
			return nil, fmt.Errorf("start %s: %w", cfg.Binary, err)
		}
	}

	proc := newProcess(cmd, terminal, cfg.ServerName, l.signaler, l.logger)
	if terminal != nil {
		go proc.drain(l.ptyOutput)
	}

	l.logger.With(
		"pid", proc.PID(),
		"server", cfg.ServerName,
		"pty", usePTY,
		"argv", strings.Join(argv, " "),
	).Info("editor started")
	return proc, nil
}

func (l *Launcher) usePTY(mode config.PTYMode) bool {
	switch mode {
	case config.PTYAlways:
		return true
	case config.PTYNever:
		return false
	default:
		return !l.isTerminal()
	}
}

// RemoveEndpoint deletes the endpoint file. A missing file is not an error.
func RemoveEndpoint(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove endpoint %s: %w", path, err)
	}
	return nil
}

// EndpointExists reports whether the endpoint file is present.
func EndpointExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var _ Signaler = defaultSignaler{}
