package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	defaultBinary       = "nvim"
	defaultVimRC        = "NONE"
	defaultShell        = "sh"
	defaultDelay        = 100 * time.Millisecond
	defaultStartTimeout = 5 * time.Second
	defaultPollInterval = 10 * time.Millisecond
	defaultKillGrace    = 2 * time.Second

	serverNamePrefix = "vroom-nvim-"
)

// PTYMode selects whether the editor is started under a pseudo-terminal.
type PTYMode string

const (
	// PTYAuto attaches a pseudo-terminal only when the driver itself has no terminal on stdin.
	PTYAuto PTYMode = "auto"
	// PTYAlways always attaches a pseudo-terminal.
	PTYAlways PTYMode = "always"
	// PTYNever lets the editor inherit the driver's stdio.
	PTYNever PTYMode = "never"
)

// Session is the immutable configuration of one editor session.
type Session struct {
	// Binary is the editor executable, resolved through PATH when not absolute.
	Binary string
	// VimRC is passed to the editor's -u flag.
	VimRC string
	// Shell is applied with "set shell=" so commands run through a mockable shell.
	Shell string
	// SetupScript is sourced after startup. Empty skips the source directive.
	SetupScript string
	// ServerName is the RPC listen address and the readiness signal.
	ServerName string
	// ServerDir is where NewServerName places generated endpoints.
	ServerDir string
	// Delay is the base settle delay after every command.
	Delay time.Duration
	// StartTimeout bounds the wait for ServerName to appear.
	StartTimeout time.Duration
	// PollInterval is the readiness poll period.
	PollInterval time.Duration
	// KillGrace is the SIGTERM window before SIGKILL.
	KillGrace time.Duration
	PTY       PTYMode
	// Env holds extra variables for the editor and any shell it spawns.
	Env map[string]string
}

type fileConfig struct {
	Binary       *string           `toml:"binary"`
	VimRC        *string           `toml:"vimrc"`
	Shell        *string           `toml:"shell"`
	SetupScript  *string           `toml:"setup_script"`
	ServerDir    *string           `toml:"server_dir"`
	Delay        *string           `toml:"delay"`
	StartTimeout *string           `toml:"start_timeout"`
	PollInterval *string           `toml:"poll_interval"`
	KillGrace    *string           `toml:"kill_grace"`
	PTY          *string           `toml:"pty"`
	Env          map[string]string `toml:"env"`
}

// Load reads config from ~/.vroom/config.toml and overlays a project-local .vroom/config.toml.
func Load(ctx context.Context) (*Session, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	workingDir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	return LoadFiles(ctx,
		filepath.Join(homeDir, ".vroom", "config.toml"),
		filepath.Join(workingDir, ".vroom", "config.toml"),
	)
}

// LoadFiles applies each existing file over the defaults in order. Missing files are skipped.
func LoadFiles(ctx context.Context, paths ...string) (*Session, error) {
	cfg := Defaults()
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Defaults returns a session configuration with every tunable at its default.
func Defaults() Session {
	return Session{
		Binary:       defaultBinary,
		VimRC:        defaultVimRC,
		Shell:        defaultShell,
		Delay:        defaultDelay,
		StartTimeout: defaultStartTimeout,
		PollInterval: defaultPollInterval,
		KillGrace:    defaultKillGrace,
		PTY:          PTYAuto,
		Env:          map[string]string{},
	}
}

// NewServerName returns a unique endpoint path inside dir (the temp dir when empty).
func NewServerName(dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, serverNamePrefix+uuid.NewString()+".sock")
}

// WithServerName returns a copy of s that listens on a fresh unique endpoint when none is set.
func (s Session) WithServerName() Session {
	if strings.TrimSpace(s.ServerName) == "" {
		s.ServerName = NewServerName(s.ServerDir)
	}
	s.Env = cloneEnv(s.Env)
	return s
}

// Validate reports the first setting that would make a session unusable.
func (s Session) Validate() error {
	if strings.TrimSpace(s.Binary) == "" {
		return errors.New("editor binary is required")
	}
	if strings.TrimSpace(s.ServerName) == "" {
		return errors.New("server name is required")
	}
	if s.Delay < 0 {
		return fmt.Errorf("delay %s must not be negative", s.Delay)
	}
	if s.StartTimeout <= 0 {
		return fmt.Errorf("start timeout %s must be > 0", s.StartTimeout)
	}
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll interval %s must be > 0", s.PollInterval)
	}
	if s.KillGrace < 0 {
		return fmt.Errorf("kill grace %s must not be negative", s.KillGrace)
	}
	switch s.PTY {
	case PTYAuto, PTYAlways, PTYNever:
	default:
		return fmt.Errorf("pty mode %q must be one of auto, always, never", s.PTY)
	}
	return nil
}

func overlayFromFile(cfg *Session, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyStringOverrides(cfg, decoded)
	if err := applyDurationOverrides(cfg, decoded, path); err != nil {
		return err
	}
	if decoded.PTY != nil {
		mode := PTYMode(normalizeKey(*decoded.PTY))
		switch mode {
		case PTYAuto, PTYAlways, PTYNever:
			cfg.PTY = mode
		default:
			return fmt.Errorf("parse pty in %q: unsupported mode %q", path, *decoded.PTY)
		}
	}
	if len(decoded.Env) > 0 {
		if cfg.Env == nil {
			cfg.Env = map[string]string{}
		}
		for key, value := range decoded.Env {
			cfg.Env[key] = value
		}
	}
	return nil
}

func applyStringOverrides(cfg *Session, decoded fileConfig) {
	set := func(target *string, value *string) {
		if value != nil {
			*target = strings.TrimSpace(*value)
		}
	}
	set(&cfg.Binary, decoded.Binary)
	set(&cfg.VimRC, decoded.VimRC)
	set(&cfg.Shell, decoded.Shell)
	set(&cfg.SetupScript, decoded.SetupScript)
	set(&cfg.ServerDir, decoded.ServerDir)
}

func applyDurationOverrides(cfg *Session, decoded fileConfig, path string) error {
	overrides := []struct {
		key    string
		value  *string
		target *time.Duration
	}{
		{"delay", decoded.Delay, &cfg.Delay},
		{"start_timeout", decoded.StartTimeout, &cfg.StartTimeout},
		{"poll_interval", decoded.PollInterval, &cfg.PollInterval},
		{"kill_grace", decoded.KillGrace, &cfg.KillGrace},
	}
	for _, override := range overrides {
		if override.value == nil {
			continue
		}
		parsed, err := parseDuration(*override.value, override.key, path)
		if err != nil {
			return err
		}
		if parsed < 0 {
			return fmt.Errorf("parse %s in %q: must not be negative", override.key, path)
		}
		*override.target = parsed
	}
	return nil
}

func parseDuration(value, key, path string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s in %q: %w", key, path, err)
	}
	return parsed, nil
}

func normalizeKey(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func cloneEnv(env map[string]string) map[string]string {
	cloned := make(map[string]string, len(env))
	for key, value := range env {
		cloned[key] = value
	}
	return cloned
}
