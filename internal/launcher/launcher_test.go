package launcher

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vroom-nvim/driver/internal/config"
	"golang.org/x/sys/unix"
)

const (
	helperModeEnv   = "VROOM_LAUNCHER_HELPER"
	helperRecordEnv = "VROOM_LAUNCHER_RECORD"
)

// TestMain doubles as a stand-in editor when the helper mode variable is set.
func TestMain(m *testing.M) {
	switch os.Getenv(helperModeEnv) {
	case "bind":
		helperBind()
	case "exit":
		os.Exit(3)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		if err := touch(os.Getenv(EnvListenAddress)); err != nil {
			os.Exit(4)
		}
		time.Sleep(time.Minute)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func helperBind() {
	terminated := make(chan os.Signal, 1)
	signal.Notify(terminated, syscall.SIGTERM)

	if record := os.Getenv(helperRecordEnv); record != "" {
		content := strings.Join(os.Args[1:], "\n") + "\n" + EnvNeovimMarker + "=" + os.Getenv(EnvNeovimMarker) + "\n"
		if err := os.WriteFile(record, []byte(content), 0o600); err != nil {
			os.Exit(5)
		}
	}
	if err := touch(os.Getenv(EnvListenAddress)); err != nil {
		os.Exit(4)
	}

	select {
	case <-terminated:
		os.Exit(0)
	case <-time.After(time.Minute):
		os.Exit(6)
	}
}

func touch(path string) error {
	return os.WriteFile(path, nil, 0o600)
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.VimRC = "/home/u/.vroomrc"
	cfg.Shell = "/usr/lib/vroom/shell.vroomfaker"
	cfg.SetupScript = "/usr/lib/vroom/vroom.vim"

	assert.Equal(t, []string{
		"nvim",
		"-u", "/home/u/.vroomrc",
		"-c", "set shell=/usr/lib/vroom/shell.vroomfaker",
		"-c", "source /usr/lib/vroom/vroom.vim",
	}, BuildArgs(cfg))

	cfg.SetupScript = "  "
	assert.Equal(t, []string{"nvim", "-u", "/home/u/.vroomrc", "-c", "set shell=/usr/lib/vroom/shell.vroomfaker"}, BuildArgs(cfg))
}

func TestBuildEnvOverridesListenAddressAndMarker(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.ServerName = "/tmp/vroom.sock"
	cfg.Env = map[string]string{"LANG": "C", "EXTRA": "yes"}

	env := BuildEnv(cfg, []string{
		"PATH=/usr/bin",
		"LANG=en_US.UTF-8",
		EnvListenAddress + "=/tmp/other.sock",
		"malformed",
	})

	assert.Equal(t, []string{
		"EXTRA=yes",
		"LANG=C",
		EnvListenAddress + "=/tmp/vroom.sock",
		"PATH=/usr/bin",
		EnvNeovimMarker + "=1",
	}, env)
}

func TestBuildEnvDoesNotTouchProcessEnvironment(t *testing.T) {
	cfg := config.Defaults()
	cfg.ServerName = "/tmp/vroom.sock"
	t.Setenv(EnvListenAddress, "/tmp/untouched.sock")

	_ = BuildEnv(cfg, os.Environ())

	assert.Equal(t, "/tmp/untouched.sock", os.Getenv(EnvListenAddress))
	_, marked := os.LookupEnv(EnvNeovimMarker)
	assert.False(t, marked)
}

func TestUsePTY(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mode     config.PTYMode
		terminal bool
		want     bool
	}{
		{"always", config.PTYAlways, true, true},
		{"never", config.PTYNever, false, false},
		{"auto with terminal", config.PTYAuto, true, false},
		{"auto without terminal", config.PTYAuto, false, true},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			l := New(Options{IsTerminal: func() bool { return tc.terminal }})
			assert.Equal(t, tc.want, l.usePTY(tc.mode))
		})
	}
}

func TestStartWaitReadyAndTerminate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	record := filepath.Join(dir, "record")
	cfg := helperConfig(t, dir, "bind")
	cfg.SetupScript = filepath.Join(dir, "vroom.vim")
	require.NoError(t, touch(cfg.SetupScript))
	cfg.Env[helperRecordEnv] = record

	proc, err := New(Options{}).Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate(context.Background(), time.Second) })

	readiness, err := proc.WaitReady(context.Background(), 10*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ReadyOK, readiness)
	assert.Positive(t, proc.PID())
	assert.Equal(t, cfg.ServerName, proc.Endpoint())

	recorded, err := os.ReadFile(record)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(BuildArgs(cfg)[1:], "\n")+"\n"+EnvNeovimMarker+"=1\n", string(recorded))

	require.NoError(t, proc.Terminate(context.Background(), time.Second))
	select {
	case <-proc.Exited():
	default:
		t.Fatal("process should have exited after terminate")
	}
	assert.Equal(t, 0, proc.ExitCode())

	require.NoError(t, proc.Terminate(context.Background(), time.Second), "second terminate is a no-op")
}

func TestWaitReadyReportsEarlyExit(t *testing.T) {
	t.Parallel()

	cfg := helperConfig(t, t.TempDir(), "exit")
	proc, err := New(Options{}).Start(context.Background(), cfg)
	require.NoError(t, err)

	readiness, err := proc.WaitReady(context.Background(), 10*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrExitedEarly)
	assert.Equal(t, ReadyExited, readiness)
	assert.Equal(t, 3, proc.ExitCode())
	assert.Error(t, proc.ExitErr())
}

func TestWaitReadyTimesOut(t *testing.T) {
	t.Parallel()

	cfg := helperConfig(t, t.TempDir(), "hang")
	proc, err := New(Options{}).Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate(context.Background(), time.Second) })

	readiness, err := proc.WaitReady(context.Background(), 50*time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, ErrStartTimeout)
	assert.Equal(t, ReadyTimeout, readiness)
	assert.False(t, EndpointExists(cfg.ServerName))
}

func TestWaitReadyHonoursContext(t *testing.T) {
	t.Parallel()

	cfg := helperConfig(t, t.TempDir(), "hang")
	proc, err := New(Options{}).Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate(context.Background(), time.Second) })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	readiness, err := proc.WaitReady(ctx, 10*time.Second, 5*time.Millisecond)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ReadyCanceled, readiness)
}

func TestStartRemovesStaleEndpoint(t *testing.T) {
	t.Parallel()

	cfg := helperConfig(t, t.TempDir(), "hang")
	require.NoError(t, touch(cfg.ServerName))

	proc, err := New(Options{}).Start(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Terminate(context.Background(), time.Second) })

	_, err = proc.WaitReady(context.Background(), 30*time.Millisecond, 5*time.Millisecond)
	assert.ErrorIs(t, err, ErrStartTimeout)
}

func TestTerminateEscalatesTermThenKill(t *testing.T) {
	t.Parallel()

	signaler := &recordingSignaler{}
	cfg := helperConfig(t, t.TempDir(), "stubborn")
	proc, err := New(Options{Signaler: signaler}).Start(context.Background(), cfg)
	require.NoError(t, err)

	_, err = proc.WaitReady(context.Background(), 10*time.Second, 5*time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, proc.Terminate(context.Background(), 50*time.Millisecond))
	assert.Equal(t, []unix.Signal{unix.SIGTERM, unix.SIGKILL}, signaler.sent())
	assert.Equal(t, -1, proc.ExitCode())
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	_, err := New(Options{}).Start(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server name is required")
}

func TestStartReportsMissingBinary(t *testing.T) {
	t.Parallel()

	cfg := config.Defaults()
	cfg.Binary = filepath.Join(t.TempDir(), "no-such-nvim")
	cfg.ServerName = filepath.Join(t.TempDir(), "nvim.sock")
	cfg.PTY = config.PTYNever

	_, err := New(Options{}).Start(context.Background(), cfg)
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist), "error = %v", err)
}

func TestRemoveEndpoint(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nvim.sock")
	require.NoError(t, RemoveEndpoint(path), "missing endpoint")

	require.NoError(t, touch(path))
	require.True(t, EndpointExists(path))
	require.NoError(t, RemoveEndpoint(path))
	assert.False(t, EndpointExists(path))
	assert.NoError(t, RemoveEndpoint(""))
}

func TestReadinessString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ready", ReadyOK.String())
	assert.Equal(t, "timeout", ReadyTimeout.String())
	assert.Equal(t, "exited", ReadyExited.String())
	assert.Equal(t, "canceled", ReadyCanceled.String())
	assert.Equal(t, "readiness(9)", Readiness(9).String())
}

func helperConfig(t *testing.T, dir string, mode string) config.Session {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Binary = exe
	cfg.ServerName = filepath.Join(dir, "nvim.sock")
	cfg.PTY = config.PTYNever
	cfg.Env = map[string]string{helperModeEnv: mode}
	return cfg
}

type recordingSignaler struct {
	mu      sync.Mutex
	signals []unix.Signal
}

func (r *recordingSignaler) Signal(pid int, signal unix.Signal) error {
	r.mu.Lock()
	r.signals = append(r.signals, signal)
	r.mu.Unlock()
	return unix.Kill(pid, signal)
}

func (r *recordingSignaler) sent() []unix.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]unix.Signal(nil), r.signals...)
}

var _ Signaler = (*recordingSignaler)(nil)
