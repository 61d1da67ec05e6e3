package editor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/neovim/go-client/nvim"
	"github.com/stretchr/testify/require"
	"github.com/vroom-nvim/driver/internal/config"
	"github.com/vroom-nvim/driver/internal/launcher"
	"github.com/vroom-nvim/driver/internal/logging"
)

// fakeClient is an in-memory editor that counts RPC calls by method name.
type fakeClient struct {
	mu          sync.Mutex
	calls       map[string]int
	buffers     map[int][]string
	buftypes    map[int]string
	current     int
	cursor      [2]int
	evalResults map[string]any
	fed         []string
	closed      bool

	// err fails every call except Close when set.
	err        error
	commandErr error
	onFeed     func(f *fakeClient, keys string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		calls:       map[string]int{},
		buffers:     map[int][]string{1: {""}},
		buftypes:    map[int]string{},
		current:     1,
		cursor:      [2]int{1, 0},
		evalResults: map[string]any{},
	}
}

var termcodes = strings.NewReplacer("<Esc>", "\x1b", "<CR>", "\r", "<Tab>", "\t")

func (f *fakeClient) record(method string) error {
	f.calls[method]++
	return f.err
}

func (f *fakeClient) ReplaceTermcodes(str string, fromPart bool, doLT bool, special bool) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReplaceTermcodes"); err != nil {
		return "", err
	}
	if !fromPart || !doLT || !special {
		return "", fmt.Errorf("unexpected flags %v %v %v", fromPart, doLT, special)
	}
	return termcodes.Replace(str), nil
}

func (f *fakeClient) FeedKeys(keys string, mode string, escapeCSI bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("FeedKeys"); err != nil {
		return err
	}
	if mode != "" || escapeCSI {
		return fmt.Errorf("unexpected feedkeys mode %q escape %v", mode, escapeCSI)
	}
	f.fed = append(f.fed, keys)
	if f.onFeed != nil {
		f.onFeed(f, keys)
	}
	return nil
}

func (f *fakeClient) Eval(expr string, result any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Eval"); err != nil {
		return err
	}

	var number int
	if _, err := fmt.Sscanf(expr, "getbufvar(%d, '&buftype')", &number); err == nil {
		target, ok := result.(*string)
		if !ok {
			return fmt.Errorf("buftype result type %T", result)
		}
		*target = f.buftypes[number]
		return nil
	}

	value, ok := f.evalResults[expr]
	if !ok {
		return fmt.Errorf("nvim:E121: Undefined variable: %s", expr)
	}
	target, ok := result.(*any)
	if !ok {
		return fmt.Errorf("eval result type %T", result)
	}
	*target = value
	return nil
}

func (f *fakeClient) CurrentBuffer() (nvim.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CurrentBuffer"); err != nil {
		return 0, err
	}
	return nvim.Buffer(f.current), nil
}

func (f *fakeClient) Buffers() ([]nvim.Buffer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Buffers"); err != nil {
		return nil, err
	}
	buffers := make([]nvim.Buffer, 0, len(f.buffers))
	for number := range f.buffers {
		buffers = append(buffers, nvim.Buffer(number))
	}
	return buffers, nil
}

func (f *fakeClient) BufferLines(buffer nvim.Buffer, start int, end int, strict bool) ([][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("BufferLines"); err != nil {
		return nil, err
	}
	if start != 0 || end != -1 || !strict {
		return nil, fmt.Errorf("unexpected range %d..%d strict=%v", start, end, strict)
	}
	lines, ok := f.buffers[int(buffer)]
	if !ok {
		return nil, fmt.Errorf("Invalid buffer id: %d", int(buffer))
	}
	raw := make([][]byte, len(lines))
	for i, line := range lines {
		raw[i] = []byte(line)
	}
	return raw, nil
}

func (f *fakeClient) CurrentWindow() (nvim.Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CurrentWindow"); err != nil {
		return 0, err
	}
	return nvim.Window(1000), nil
}

func (f *fakeClient) WindowCursor(window nvim.Window) ([2]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WindowCursor"); err != nil {
		return [2]int{}, err
	}
	return f.cursor, nil
}

func (f *fakeClient) Command(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Command:"+cmd]++
	if f.err != nil {
		return f.err
	}
	return f.commandErr
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Close"]++
	f.closed = true
	return nil
}

func (f *fakeClient) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeClient) setBuffer(number int, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buffers[number] = lines
}

// fakeProcess stands in for a launched editor.
type fakeProcess struct {
	mu         sync.Mutex
	exited     chan struct{}
	exitOnce   sync.Once
	readiness  launcher.Readiness
	readyErr   error
	terminated int
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exited: make(chan struct{})}
}

func (p *fakeProcess) WaitReady(context.Context, time.Duration, time.Duration) (launcher.Readiness, error) {
	return p.readiness, p.readyErr
}

func (p *fakeProcess) Exited() <-chan struct{} {
	return p.exited
}

func (p *fakeProcess) Terminate(context.Context, time.Duration) error {
	p.mu.Lock()
	p.terminated++
	p.mu.Unlock()
	p.die()
	return nil
}

func (p *fakeProcess) PID() int {
	return 4242
}

func (p *fakeProcess) die() {
	p.exitOnce.Do(func() { close(p.exited) })
}

func (p *fakeProcess) terminateCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// harness wires a Session to fakes and records launches, dials and sleeps.
type harness struct {
	session    *Session
	client     *fakeClient
	process    *fakeProcess
	transcript *logging.Transcript
	cfg        *config.Session

	launches int
	dials    []string
	dialErr  error
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.Defaults()
	cfg.ServerName = filepath.Join(t.TempDir(), "nvim.sock")
	cfg.Delay = 100 * time.Millisecond

	h := &harness{
		client:     newFakeClient(),
		process:    newFakeProcess(),
		transcript: logging.NewTranscript(nil, nil),
		cfg:        &cfg,
	}

	session, err := New(h.cfg, Options{
		Launch: func(_ context.Context, launched config.Session) (Process, error) {
			h.launches++
			if launched.ServerName != cfg.ServerName {
				return nil, fmt.Errorf("launched with %q", launched.ServerName)
			}
			// The fake editor binds its endpoint as soon as it starts.
			if err := os.WriteFile(launched.ServerName, nil, 0o600); err != nil {
				return nil, err
			}
			return h.process, nil
		},
		Dial: func(_ context.Context, address string) (Client, error) {
			h.dials = append(h.dials, address)
			if h.dialErr != nil {
				return nil, h.dialErr
			}
			return h.client, nil
		},
		Commands: h.transcript,
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
	})
	require.NoError(t, err)
	h.session = session
	return h
}

func startedHarness(t *testing.T) *harness {
	t.Helper()

	h := newHarness(t)
	require.NoError(t, h.session.Start(context.Background()))
	return h
}

var _ Client = (*fakeClient)(nil)
var _ Process = (*fakeProcess)(nil)
