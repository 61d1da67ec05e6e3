package editor

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/neovim/go-client/nvim"
)

// Client is the subset of the Neovim RPC API the session drives.
type Client interface {
	ReplaceTermcodes(str string, fromPart bool, doLT bool, special bool) (string, error)
	FeedKeys(keys string, mode string, escapeCSI bool) error
	Eval(expr string, result any) error
	CurrentBuffer() (nvim.Buffer, error)
	Buffers() ([]nvim.Buffer, error)
	BufferLines(buffer nvim.Buffer, start int, end int, strict bool) ([][]byte, error)
	CurrentWindow() (nvim.Window, error)
	WindowCursor(window nvim.Window) ([2]int, error)
	Command(cmd string) error
	Close() error
}

// DialFunc connects to the editor listening on address.
type DialFunc func(ctx context.Context, address string) (Client, error)

// Dialer returns a DialFunc backed by the msgpack-RPC client.
func Dialer(logger *log.Logger) DialFunc {
	return func(ctx context.Context, address string) (Client, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		options := []nvim.DialOption{}
		if logger != nil {
			options = append(options, nvim.DialLogf(logger.Debugf))
		}
		v, err := nvim.Dial(address, options...)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

// isConnectionError reports whether err means the RPC channel is gone.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "session closed") ||
		strings.Contains(text, "broken pipe") ||
		strings.Contains(text, "connection reset") ||
		strings.Contains(text, "use of closed network connection")
}

var _ Client = (*nvim.Nvim)(nil)
