package logging

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/log"
)

// Transcript records every raw command sent to the editor so a session can be replayed.
type Transcript struct {
	mu       sync.Mutex
	out      io.Writer
	logger   *log.Logger
	commands []string
}

// NewTranscript writes one command per line to out (nil keeps commands in memory only)
// and mirrors each command to logger at debug level.
func NewTranscript(out io.Writer, logger *log.Logger) *Transcript {
	return &Transcript{out: out, logger: logger}
}

// Log records command verbatim, before any key translation.
func (t *Transcript) Log(command string) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.commands = append(t.commands, command)
	if t.out != nil {
		// Write failures must not abort the session.
		_, _ = fmt.Fprintln(t.out, command)
	}
	if t.logger != nil {
		t.logger.Debug("command sent", "seq", len(t.commands), "command", command)
	}
}

// Commands returns the recorded commands in send order.
func (t *Transcript) Commands() []string {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}
