package editor

import "errors"

var (
	// ErrQuit reports that the editor exited or its connection dropped mid-session.
	// Harnesses catch it at the test-case boundary and report a crashed session.
	ErrQuit = errors.New("editor quit unexpectedly")
	// ErrNotConnected reports a command or query outside the Ready state.
	ErrNotConnected = errors.New("editor session not connected")
	// ErrInvalidState reports a lifecycle call that the current state does not allow.
	ErrInvalidState = errors.New("invalid session state")
	// ErrBufferNotFound reports a buffer number the editor does not know.
	ErrBufferNotFound = errors.New("buffer not found")
	// ErrSpecialBuffer reports a buffer with a non-empty 'buftype' (help, quickfix, terminal, ...).
	ErrSpecialBuffer = errors.New("special buffer not supported")
)
