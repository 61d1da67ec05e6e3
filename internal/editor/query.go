package editor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neovim/go-client/nvim"
)

// CurrentBuffer selects the active buffer in GetBufferLines.
const CurrentBuffer = 0

// Ask evaluates a Vimscript expression and returns the result as text.
// Results are never cached.
func (s *Session) Ask(expression string) (string, error) {
	if err := s.checkReady(); err != nil {
		return "", err
	}

	var result any
	if err := s.client.Eval(expression, &result); err != nil {
		return "", s.rpcFailure(fmt.Sprintf("eval %q", expression), err)
	}
	return formatValue(result), nil
}

// GetBufferLines returns the lines of buffer number, or of the active buffer when
// number is CurrentBuffer. Buffers with a 'buftype' are rejected with
// ErrSpecialBuffer. The snapshot is cached until the next Communicate.
func (s *Session) GetBufferLines(number int) ([]string, error) {
	if err := s.checkReady(); err != nil {
		return nil, err
	}
	if number < 0 {
		return nil, fmt.Errorf("%w: %d", ErrBufferNotFound, number)
	}
	if lines, ok := s.cache.bufferLines(number); ok {
		return lines, nil
	}

	buffer, err := s.resolveBuffer(number)
	if err != nil {
		return nil, err
	}

	raw, err := s.client.BufferLines(buffer, 0, -1, true)
	if err != nil {
		return nil, s.rpcFailure(fmt.Sprintf("read buffer %d", int(buffer)), err)
	}

	lines := make([]string, len(raw))
	for i, line := range raw {
		lines[i] = decodeText(line)
	}
	s.cache.storeBufferLines(number, lines)
	return cloneLines(lines), nil
}

// GetCurrentLine returns the 1-based cursor line of the active window.
// The value is cached until the next Communicate.
func (s *Session) GetCurrentLine() (int, error) {
	if err := s.checkReady(); err != nil {
		return 0, err
	}
	if line, ok := s.cache.cursorLine(); ok {
		return line, nil
	}

	window, err := s.client.CurrentWindow()
	if err != nil {
		return 0, s.rpcFailure("current window", err)
	}
	pos, err := s.client.WindowCursor(window)
	if err != nil {
		return 0, s.rpcFailure("window cursor", err)
	}

	s.cache.storeCursorLine(pos[0])
	return pos[0], nil
}

func (s *Session) resolveBuffer(number int) (nvim.Buffer, error) {
	if number == CurrentBuffer {
		buffer, err := s.client.CurrentBuffer()
		if err != nil {
			return 0, s.rpcFailure("current buffer", err)
		}
		return buffer, nil
	}

	buffers, err := s.client.Buffers()
	if err != nil {
		return 0, s.rpcFailure("list buffers", err)
	}
	for _, buffer := range buffers {
		// Buffer handles are buffer numbers.
		if int(buffer) != number {
			continue
		}
		var buftype string
		if err := s.client.Eval(fmt.Sprintf("getbufvar(%d, '&buftype')", number), &buftype); err != nil {
			return 0, s.rpcFailure(fmt.Sprintf("buftype of buffer %d", number), err)
		}
		if buftype != "" {
			return 0, fmt.Errorf("%w: buffer %d has buftype %q", ErrSpecialBuffer, number, buftype)
		}
		return buffer, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrBufferNotFound, number)
}

func formatValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return decodeText(v)
	case bool:
		if v {
			return "v:true"
		}
		return "v:false"
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = formatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprint(v)
	}
}

func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
