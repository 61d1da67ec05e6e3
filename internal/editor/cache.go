package editor

// resultCache memoizes query results for one command cycle.
// One slot per query kind: buffer snapshots by number, and the cursor line.
type resultCache struct {
	buffers   map[int][]string
	line      int
	lineValid bool
}

func (c *resultCache) bufferLines(number int) ([]string, bool) {
	lines, ok := c.buffers[number]
	if !ok {
		return nil, false
	}
	return cloneLines(lines), true
}

func (c *resultCache) storeBufferLines(number int, lines []string) {
	if c.buffers == nil {
		c.buffers = map[int][]string{}
	}
	c.buffers[number] = cloneLines(lines)
}

func (c *resultCache) cursorLine() (int, bool) {
	return c.line, c.lineValid
}

func (c *resultCache) storeCursorLine(line int) {
	c.line = line
	c.lineValid = true
}

func (c *resultCache) clear() {
	c.buffers = nil
	c.line = 0
	c.lineValid = false
}

func cloneLines(lines []string) []string {
	return append(make([]string, 0, len(lines)), lines...)
}
