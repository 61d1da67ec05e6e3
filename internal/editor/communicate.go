package editor

import (
	"context"
	"fmt"
	"time"
)

// Communicate feeds command to the editor as typed input, then waits for the
// configured delay plus extraDelay so the editor can process it.
//
// Key notation such as <Esc> or <C-w> is translated first, the way
// nvim_replace_termcodes does with from_part, do_lt and special all set.
// Cached query results are discarded whether or not the send succeeds.
func (s *Session) Communicate(ctx context.Context, command string, extraDelay time.Duration) error {
	if extraDelay < 0 {
		return fmt.Errorf("extra delay %s must not be negative", extraDelay)
	}
	if err := s.checkReady(); err != nil {
		return err
	}

	s.commands.Log(command)

	keys, err := s.client.ReplaceTermcodes(command, true, true, true)
	if err != nil {
		s.cache.clear()
		return s.rpcFailure("translate keys", err)
	}

	err = s.client.FeedKeys(keys, "", false)
	s.cache.clear()
	if err != nil {
		return s.rpcFailure("feed keys", err)
	}

	return s.sleep(ctx, s.cfg.Delay+extraDelay)
}
