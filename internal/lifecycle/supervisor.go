package lifecycle

import "context"

// RequestStart asks the controller to start workers. It reports false when
// Running was already set.
func RequestStart(s *Signal) bool {
	return !s.Or(Running).Has(Running)
}

// RequestStop toggles Running and StopRequested in one step, the only
// sanctioned way to ask for a stop. It reports false when workers were not
// requested to run or a stop is already pending.
func RequestStop(s *Signal) bool {
	for {
		cur := s.Load()
		if !cur.Has(Running) || cur.Has(StopRequested) {
			return false
		}
		if s.CompareAndSwap(cur, cur^(Running|StopRequested)) {
			return true
		}
	}
}

// RequestShutdown asks the controller loop to exit after stopping workers.
func RequestShutdown(s *Signal) {
	s.Or(Shutdown)
}

// Restart requests a stop, waits for it to complete, then requests a start.
func Restart(ctx context.Context, s *Signal) error {
	if RequestStop(s) {
		_, err := s.WaitUntil(ctx, func(b Bits) bool {
			return b.Has(Stopped) && !b.Has(StopRequested)
		})
		if err != nil {
			return err
		}
	}
	RequestStart(s)
	return nil
}

// String renders the set bits for logs and status output.
func (b Bits) String() string {
	names := []struct {
		bit  Bits
		name string
	}{
		{Running, "running"},
		{Started, "started"},
		{StopRequested, "stop-requested"},
		{Stopped, "stopped"},
		{Shutdown, "shutdown"},
	}

	out := ""
	for _, n := range names {
		if b&n.bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += n.name
	}
	if out == "" {
		return "idle"
	}
	return out
}
