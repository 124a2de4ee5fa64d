package session

import (
	"context"
	"log/slog"
	"time"
)

// Default capture recovery parameters.
const (
	defaultMaxRetries = 10
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// NotifyCaptureFailure signals that the capture device failed permanently.
// The session then restarts capture with exponential backoff. Safe to call
// multiple times; only the first call per recovery cycle has effect. Wire it
// to the capture engine's failure handler.
func (s *Session) NotifyCaptureFailure(err error) {
	select {
	case s.failed <- err:
	default:
	}
}

func (s *Session) recoverLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.failed:
			s.log.Warn("session: capture failed, recovering", "err", err)
			s.recoverCapture(ctx)
		}
	}
}

// recoverCapture ends and begins capture again, doubling the wait between
// attempts up to MaxBackoff.
func (s *Session) recoverCapture(ctx context.Context) {
	backoff := s.cfg.Backoff
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return
		}
		s.log.Info("session: restarting capture",
			"attempt", attempt,
			"max_retries", s.cfg.MaxRetries,
		)

		_ = s.rec.End()
		err := s.rec.Begin(ctx)
		if err == nil {
			if !s.Muted() {
				err = s.rec.Record(s.forward)
			}
			if err == nil {
				s.log.Info("session: capture recovered", "attempt", attempt)
				return
			}
		}
		s.log.Warn("session: capture restart failed", "attempt", attempt, "backoff", backoff, "err", err)

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
	s.log.Error("session: capture recovery exhausted", slog.Int("max_retries", s.cfg.MaxRetries))
}
