package service

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/reservio/internal/clock"
	"github.com/smallbiznis/reservio/internal/identity/domain"
)

const (
	sessionSweepInterval = time.Hour
	sessionSweepTimeout  = time.Minute
)

// StartSessionSweep deletes expired session rows on an hourly ticker so the
// sessions table does not grow without bound. Expired sessions are already
// rejected at authentication time; the sweep only reclaims storage.
func StartSessionSweep(lc fx.Lifecycle, sessions domain.SessionRepository, clk clock.Clock, log *zap.Logger) {
	sweepLog := log.Named("identity.session_sweep")
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(sessionSweepInterval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						ctx, cancel := context.WithTimeout(context.Background(), sessionSweepTimeout)
						if err := SweepExpiredSessions(ctx, sessions, clk); err != nil {
							sweepLog.Warn("session sweep failed", zap.Error(err))
						}
						cancel()
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			close(done)
			return nil
		},
	})
}

// SweepExpiredSessions removes every session whose expiry lies in the past.
func SweepExpiredSessions(ctx context.Context, sessions domain.SessionRepository, clk clock.Clock) error {
	return sessions.DeleteExpiredSessions(ctx, clk.Now())
}
