package main

import (
	"context"
	"log"
	"time"

	"posterBack/internal/services"
)

const sessionSweepInterval = 1 * time.Minute

// startSessionSweeper drops purchase sessions nobody touched for maxIdle.
// This is also what stops unbounded subscription polling: a contract whose
// screen is gone loses its poller together with the session.
func startSessionSweeper(ctx context.Context, sessions *services.SessionManager, maxIdle time.Duration, infoLog *log.Logger) {
	if sessions == nil || maxIdle <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sessions.SweepIdle(maxIdle); n > 0 && infoLog != nil {
					infoLog.Printf("session sweeper: dropped %d idle sessions", n)
				}
			}
		}
	}()
}
