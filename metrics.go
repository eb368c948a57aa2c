package main

import (
	"context"
	"log"
	"time"

	"github.com/nexusbbs/nexus/internal/handlers"
)

// RunMetrics logs registry-wide activity counts every interval until ctx is
// canceled: connected sessions, active voice sessions, and in-flight file
// transfers.
func RunMetrics(ctx context.Context, deps *handlers.Deps, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions := deps.Sessions.Count()
			voiceSessions := deps.Voice.Count()
			transfers := deps.Transfers.ActiveCount()
			if sessions > 0 || voiceSessions > 0 || transfers > 0 {
				log.Printf("[metrics] sessions=%d voice=%d transfers=%d",
					sessions, voiceSessions, transfers)
			}
		}
	}
}
