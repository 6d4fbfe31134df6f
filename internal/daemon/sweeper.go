package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/SikeGottem/agent-comms/internal/httpapi"
)

// runSweeper archives old done tasks, purges expired locks and drops events
// past retention every interval.
// Both also happen lazily on reads; the sweep keeps idle hubs tidy.
func runSweeper(ctx context.Context, app *httpapi.App, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepOnce(ctx, app)
		}
	}
}

func sweepOnce(ctx context.Context, app *httpapi.App) {
	if n, err := app.Tasks.Sweep(ctx); err != nil {
		slog.Warn("sweep: archive tasks failed", "err", err)
	} else if n > 0 {
		slog.Info("sweep: archived tasks", "count", n)
	}
	if n, err := app.Coord.Purge(ctx); err != nil {
		slog.Warn("sweep: purge locks failed", "err", err)
	} else if n > 0 {
		slog.Info("sweep: purged expired locks", "count", n)
	}
	if n, err := app.Events.Purge(ctx); err != nil {
		slog.Warn("sweep: purge events failed", "err", err)
	} else if n > 0 {
		slog.Info("sweep: purged old events", "count", n)
	}
}
