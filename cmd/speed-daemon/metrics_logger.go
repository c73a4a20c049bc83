package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nordgate/speed-daemon/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"sessions", snap.Sessions,
					"cameras", snap.Cameras,
					"dispatchers", snap.Dispatchers,
					"plates", snap.Plates,
					"tickets_issued", snap.TicketsIssued,
					"tickets_parked", snap.TicketsParked,
					"tickets_delivered", snap.TicketsDelivered,
					"heartbeats", snap.Heartbeats,
					"outbox_drops", snap.OutboxDrops,
					"malformed", snap.Malformed,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
