package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kstaniek/go-canlink/internal/metrics"
)

// startMetricsLogger logs counter deltas every interval and a final total
// when ctx ends. Disabled when interval <= 0.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		prev := metrics.Snap()
		for {
			select {
			case <-t.C:
				cur := metrics.Snap()
				logSnapshot(l, "metrics_snapshot", cur, prev)
				prev = cur
			case <-ctx.Done():
				logSnapshot(l, "metrics_final", metrics.Snap(), metrics.Snapshot{})
				return
			}
		}
	}()
}

func logSnapshot(l *slog.Logger, msg string, cur, prev metrics.Snapshot) {
	l.Info(msg,
		"netlink_requests", cur.Requests-prev.Requests,
		"errors", cur.Errors-prev.Errors,
		"degraded_attrs", cur.Degraded-prev.Degraded,
		"polls", cur.Polls-prev.Polls,
		"polls_total", cur.Polls,
	)
}
