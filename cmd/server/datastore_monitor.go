package main

import (
	"context"
	"log/slog"
	"time"
)

type datastorePinger interface {
	Ping(ctx context.Context) error
}

type monitorTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) monitorTicker

// monitorDatastore pings the datastore every interval until ctx is cancelled
// and logs when it becomes unreachable and when it recovers.
func monitorDatastore(ctx context.Context, logger *slog.Logger, store datastorePinger, interval time.Duration) error {
	return monitorDatastoreWithTicker(ctx, logger, store, interval, func(d time.Duration) monitorTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func monitorDatastoreWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	store datastorePinger,
	interval time.Duration,
	newTicker tickerFactory,
) error {
	if store == nil || interval <= 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := newTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := store.Ping(pingCtx)
			cancel()
			switch {
			case err != nil && healthy:
				healthy = false
				logger.Error("datastore unreachable", "error", err)
			case err == nil && !healthy:
				healthy = true
				logger.Info("datastore reachable again")
			}
		}
	}
}
