package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Redis sessions expire through their TTL; only the in-memory store needs a
// periodic sweep.
type uploadSessionPurger interface {
	PurgeExpired(now time.Time) int
}

type purgeTicker interface {
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

type tickerFactory func(time.Duration) purgeTicker

func startUploadPurgeWorker(ctx context.Context, logger *slog.Logger, sessions uploadSessionPurger, interval time.Duration) func() {
	return startUploadPurgeWorkerWithTicker(ctx, logger, sessions, interval, func(d time.Duration) purgeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startUploadPurgeWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	sessions uploadSessionPurger,
	interval time.Duration,
	newTicker tickerFactory,
) func() {
	if sessions == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case now := <-ticker.C():
				if purged := sessions.PurgeExpired(now); purged > 0 && logger != nil {
					logger.Info("purged stale upload sessions", "count", purged)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
