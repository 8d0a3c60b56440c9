package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

type fakeSessionStore struct {
	calls  chan struct{}
	purged int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{calls: make(chan struct{}, 1), purged: 1}
}

func (f *fakeSessionStore) PurgeExpired(time.Time) int {
	select {
	case f.calls <- struct{}{}:
	default:
	}
	return f.purged
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time, 1),
		stopped: make(chan struct{}),
	}
}

func (m *manualTicker) C() <-chan time.Time {
	return m.c
}

func (m *manualTicker) Stop() {
	select {
	case <-m.stopped:
		return
	default:
		close(m.stopped)
	}
}

func (m *manualTicker) Tick() {
	select {
	case m.c <- time.Now():
	default:
	}
}

func TestStartUploadPurgeWorker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticker := newManualTicker()
	sessions := newFakeSessionStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stop := startUploadPurgeWorkerWithTicker(ctx, logger, sessions, time.Minute, func(time.Duration) purgeTicker {
		return ticker
	})

	ticker.Tick()
	select {
	case <-sessions.calls:
	case <-time.After(time.Second):
		t.Fatal("expected purge to be invoked")
	}

	cancel()
	stop()

	select {
	case <-ticker.stopped:
	case <-time.After(time.Second):
		t.Fatal("expected ticker to stop after context cancellation")
	}
}

func TestStartUploadPurgeWorkerRequiresSessions(t *testing.T) {
	stop := startUploadPurgeWorker(context.Background(), nil, nil, time.Minute)
	stop()
}
