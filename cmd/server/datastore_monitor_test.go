package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type scriptedPinger struct {
	mu      sync.Mutex
	results []error
	calls   int
}

func (p *scriptedPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

func (p *scriptedPinger) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type manualTicker struct {
	c       chan time.Time
	stopped chan struct{}
}

func newManualTicker() *manualTicker {
	return &manualTicker{
		c:       make(chan time.Time),
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

func (m *manualTicker) Tick(t *testing.T) {
	t.Helper()
	select {
	case m.c <- time.Now():
	case <-time.After(time.Second):
		t.Fatal("monitor did not accept tick")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMonitorDatastoreLogsTransitions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	ticker := newManualTicker()
	store := &scriptedPinger{results: []error{nil, errors.New("connection refused"), errors.New("connection refused"), nil}}

	done := make(chan error, 1)
	go func() {
		done <- monitorDatastoreWithTicker(ctx, logger, store, time.Minute, func(time.Duration) monitorTicker {
			return ticker
		})
	}()

	for i := 0; i < 4; i++ {
		ticker.Tick(t)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("monitor returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancellation")
	}
	select {
	case <-ticker.stopped:
	default:
		t.Fatal("expected ticker to be stopped")
	}

	if store.Calls() != 4 {
		t.Fatalf("expected 4 pings, got %d", store.Calls())
	}
	output := logs.String()
	if strings.Count(output, "datastore unreachable") != 1 {
		t.Fatalf("expected a single unreachable entry, got:\n%s", output)
	}
	if strings.Count(output, "datastore reachable again") != 1 {
		t.Fatalf("expected a single recovery entry, got:\n%s", output)
	}
	if !strings.Contains(output, "connection refused") {
		t.Fatalf("expected the ping error in the log, got:\n%s", output)
	}
}

func TestMonitorDatastoreDisabled(t *testing.T) {
	called := false
	err := monitorDatastoreWithTicker(context.Background(), nil, &scriptedPinger{}, 0, func(time.Duration) monitorTicker {
		called = true
		return newManualTicker()
	})
	if err != nil || called {
		t.Fatalf("expected disabled monitor to return at once, err=%v ticker=%v", err, called)
	}
}
