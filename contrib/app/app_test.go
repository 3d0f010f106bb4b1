package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type fakeServer struct {
	startErr  error
	stopped   atomic.Bool
	startedAt chan struct{}
}

func newFakeServer(startErr error) *fakeServer {
	return &fakeServer{startErr: startErr, startedAt: make(chan struct{}, 1)}
}

func (f *fakeServer) Start(ctx context.Context) error {
	f.startedAt <- struct{}{}
	if f.startErr != nil {
		return f.startErr
	}
	<-ctx.Done()
	return nil
}

func (f *fakeServer) Stop(ctx context.Context) error {
	f.stopped.Store(true)
	return nil
}

func TestRunStopsAllServersOnOneFailing(t *testing.T) {
	failing := newFakeServer(errors.New("boom"))
	healthy := newFakeServer(nil)

	a := New(
		Name("test-app"),
		StopTimeout(2*time.Second),
		Server(failing, healthy),
	)

	done := make(chan error, 1)
	go func() { done <- a.Run() }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected Run to return the failing server's error")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after a server failed")
	}

	if !failing.stopped.Load() {
		t.Fatalf("failing server was not stopped")
	}
	if !healthy.stopped.Load() {
		t.Fatalf("healthy server was not stopped once its sibling failed")
	}
}

func TestNewDefaultsStopTimeout(t *testing.T) {
	a := New()
	if a.stopTimeout != 30*time.Second {
		t.Fatalf("default stopTimeout = %v, want 30s", a.stopTimeout)
	}
}
