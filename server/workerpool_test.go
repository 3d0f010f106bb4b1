package server

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaycache/relaycache/contrib/log"
	"github.com/relaycache/relaycache/session"
)

func TestFixedWorkerPoolDrivesScheduledSessions(t *testing.T) {
	var driven atomic.Int64
	var wg sync.WaitGroup
	wg.Add(3)

	wp := NewFixedWorkerPool(2, 8, func(sess *session.Session) {
		driven.Add(1)
		wg.Done()
	}, log.DefaultLogger)
	defer wp.Close()

	for i := 0; i < 3; i++ {
		if err := wp.Schedule(&session.Session{}); err != nil {
			t.Fatalf("Schedule: %v", err)
		}
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("not all scheduled sessions were driven, driven=%d", driven.Load())
	}
}

func TestFixedWorkerPoolSaturatedQueueRejects(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	wp := NewFixedWorkerPool(1, 1, func(sess *session.Session) {
		<-block
	}, log.DefaultLogger)
	defer wp.Close()

	// First session occupies the single worker; the queue can hold one
	// more before Schedule starts rejecting.
	if err := wp.Schedule(&session.Session{}); err != nil {
		t.Fatalf("first Schedule: %v", err)
	}
	if err := wp.Schedule(&session.Session{}); err != nil {
		t.Fatalf("second Schedule (queued): %v", err)
	}

	// Give the worker a moment to pick up the first session so the
	// channel buffer is actually full for the next Schedule.
	time.Sleep(50 * time.Millisecond)

	if err := wp.Schedule(&session.Session{}); err != ErrQueueSaturated {
		t.Fatalf("Schedule on a saturated pool = %v, want ErrQueueSaturated", err)
	}
}

func TestNewFixedWorkerPoolDefaults(t *testing.T) {
	wp := NewFixedWorkerPool(0, 0, func(sess *session.Session) {}, log.DefaultLogger)
	defer wp.Close()

	if cap(wp.work) != 64 {
		t.Fatalf("default queue size = %d, want 64 (1 worker * 64)", cap(wp.work))
	}
}
