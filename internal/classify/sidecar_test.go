package classify_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/songseungho-v/ai-clothes-sorter/internal/classify"
	"github.com/songseungho-v/ai-clothes-sorter/internal/types"
)

// A sidecar process that never answers exercises the timeout path: the
// call must report the timeout, tear the process down and leave the
// classifier usable for the next call. The in-flight I/O goroutine
// must survive the teardown (it holds its own pipe handles; run with
// -race to verify).
func TestSidecarTimeoutTearsDownAndRecovers(t *testing.T) {
	s := classify.NewSidecar("sleep", []string{"30"}, 50*time.Millisecond)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	frame := &types.Frame{Data: []byte(strings.Repeat("x", 1<<20)), Width: 640, Height: 480}

	_, err := s.Classify(context.Background(), frame, 0.5)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("Classify err = %v, want timeout", err)
	}

	// Give the orphaned I/O goroutine time to unblock against the
	// closed pipes before the next exchange.
	time.Sleep(50 * time.Millisecond)

	// The process was torn down; the next call relaunches and times out
	// again rather than panicking or desyncing.
	_, err = s.Classify(context.Background(), frame, 0.5)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("Classify after teardown err = %v, want timeout", err)
	}
}

func TestSidecarContextCancellation(t *testing.T) {
	s := classify.NewSidecar("sleep", []string{"30"}, 10*time.Second)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Classify(ctx, &types.Frame{Data: []byte("x")}, 0.5)
	if err != context.Canceled {
		t.Fatalf("Classify err = %v, want context.Canceled", err)
	}
}

func TestSidecarStopBeforeStart(t *testing.T) {
	s := classify.NewSidecar("sleep", []string{"30"}, time.Second)
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop on unstarted sidecar: %v", err)
	}
}
