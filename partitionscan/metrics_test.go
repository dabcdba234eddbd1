package partitionscan

import (
	"context"
	"testing"
	"time"
)

func TestServeMetricsStopsOnContextCancel(t *testing.T) {
	c := NewCounters()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.ServeMetrics(ctx, "127.0.0.1:0") }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("got %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ServeMetrics did not stop after context cancellation")
	}
}
