package cluster

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMonitorMarksServerHealthy(t *testing.T) {
	r := NewRegistry(testParams())
	r.Upsert(ServerInfo{ID: "srv-1", Addr: "http://peer:9010"})

	m := NewMonitor(r, 10*time.Millisecond)
	m.SetCheckFunc(func(addr string) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	go m.Run(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()

	got, err := r.Get("srv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != "healthy" {
		t.Errorf("Status = %q, want healthy", got.Status)
	}
	if got.LastSeen.IsZero() {
		t.Error("expected LastSeen to be set")
	}
}

func TestMonitorMarksServerUnhealthyAfterThreshold(t *testing.T) {
	r := NewRegistry(testParams())
	r.Upsert(ServerInfo{ID: "srv-1", Addr: "http://peer:9010"})

	m := NewMonitor(r, 5*time.Millisecond)
	m.SetCheckFunc(func(addr string) error { return context.DeadlineExceeded })

	var mu sync.Mutex
	var unhealthyID string
	done := make(chan struct{}, 1)
	m.SetOnUnhealthy(func(id string) {
		mu.Lock()
		unhealthyID = id
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for onUnhealthy callback")
	}

	mu.Lock()
	got := unhealthyID
	mu.Unlock()
	if got != "srv-1" {
		t.Errorf("onUnhealthy id = %q, want srv-1", got)
	}

	info, err := r.Get("srv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if info.Status != "unhealthy" {
		t.Errorf("Status = %q, want unhealthy", info.Status)
	}
}

func TestMonitorDefaultCheckAddsHTTPPrefix(t *testing.T) {
	m := NewMonitor(NewRegistry(testParams()), time.Second)
	// A bogus address with no listener should fail quickly rather than hang.
	if err := m.defaultCheck("127.0.0.1:1"); err == nil {
		t.Error("expected an error connecting to a closed port")
	}
}
