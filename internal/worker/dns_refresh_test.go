package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeDNSResolver struct {
	refreshes atomic.Int32
}

func (f *fakeDNSResolver) Refresh(clearUnused bool) {
	f.refreshes.Add(1)
}

func TestDNSRefresher_Run_StopsOnCancel(t *testing.T) {
	t.Parallel()
	resolver := &fakeDNSResolver{}
	d := NewDNSRefresher(resolver)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("refresher did not stop after cancel")
	}
}

func TestDNSRefresher_Name(t *testing.T) {
	t.Parallel()
	d := NewDNSRefresher(&fakeDNSResolver{})
	if d.Name() != "dns_refresh" {
		t.Errorf("Name() = %q, want dns_refresh", d.Name())
	}
}
