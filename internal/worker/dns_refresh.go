package worker

import (
	"context"
	"time"
)

const dnsRefreshInterval = 5 * time.Minute

// dnsResolver is the subset of *dnscache.Resolver the worker needs.
type dnsResolver interface {
	Refresh(clearUnused bool)
}

// DNSRefresher periodically refreshes the shared DNS cache used by every
// provider's HTTP transport, so a changed upstream IP is picked up without
// waiting for a connection failure.
type DNSRefresher struct {
	resolver dnsResolver
}

// NewDNSRefresher creates a DNSRefresher over the shared resolver.
func NewDNSRefresher(resolver dnsResolver) *DNSRefresher {
	return &DNSRefresher{resolver: resolver}
}

// Name returns the worker identifier.
func (d *DNSRefresher) Name() string { return "dns_refresh" }

// Run refreshes the resolver until ctx is cancelled.
func (d *DNSRefresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(dnsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.resolver.Refresh(true)
		case <-ctx.Done():
			return nil
		}
	}
}
