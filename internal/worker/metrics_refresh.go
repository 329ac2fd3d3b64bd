package worker

import (
	"context"
	"time"

	"github.com/alcray/trainforge-conductor/internal/ledger"
	"github.com/alcray/trainforge-conductor/internal/telemetry"
)

const metricsRefreshInterval = 15 * time.Second

// ledgerSnapshotter is the subset of *ledger.Ledger the worker needs.
type ledgerSnapshotter interface {
	Snapshot() []ledger.Status
}

// MetricsRefresher periodically pushes ledger key state into the Prometheus
// gauges, since those gauges reflect background state rather than values
// produced on the request hot path.
type MetricsRefresher struct {
	ledger  ledgerSnapshotter
	metrics *telemetry.Metrics
}

// NewMetricsRefresher creates a MetricsRefresher. metrics may be nil, in
// which case Run is a no-op loop (metrics disabled in config).
func NewMetricsRefresher(lg ledgerSnapshotter, metrics *telemetry.Metrics) *MetricsRefresher {
	return &MetricsRefresher{ledger: lg, metrics: metrics}
}

// Name returns the worker identifier.
func (m *MetricsRefresher) Name() string { return "metrics_refresh" }

// Run refreshes the gauges until ctx is cancelled.
func (m *MetricsRefresher) Run(ctx context.Context) error {
	if m.metrics == nil {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(metricsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := m.ledger.Snapshot()
			out := make([]telemetry.KeySnapshot, len(snap))
			for i, s := range snap {
				out[i] = telemetry.KeySnapshot{
					Provider:          s.Provider,
					KeyName:           s.KeyName,
					AvailableRequests: s.RequestsRemaining,
					AvailableTokens:   s.TokensRemaining,
				}
			}
			m.metrics.RefreshKeyGauges(out)
		case <-ctx.Done():
			return nil
		}
	}
}
