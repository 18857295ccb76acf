// Package export forwards published snapshots to external systems.
package export

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/netdash/internal/metrics"
	"firestige.xyz/netdash/internal/publisher"
)

const defaultExportTimeout = 5 * time.Second

// Exporter delivers one snapshot to an external sink.
type Exporter interface {
	Name() string
	Export(ctx context.Context, snap *publisher.Snapshot) error
	Close() error
}

// Source hands out snapshot subscriptions.
type Source interface {
	Subscribe() (*publisher.Subscription, *publisher.Snapshot)
}

// Runner drives each exporter from its own subscription, so a slow sink
// only loses its own snapshots.
type Runner struct {
	source    Source
	exporters []Exporter
	timeout   time.Duration

	mu      sync.Mutex
	subs    []*publisher.Subscription
	wg      sync.WaitGroup
	started bool
}

// NewRunner creates a Runner. A zero timeout selects the default.
func NewRunner(source Source, timeout time.Duration, exporters ...Exporter) *Runner {
	if timeout <= 0 {
		timeout = defaultExportTimeout
	}
	return &Runner{
		source:    source,
		exporters: exporters,
		timeout:   timeout,
	}
}

// Start subscribes every exporter.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true

	for _, exp := range r.exporters {
		sub, _ := r.source.Subscribe()
		r.subs = append(r.subs, sub)
		r.wg.Add(1)
		go r.run(ctx, exp, sub)
		slog.Info("snapshot exporter started", "exporter", exp.Name())
	}
}

func (r *Runner) run(ctx context.Context, exp Exporter, sub *publisher.Subscription) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-sub.C():
			if !ok {
				return
			}
			r.export(ctx, exp, snap)
		}
	}
}

func (r *Runner) export(ctx context.Context, exp Exporter, snap *publisher.Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := exp.Export(ctx, snap); err != nil {
		metrics.ExportMessagesTotal.WithLabelValues(exp.Name(), metrics.ResultFailure).Inc()
		slog.Warn("snapshot export failed", "exporter", exp.Name(), "seq", snap.Seq, "error", err)
		return
	}
	metrics.ExportMessagesTotal.WithLabelValues(exp.Name(), metrics.ResultSuccess).Inc()
}

// Stop unsubscribes, waits for in-flight exports and closes every exporter.
func (r *Runner) Stop() error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	r.wg.Wait()

	var firstErr error
	for _, exp := range r.exporters {
		if err := exp.Close(); err != nil {
			slog.Error("failed to close exporter", "exporter", exp.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
