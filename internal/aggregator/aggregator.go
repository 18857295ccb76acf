// Package aggregator reduces parsed records into rolling per-window
// traffic statistics.
package aggregator

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/metrics"
)

// Config bounds the aggregator's memory.
type Config struct {
	FlowCap      int // flows per window before least-recently-updated eviction
	HistoryDepth int // completed windows retained
}

// Validate checks the bounds.
func (c Config) Validate() error {
	if c.FlowCap < 1 {
		return fmt.Errorf("%w: flow cap must be at least 1, got %d", core.ErrConfigInvalid, c.FlowCap)
	}
	if c.HistoryDepth < 1 {
		return fmt.Errorf("%w: history depth must be at least 1, got %d", core.ErrConfigInvalid, c.HistoryDepth)
	}
	return nil
}

// View is the current window plus completed history, oldest first.
// History entries are shared and must be treated as read-only.
type View struct {
	Current *WindowStats
	History []*WindowStats
}

// Aggregator owns the current window and the rolling history.
// Ingest and Rotate are serialized by a single mutex.
type Aggregator struct {
	cfg Config

	mu      sync.Mutex
	current *window
	history []*WindowStats
}

// New creates an Aggregator whose first window opens at start.
func New(cfg Config, start time.Time) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Aggregator{
		cfg:     cfg,
		history: make([]*WindowStats, 0, cfg.HistoryDepth),
	}
	w, err := a.newWindow(start)
	if err != nil {
		return nil, err
	}
	a.current = w
	return a, nil
}

func (a *Aggregator) newWindow(start time.Time) (*window, error) {
	return newWindow(start, a.cfg.FlowCap, func(k core.FlowKey, c Counts) {
		metrics.FlowEvictionsTotal.Inc()
		slog.Debug("flow evicted", "flow", k.String(), "packets", c.Packets, "bytes", c.Bytes)
	})
}

// Ingest adds one record to the current window.
func (a *Aggregator) Ingest(rec core.ParsedRecord) {
	a.mu.Lock()
	a.current.ingest(rec)
	a.mu.Unlock()
}

// Rotate closes the current window at now, pushes it onto the history
// and opens a new window. It returns the closed window.
func (a *Aggregator) Rotate(now time.Time) *WindowStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	closed := a.current.stats(now)

	if len(a.history) == a.cfg.HistoryDepth {
		// View hands out clones, so shifting in place is safe.
		copy(a.history, a.history[1:])
		a.history[len(a.history)-1] = closed
	} else {
		a.history = append(a.history, closed)
	}

	// The flow cap was validated in New, so this cannot fail.
	w, _ := a.newWindow(now)
	a.current = w

	metrics.WindowRotationsTotal.Inc()
	metrics.FlowTableSize.Set(0)
	return closed
}

// View copies the current window and the history slice.
func (a *Aggregator) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics.FlowTableSize.Set(float64(a.current.flows.Len()))
	return View{
		Current: a.current.stats(time.Time{}),
		History: slices.Clone(a.history),
	}
}

// Config returns the aggregator bounds.
func (a *Aggregator) Config() Config {
	return a.cfg
}
