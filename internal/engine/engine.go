// Package engine owns the capture lifecycle: it wires the frame source,
// the decoder, the aggregator and the snapshot publisher together.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/netdash/internal/aggregator"
	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/core/decoder"
	"firestige.xyz/netdash/internal/metrics"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/source"
)

const defaultStatsInterval = time.Second

// Engine is the capture controller. Start and Stop are serialized; the
// capture goroutine owns the handle exclusively.
type Engine struct {
	opener source.Opener
	pub    *publisher.Publisher

	// lifecycle serializes Start and Stop
	lifecycle sync.Mutex

	mu     sync.Mutex
	health Health
	run    *run
}

// run is a single Start..Stop cycle.
type run struct {
	cfg    Config
	agg    *aggregator.Aggregator
	ctx    context.Context
	cancel context.CancelFunc

	captureDone chan struct{}
	tickDone    chan struct{}
	drained     chan struct{}

	frames atomic.Uint64
}

func (r *run) finished() bool {
	select {
	case <-r.captureDone:
		return true
	default:
		return false
	}
}

// New creates an idle Engine.
func New(opener source.Opener, pub *publisher.Publisher) *Engine {
	e := &Engine{
		opener: opener,
		pub:    pub,
	}
	e.setStateLocked(StateIdle, nil)
	return e
}

// Start opens the capture source and launches the capture and timer
// goroutines. If the source cannot be opened the health state is left
// unchanged and the open error is returned.
func (e *Engine) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = defaultStatsInterval
	}

	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	prev := e.run
	e.mu.Unlock()
	if prev != nil {
		if !prev.finished() && prev.ctx.Err() == nil {
			return core.ErrAlreadyRunning
		}
		// capture ended on its own; tear down what is left of the run
		prev.cancel()
		<-prev.captureDone
		<-prev.tickDone
	}

	h, err := e.opener.Open(cfg.Capture)
	if err != nil {
		slog.Error("failed to open capture source", "target", cfg.Capture.Name(), "error", err)
		return err
	}

	now := time.Now()
	agg, err := aggregator.New(cfg.Aggregation, now)
	if err != nil {
		h.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		cfg:         cfg,
		agg:         agg,
		ctx:         ctx,
		cancel:      cancel,
		captureDone: make(chan struct{}),
		tickDone:    make(chan struct{}),
		drained:     make(chan struct{}),
	}

	e.mu.Lock()
	e.run = r
	e.health.Target = cfg.Capture.Name()
	e.health.Reopens = 0
	e.setStateLocked(StateStarting, nil)
	e.mu.Unlock()

	go e.capture(r, h)
	go e.tick(r)

	slog.Info("capture started",
		"target", cfg.Capture.Name(),
		"filter", cfg.Capture.Filter,
		"window", cfg.WindowInterval,
		"publish_interval", cfg.PublishInterval)
	return nil
}

// Stop cancels capture, waits for the goroutines to exit, publishes a
// final snapshot and returns to idle. It returns ErrNotRunning when
// nothing was started.
func (e *Engine) Stop() error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return core.ErrNotRunning
	}

	r.cancel()
	<-r.captureDone
	<-r.tickDone

	now := time.Now()
	r.agg.Rotate(now)
	snap := e.pub.Publish(r.agg.View(), now)

	e.mu.Lock()
	e.run = nil
	e.setStateLocked(StateIdle, nil)
	e.mu.Unlock()

	slog.Info("capture stopped",
		"target", r.cfg.Capture.Name(),
		"frames", r.frames.Load(),
		"packets", snap.Totals.Packets,
		"bytes", snap.Totals.Bytes)
	return nil
}

// Close stops any running capture and closes the publisher.
func (e *Engine) Close() error {
	err := e.Stop()
	e.pub.Close()
	if errors.Is(err, core.ErrNotRunning) {
		return nil
	}
	return err
}

// Health returns the current status.
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.health
	if e.run != nil {
		h.Frames = e.run.frames.Load()
		select {
		case <-e.run.drained:
			h.Drained = true
		default:
		}
	}
	return h
}

// Subscribe registers a snapshot subscriber and returns the latest
// snapshot, if any.
func (e *Engine) Subscribe() (*publisher.Subscription, *publisher.Snapshot) {
	return e.pub.Subscribe()
}

// Latest returns the most recent snapshot or nil.
func (e *Engine) Latest() *publisher.Snapshot {
	return e.pub.Latest()
}

// Drained returns a channel closed once an offline source has been read
// to the end. It returns nil when no capture is running.
func (e *Engine) Drained() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return e.run.drained
}

func (e *Engine) setStateLocked(s State, err error) {
	e.health.State = s
	e.health.Since = time.Now()
	e.health.Error = ""
	if err != nil {
		e.health.Error = err.Error()
	}
	metrics.EngineState.Set(s.gauge())
}

// capture reads frames until the run is cancelled, the source is
// exhausted, or re-open retries run out. The retry budget covers
// consecutive re-opens; it is restored only once a re-opened handle has
// delivered a frame.
func (e *Engine) capture(r *run, h source.Handle) {
	defer close(r.captureDone)
	defer func() {
		if h != nil {
			h.Close()
		}
	}()

	lastStats := time.Now()
	attempts := 0
	for {
		frame, err := h.Next(r.ctx)
		if err == nil {
			attempts = 0
			r.ingest(frame)
			if time.Since(lastStats) >= r.cfg.StatsInterval {
				sampleDrops(h)
				lastStats = time.Now()
			}
			continue
		}

		if r.ctx.Err() != nil {
			return
		}
		if errors.Is(err, io.EOF) {
			slog.Info("capture source drained", "target", r.cfg.Capture.Name(), "frames", r.frames.Load())
			close(r.drained)
			return
		}
		if r.cfg.Capture.Offline() {
			// re-opening a file would replay it from the start
			e.fail(r, fmt.Errorf("%w: %v", core.ErrCaptureUnavailable, err))
			return
		}

		slog.Warn("capture interrupted", "target", r.cfg.Capture.Name(), "error", err)
		h.Close()
		h, attempts, err = e.reopen(r, attempts, err)
		if err != nil {
			if r.ctx.Err() == nil {
				e.fail(r, err)
			}
			return
		}
	}
}

// reopen retries Open with exponential backoff. used is the number of
// attempts already spent since the last delivered frame; the returned
// count includes the successful attempt.
func (e *Engine) reopen(r *run, used int, cause error) (source.Handle, int, error) {
	backoff := r.cfg.Retry.InitialBackoff
	for range used {
		backoff = r.cfg.backoff(backoff)
	}

	lastErr := cause
	for attempt := used + 1; attempt <= r.cfg.Retry.MaxAttempts; attempt++ {
		timer := time.NewTimer(backoff)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return nil, attempt - 1, r.ctx.Err()
		case <-timer.C:
		}

		h, err := e.opener.Open(r.cfg.Capture)
		if err == nil {
			metrics.CaptureReopenTotal.WithLabelValues(metrics.ResultSuccess).Inc()
			e.mu.Lock()
			e.health.Reopens++
			e.mu.Unlock()
			slog.Info("capture source re-opened", "target", r.cfg.Capture.Name(), "attempt", attempt)
			return h, attempt, nil
		}

		metrics.CaptureReopenTotal.WithLabelValues(metrics.ResultFailure).Inc()
		slog.Warn("capture re-open failed",
			"target", r.cfg.Capture.Name(),
			"attempt", attempt,
			"max_attempts", r.cfg.Retry.MaxAttempts,
			"error", err)
		lastErr = err
		backoff = r.cfg.backoff(backoff)
	}

	return nil, r.cfg.Retry.MaxAttempts, fmt.Errorf("%w: %d re-open attempts without a frame: %v",
		core.ErrCaptureUnavailable, r.cfg.Retry.MaxAttempts, lastErr)
}

// Done returns a channel closed once the capture goroutine has exited:
// the source drained, retries ran out or Stop was called. It returns nil
// when no capture is running.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == nil {
		return nil
	}
	return e.run.captureDone
}

func (e *Engine) fail(r *run, err error) {
	r.cancel()
	e.mu.Lock()
	if e.run == r {
		e.setStateLocked(StateUnavailable, err)
	}
	e.mu.Unlock()
	slog.Error("capture unavailable", "target", r.cfg.Capture.Name(), "error", err)
}

// tick drives window rotation and snapshot publication.
func (e *Engine) tick(r *run) {
	defer close(r.tickDone)

	rotate := time.NewTicker(r.cfg.WindowInterval)
	defer rotate.Stop()
	publish := time.NewTicker(r.cfg.PublishInterval)
	defer publish.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-rotate.C:
			closed := r.agg.Rotate(now)
			slog.Debug("window rotated",
				"packets", closed.Total.Packets,
				"bytes", closed.Total.Bytes,
				"flows", len(closed.Flows),
				"evicted", closed.EvictedFlows)
		case now := <-publish.C:
			e.pub.Publish(r.agg.View(), now)
			e.mu.Lock()
			if e.run == r && e.health.State == StateStarting {
				e.setStateLocked(StateCapturing, nil)
			}
			e.mu.Unlock()
		}
	}
}

type protocolCounters struct {
	packets prometheus.Counter
	bytes   prometheus.Counter
}

var protocolMetrics = func() map[core.Protocol]protocolCounters {
	m := make(map[core.Protocol]protocolCounters, len(core.Protocols))
	for _, p := range core.Protocols {
		m[p] = protocolCounters{
			packets: metrics.ProtocolPacketsTotal.WithLabelValues(p.String()),
			bytes:   metrics.ProtocolBytesTotal.WithLabelValues(p.String()),
		}
	}
	return m
}()

func (r *run) ingest(frame core.RawFrame) {
	rec := decoder.Parse(frame)
	r.frames.Add(1)
	r.agg.Ingest(rec)

	metrics.CaptureFramesTotal.Inc()
	metrics.CaptureBytesTotal.Add(float64(rec.Length))
	if rec.Malformed {
		metrics.ParseMalformedTotal.Inc()
		return
	}
	if c, ok := protocolMetrics[rec.Protocol]; ok {
		c.packets.Inc()
		c.bytes.Add(float64(rec.Length))
	}
}

func sampleDrops(h source.Handle) {
	st, err := h.Stats()
	if err != nil {
		return
	}
	metrics.CaptureKernelDrops.Set(float64(st.Dropped))
}
