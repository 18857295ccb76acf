// Package resolve annotates addresses with reverse DNS names without
// blocking the caller.
package resolve

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/metrics"
)

const (
	defaultCleanup = time.Minute
	maxInFlight    = 16
)

// LookupFunc performs a reverse lookup.
type LookupFunc func(ctx context.Context, addr string) ([]string, error)

// Resolver caches reverse lookups. Hostname returns immediately; misses
// start a background lookup whose answer shows up on a later call.
// Failed lookups are cached as empty names for the same TTL.
type Resolver struct {
	names   *cache.Cache // addr → hostname, "" while pending or unresolved
	lookup  LookupFunc
	ttl     time.Duration
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	sem    chan struct{}

	// mu orders lookup launches against Close
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookup replaces the system resolver.
func WithLookup(fn LookupFunc) Option {
	return func(r *Resolver) {
		r.lookup = fn
	}
}

// New creates a Resolver.
func New(cfg config.ResolveConfig, opts ...Option) *Resolver {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Resolver{
		names:   cache.New(cfg.TTL, defaultCleanup),
		lookup:  net.DefaultResolver.LookupAddr,
		ttl:     cfg.TTL,
		timeout: cfg.LookupTimeout,
		ctx:     ctx,
		cancel:  cancel,
		sem:     make(chan struct{}, maxInFlight),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Hostname returns the cached name for addr, or "" if none is known yet.
func (r *Resolver) Hostname(addr netip.Addr) string {
	if !addr.IsValid() {
		return ""
	}
	key := addr.String()
	if v, ok := r.names.Get(key); ok {
		return v.(string)
	}
	if r.ctx.Err() != nil {
		return ""
	}

	// Add fails if another caller already claimed the key.
	if err := r.names.Add(key, "", r.timeout+time.Second); err != nil {
		return ""
	}
	select {
	case r.sem <- struct{}{}:
	default:
		// too many lookups in flight, retry on a later call
		r.names.Delete(key)
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		<-r.sem
		r.names.Delete(key)
		return ""
	}
	r.wg.Add(1)
	go r.resolve(key)
	return ""
}

func (r *Resolver) resolve(key string) {
	defer r.wg.Done()
	defer func() { <-r.sem }()

	ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
	defer cancel()

	names, err := r.lookup(ctx, key)
	if err != nil || len(names) == 0 {
		metrics.ResolveLookupsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		if r.ctx.Err() == nil {
			slog.Debug("reverse lookup failed", "addr", key, "error", err)
			r.names.Set(key, "", r.ttl)
		}
		return
	}

	metrics.ResolveLookupsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	r.names.Set(key, strings.TrimSuffix(names[0], "."), r.ttl)
}

// Close cancels in-flight lookups and waits for them.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
