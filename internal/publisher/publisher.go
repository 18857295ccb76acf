// Package publisher materializes snapshots of aggregator state and fans
// them out to subscribers.
package publisher

import (
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/netdash/internal/aggregator"
	"firestige.xyz/netdash/internal/metrics"
)

const defaultSubscriberBuffer = 4

// Annotator supplies a hostname for an address without blocking.
// An empty string means no name is known yet.
type Annotator interface {
	Hostname(addr netip.Addr) string
}

// Config controls snapshot content and delivery.
type Config struct {
	TopN             int
	SubscriberBuffer int
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAnnotator sets the hostname source for top sources.
func WithAnnotator(a Annotator) Option {
	return func(p *Publisher) {
		p.annotator = a
	}
}

// Publisher builds snapshots and delivers them to subscribers. Delivery
// never blocks: a subscriber whose buffer is full misses that snapshot.
type Publisher struct {
	cfg       Config
	annotator Annotator

	seq atomic.Uint64

	mu     sync.RWMutex
	latest *Snapshot
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// New creates a Publisher.
func New(cfg Config, opts ...Option) *Publisher {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaultSubscriberBuffer
	}
	p := &Publisher{
		cfg:  cfg,
		subs: make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish builds a snapshot from v and delivers it to every subscriber.
func (p *Publisher) Publish(v aggregator.View, now time.Time) *Snapshot {
	snap := Build(v, p.cfg.TopN, now)
	snap.Seq = p.seq.Add(1)
	if p.annotator != nil {
		for i := range snap.TopSources {
			snap.TopSources[i].Hostname = p.annotator.Hostname(snap.TopSources[i].Addr)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = snap
	for _, sub := range p.subs {
		select {
		case sub.ch <- snap:
		default:
			sub.dropped.Add(1)
			metrics.SnapshotDropsTotal.Inc()
		}
	}
	metrics.SnapshotsPublishedTotal.Inc()
	return snap
}

// Latest returns the most recent snapshot, or nil before the first Publish.
func (p *Publisher) Latest() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Subscribe registers for subsequent snapshots and returns the latest one.
func (p *Publisher) Subscribe() (*Subscription, *Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &Subscription{
		id:  p.nextID,
		ch:  make(chan *Snapshot, p.cfg.SubscriberBuffer),
		pub: p,
	}
	p.nextID++
	if p.closed {
		close(sub.ch)
		sub.done = true
		return sub, p.latest
	}
	p.subs[sub.id] = sub
	metrics.Subscribers.Set(float64(len(p.subs)))
	slog.Debug("snapshot subscriber added", "id", sub.id)
	return sub, p.latest
}

// Close closes every subscription channel. Later subscriptions are
// returned already closed.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		sub.done = true
		close(sub.ch)
		delete(p.subs, id)
	}
	metrics.Subscribers.Set(0)
}

func (p *Publisher) unsubscribe(sub *Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	delete(p.subs, sub.id)
	close(sub.ch)
	metrics.Subscribers.Set(float64(len(p.subs)))
}

// Subscription receives snapshots until closed.
type Subscription struct {
	id      uint64
	ch      chan *Snapshot
	pub     *Publisher
	dropped atomic.Uint64
	done    bool // guarded by pub.mu
}

// C returns the delivery channel. It is closed by Close or when the
// publisher shuts down.
func (s *Subscription) C() <-chan *Snapshot {
	return s.ch
}

// Dropped returns how many snapshots were skipped because the buffer was full.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unregisters the subscription.
func (s *Subscription) Close() {
	s.pub.unsubscribe(s)
}
