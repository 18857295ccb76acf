// Package sourcetest provides scripted capture handles for tests.
package sourcetest

import (
	"context"
	"sync"

	"github.com/google/gopacket/layers"

	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/source"
)

type event struct {
	frame core.RawFrame
	err   error
}

// Handle is an in-memory source.Handle fed by Push and Fail.
type Handle struct {
	events chan event
	done   chan struct{}
	once   sync.Once
}

// NewHandle creates a handle with room for n queued frames.
func NewHandle(n int) *Handle {
	return &Handle{
		events: make(chan event, n),
		done:   make(chan struct{}),
	}
}

// Push queues a frame.
func (h *Handle) Push(f core.RawFrame) {
	h.events <- event{frame: f}
}

// Fail queues a read error delivered after the frames pushed before it.
func (h *Handle) Fail(err error) {
	h.events <- event{err: err}
}

func (h *Handle) Next(ctx context.Context) (core.RawFrame, error) {
	select {
	case <-ctx.Done():
		return core.RawFrame{}, ctx.Err()
	case <-h.done:
		return core.RawFrame{}, core.ErrHandleClosed
	case ev := <-h.events:
		return ev.frame, ev.err
	}
}

func (h *Handle) LinkType() core.LinkType {
	return core.LinkType(layers.LinkTypeEthernet)
}

func (h *Handle) Stats() (source.Stats, error) {
	return source.Stats{}, nil
}

func (h *Handle) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result is one scripted Open outcome.
type Result struct {
	Handle *Handle
	Err    error
}

// Opener returns scripted results in order; once exhausted it keeps
// returning the last one.
type Opener struct {
	mu      sync.Mutex
	results []Result
	calls   int
	configs []source.Config
}

// NewOpener creates an Opener with the given script.
func NewOpener(results ...Result) *Opener {
	return &Opener{results: results}
}

func (o *Opener) Open(cfg source.Config) (source.Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.configs = append(o.configs, cfg)
	idx := min(o.calls, len(o.results)-1)
	o.calls++
	if idx < 0 {
		return NewHandle(64), nil
	}
	r := o.results[idx]
	if r.Err != nil {
		return nil, r.Err
	}
	if r.Handle == nil {
		return NewHandle(64), nil
	}
	return r.Handle, nil
}

// Calls returns the number of Open calls.
func (o *Opener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}

// Configs returns the configs passed to Open.
func (o *Opener) Configs() []source.Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]source.Config(nil), o.configs...)
}
