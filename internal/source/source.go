// Package source implements capture handles over libpcap, AF_PACKET and
// offline capture files.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/netdash/internal/core"
)

// Backend names.
const (
	BackendPcap     = "pcap"
	BackendAFPacket = "afpacket"
	BackendFile     = "file"
)

// Config describes the capture handle to open.
type Config struct {
	Interface    string
	Filter       string // BPF expression, optional
	Backend      string // pcap | afpacket; ignored when File is set
	Promiscuous  bool
	SnapLen      int
	ReadTimeout  time.Duration // poll interval for context checks
	BufferSizeMB int           // AF_PACKET ring size
	File         string        // replay a capture file instead of a live interface
}

// Name identifies the capture target for logs and exclusivity checks.
func (c Config) Name() string {
	if c.File != "" {
		return "file:" + c.File
	}
	return c.Interface
}

// Offline reports whether the source replays a capture file.
func (c Config) Offline() bool {
	return c.File != "" || c.Backend == BackendFile
}

// Stats are kernel-level capture counters.
type Stats struct {
	Received uint64
	Dropped  uint64
}

// Handle is an open capture handle. It is owned by a single goroutine.
type Handle interface {
	// Next blocks until a frame arrives, ctx is done or the handle fails.
	// A mid-stream OS failure is reported as core.ErrCaptureInterrupted;
	// the end of a capture file as io.EOF.
	Next(ctx context.Context) (core.RawFrame, error)
	LinkType() core.LinkType
	Stats() (Stats, error)
	Close() error
}

// Opener opens capture handles.
type Opener interface {
	Open(cfg Config) (Handle, error)
}

// BackendFunc opens a handle for one backend.
type BackendFunc func(cfg Config) (Handle, error)

// Manager opens handles and allows a single open handle per capture target.
type Manager struct {
	mu       sync.Mutex
	open     map[string]struct{}
	backends map[string]BackendFunc
	lookup   func(name string) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithBackend registers or replaces a backend.
func WithBackend(name string, fn BackendFunc) Option {
	return func(m *Manager) {
		m.backends[name] = fn
	}
}

// WithInterfaceLookup replaces the interface existence check.
func WithInterfaceLookup(fn func(name string) error) Option {
	return func(m *Manager) {
		m.lookup = fn
	}
}

// NewManager creates a Manager with the pcap, afpacket and file backends.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		open: make(map[string]struct{}),
		backends: map[string]BackendFunc{
			BackendPcap:     openPcap,
			BackendAFPacket: openAFPacket,
			BackendFile:     openFile,
		},
		lookup: lookupInterface,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open opens a capture handle. It fails with core.ErrInterfaceNotFound,
// core.ErrPermissionDenied or core.ErrAlreadyOpen.
func (m *Manager) Open(cfg Config) (Handle, error) {
	backend := cfg.Backend
	if cfg.File != "" {
		backend = BackendFile
	}
	if backend == "" {
		backend = BackendPcap
	}
	open, ok := m.backends[backend]
	if !ok {
		return nil, fmt.Errorf("%w: unknown capture backend %q", core.ErrConfigInvalid, backend)
	}

	if cfg.File == "" {
		if cfg.Interface == "" {
			return nil, fmt.Errorf("%w: capture interface is required", core.ErrConfigInvalid)
		}
		if err := m.lookup(cfg.Interface); err != nil {
			return nil, err
		}
	}

	name := cfg.Name()
	if err := m.reserve(name); err != nil {
		return nil, err
	}

	h, err := open(cfg)
	if err != nil {
		m.release(name)
		return nil, err
	}

	slog.Info("capture handle opened",
		"target", name,
		"backend", backend,
		"filter", cfg.Filter,
		"link_type", h.LinkType(),
	)
	return &managedHandle{Handle: h, release: func() { m.release(name) }}, nil
}

func (m *Manager) reserve(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.open[name]; busy {
		return fmt.Errorf("%w: %s", core.ErrAlreadyOpen, name)
	}
	m.open[name] = struct{}{}
	return nil
}

func (m *Manager) release(name string) {
	m.mu.Lock()
	delete(m.open, name)
	m.mu.Unlock()
}

// managedHandle releases the Manager reservation on Close.
type managedHandle struct {
	Handle
	once    sync.Once
	release func()
}

func (h *managedHandle) Close() error {
	var err error
	h.once.Do(func() {
		err = h.Handle.Close()
		h.release()
	})
	return err
}
