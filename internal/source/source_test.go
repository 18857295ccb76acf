package source

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netdash/internal/core"
)

type stubHandle struct {
	closes int
}

func (s *stubHandle) Next(ctx context.Context) (core.RawFrame, error) {
	<-ctx.Done()
	return core.RawFrame{}, ctx.Err()
}
func (s *stubHandle) LinkType() core.LinkType { return 1 }
func (s *stubHandle) Stats() (Stats, error)   { return Stats{}, nil }
func (s *stubHandle) Close() error            { s.closes++; return nil }

func newTestManager(known ...string) (*Manager, *int) {
	opened := 0
	lookup := func(name string) error {
		for _, k := range known {
			if k == name {
				return nil
			}
		}
		return fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, name)
	}
	backend := func(cfg Config) (Handle, error) {
		opened++
		return &stubHandle{}, nil
	}
	m := NewManager(
		WithInterfaceLookup(lookup),
		WithBackend(BackendPcap, backend),
		WithBackend(BackendFile, backend),
	)
	return m, &opened
}

func TestManagerOpenInterfaceNotFound(t *testing.T) {
	m, opened := newTestManager("eth0")

	h, err := m.Open(Config{Interface: "nope0"})

	assert.Nil(t, h)
	assert.ErrorIs(t, err, core.ErrInterfaceNotFound)
	assert.Equal(t, 0, *opened, "backend must not be called for unknown interfaces")

	// the failed attempt must not hold a reservation
	_, err = m.Open(Config{Interface: "nope0"})
	assert.ErrorIs(t, err, core.ErrInterfaceNotFound)
}

func TestManagerOpenAlreadyOpen(t *testing.T) {
	m, _ := newTestManager("eth0")

	h1, err := m.Open(Config{Interface: "eth0"})
	require.NoError(t, err)

	_, err = m.Open(Config{Interface: "eth0", Filter: "udp"})
	assert.ErrorIs(t, err, core.ErrAlreadyOpen)

	require.NoError(t, h1.Close())
	require.NoError(t, h1.Close(), "Close must be idempotent")

	h2, err := m.Open(Config{Interface: "eth0"})
	require.NoError(t, err)
	require.NoError(t, h2.Close())
}

func TestManagerReleasesOnBackendError(t *testing.T) {
	calls := 0
	m := NewManager(
		WithInterfaceLookup(func(string) error { return nil }),
		WithBackend(BackendPcap, func(Config) (Handle, error) {
			calls++
			if calls == 1 {
				return nil, fmt.Errorf("%w: open eth0", core.ErrPermissionDenied)
			}
			return &stubHandle{}, nil
		}),
	)

	_, err := m.Open(Config{Interface: "eth0"})
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	h, err := m.Open(Config{Interface: "eth0"})
	require.NoError(t, err)
	require.NoError(t, h.Close())
}

func TestManagerConfigErrors(t *testing.T) {
	m, _ := newTestManager("eth0")

	_, err := m.Open(Config{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = m.Open(Config{Interface: "eth0", Backend: "dpdk"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestManagerFileSkipsInterfaceLookup(t *testing.T) {
	m, opened := newTestManager()

	h, err := m.Open(Config{File: "/tmp/trace.pcap"})
	require.NoError(t, err)
	assert.Equal(t, 1, *opened)

	_, err = m.Open(Config{File: "/tmp/trace.pcap"})
	assert.True(t, errors.Is(err, core.ErrAlreadyOpen))
	require.NoError(t, h.Close())
}

func TestConfigName(t *testing.T) {
	assert.Equal(t, "eth0", Config{Interface: "eth0"}.Name())
	assert.Equal(t, "file:/x.pcap", Config{Interface: "eth0", File: "/x.pcap"}.Name())
}
