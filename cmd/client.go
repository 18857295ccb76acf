package cmd

import (
	"context"

	"firestige.xyz/netdash/internal/api"
	"firestige.xyz/netdash/internal/engine"
	"firestige.xyz/netdash/internal/publisher"
	"firestige.xyz/netdash/internal/source"
)

// Client is the daemon API surface used by the control commands.
type Client interface {
	Health(ctx context.Context) (*engine.Health, error)
	Snapshot(ctx context.Context) (*publisher.Snapshot, error)
	Start(ctx context.Context, req api.StartRequest) (*engine.Health, error)
	Stop(ctx context.Context) (*engine.Health, error)
	Interfaces(ctx context.Context) ([]source.Interface, error)
	Stream(ctx context.Context, fn func(*publisher.Snapshot) error) error
}

func newClient() Client {
	return api.NewClient(apiAddr, apiTimeout)
}
