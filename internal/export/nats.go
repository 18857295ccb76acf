package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/publisher"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSExporter publishes each snapshot as JSON on a subject.
type NATSExporter struct {
	conn    natsConn
	subject string
}

// NewNATSExporter connects to the NATS server.
func NewNATSExporter(cfg config.NATSExportConfig) (*NATSExporter, error) {
	if cfg.Subject == "" {
		return nil, fmt.Errorf("%w: nats exporter requires a subject", core.ErrConfigInvalid)
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("netdash"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", cfg.URL, err)
	}
	slog.Info("connected to nats", "url", cfg.URL, "subject", cfg.Subject)
	return &NATSExporter{conn: nc, subject: cfg.Subject}, nil
}

func (n *NATSExporter) Name() string { return "nats" }

// Export publishes one snapshot. Publish is buffered by the client and
// does not wait for the server.
func (n *NATSExporter) Export(ctx context.Context, snap *publisher.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("serialize snapshot failed: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats publish failed: %w", err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATSExporter) Close() error {
	return n.conn.Drain()
}
