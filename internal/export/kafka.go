package export

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/publisher"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaExporter writes each snapshot as one JSON message keyed by the
// capture target, so snapshots of one target stay in one partition.
type KafkaExporter struct {
	writer messageWriter
	key    []byte
	cfg    config.KafkaExportConfig

	reported atomic.Uint64
	failed   atomic.Uint64
}

// NewKafkaExporter creates a Kafka exporter.
func NewKafkaExporter(cfg config.KafkaExportConfig, target string) (*KafkaExporter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka exporter requires brokers", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: kafka exporter requires a topic", core.ErrConfigInvalid)
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
	}
	slog.Info("kafka exporter configured",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.Compression)
	return newKafkaExporter(w, cfg, target), nil
}

func newKafkaExporter(w messageWriter, cfg config.KafkaExportConfig, target string) *KafkaExporter {
	return &KafkaExporter{writer: w, key: []byte(target), cfg: cfg}
}

func compressionCodec(name string) (kafka.Compression, error) {
	switch name {
	case "none", "":
		return 0, nil
	case "gzip":
		return compress.Gzip, nil
	case "snappy":
		return compress.Snappy, nil
	case "lz4":
		return compress.Lz4, nil
	default:
		return 0, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
	}
}

func (k *KafkaExporter) Name() string { return "kafka" }

// Export sends one snapshot.
func (k *KafkaExporter) Export(ctx context.Context, snap *publisher.Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		k.failed.Add(1)
		return fmt.Errorf("serialize snapshot failed: %w", err)
	}

	msg := kafka.Message{
		Key:   k.key,
		Value: value,
		Time:  snap.Time,
		Headers: []kafka.Header{
			{Key: "seq", Value: []byte(strconv.FormatUint(snap.Seq, 10))},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.failed.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	k.reported.Add(1)
	return nil
}

// Close flushes pending messages.
func (k *KafkaExporter) Close() error {
	err := k.writer.Close()
	slog.Info("kafka exporter stopped",
		"total_reported", k.reported.Load(),
		"total_errors", k.failed.Load())
	return err
}
