package export

import (
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netdash/internal/aggregator"
	"firestige.xyz/netdash/internal/config"
	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/publisher"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type fakeConn struct {
	subject string
	data    []byte
	drained bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.subject, c.data = subject, data
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func testSnapshot(t *testing.T) *publisher.Snapshot {
	t.Helper()
	agg, err := aggregator.New(aggregator.Config{FlowCap: 8, HistoryDepth: 2}, time.Unix(0, 0))
	require.NoError(t, err)
	agg.Ingest(core.ParsedRecord{
		Length:     100,
		HasNetwork: true,
		Protocol:   core.ProtoUDP,
		Network: core.NetworkHeader{
			Version:  4,
			Protocol: core.IPProtoUDP,
			Src:      netip.MustParseAddr("10.0.0.1"),
			Dst:      netip.MustParseAddr("10.0.0.2"),
		},
		HasPorts: true,
		SrcPort:  5353,
		DstPort:  53,
	})
	snap := publisher.Build(agg.View(), 5, time.Unix(1, 0))
	snap.Seq = 7
	return snap
}

func TestKafkaExport(t *testing.T) {
	w := &fakeWriter{}
	exp := newKafkaExporter(w, config.KafkaExportConfig{Topic: "traffic"}, "eth0")

	snap := testSnapshot(t)
	require.NoError(t, exp.Export(context.Background(), snap))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "eth0", string(msg.Key))
	assert.Equal(t, snap.Time, msg.Time)
	assert.Equal(t, "seq", msg.Headers[0].Key)
	assert.Equal(t, "7", string(msg.Headers[0].Value))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.EqualValues(t, 7, decoded["seq"])

	require.NoError(t, exp.Close())
	assert.True(t, w.closed)
	assert.Equal(t, uint64(1), exp.reported.Load())
}

func TestKafkaExportError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	exp := newKafkaExporter(w, config.KafkaExportConfig{}, "eth0")

	err := exp.Export(context.Background(), testSnapshot(t))
	assert.ErrorContains(t, err, "broker down")
	assert.Equal(t, uint64(1), exp.failed.Load())
}

func TestNewKafkaExporterValidation(t *testing.T) {
	_, err := NewKafkaExporter(config.KafkaExportConfig{Topic: "t"}, "eth0")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = NewKafkaExporter(config.KafkaExportConfig{Brokers: []string{"k:9092"}}, "eth0")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = NewKafkaExporter(config.KafkaExportConfig{Brokers: []string{"k:9092"}, Topic: "t", Compression: "zstd"}, "eth0")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	exp, err := NewKafkaExporter(config.KafkaExportConfig{Brokers: []string{"k:9092"}, Topic: "t", Compression: "snappy"}, "eth0")
	require.NoError(t, err)
	assert.Equal(t, "kafka", exp.Name())
	require.NoError(t, exp.Close())
}

func TestCompressionCodec(t *testing.T) {
	tests := map[string]kafka.Compression{
		"":       0,
		"none":   0,
		"gzip":   compress.Gzip,
		"snappy": compress.Snappy,
		"lz4":    compress.Lz4,
	}
	for name, want := range tests {
		got, err := compressionCodec(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestNATSExport(t *testing.T) {
	conn := &fakeConn{}
	exp := &NATSExporter{conn: conn, subject: "netdash.snapshots"}

	require.NoError(t, exp.Export(context.Background(), testSnapshot(t)))
	assert.Equal(t, "netdash.snapshots", conn.subject)
	assert.Contains(t, string(conn.data), `"seq":7`)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, exp.Export(ctx, testSnapshot(t)), context.Canceled)

	require.NoError(t, exp.Close())
	assert.True(t, conn.drained)
}

func TestNewNATSExporterRequiresSubject(t *testing.T) {
	_, err := NewNATSExporter(config.NATSExportConfig{URL: "nats://127.0.0.1:4222"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

type recordingExporter struct {
	name string
	mu   sync.Mutex
	seqs []uint64
	fail bool
	done bool
}

func (e *recordingExporter) Name() string { return e.name }

func (e *recordingExporter) Export(_ context.Context, snap *publisher.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seqs = append(e.seqs, snap.Seq)
	if e.fail {
		return errors.New("sink unavailable")
	}
	return nil
}

func (e *recordingExporter) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	return nil
}

func (e *recordingExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.seqs)
}

func TestRunnerForwardsSnapshots(t *testing.T) {
	pub := publisher.New(publisher.Config{TopN: 3, SubscriberBuffer: 8})
	agg, err := aggregator.New(aggregator.Config{FlowCap: 4, HistoryDepth: 2}, time.Now())
	require.NoError(t, err)

	good := &recordingExporter{name: "good"}
	bad := &recordingExporter{name: "bad", fail: true}
	r := NewRunner(pub, time.Second, good, bad)
	r.Start(context.Background())

	for range 3 {
		pub.Publish(agg.View(), time.Now())
	}

	require.Eventually(t, func() bool { return good.count() == 3 && bad.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, r.Stop())
	assert.True(t, good.done)
	assert.True(t, bad.done)
	assert.Equal(t, []uint64{1, 2, 3}, good.seqs)
}

func TestRunnerStopWithoutStart(t *testing.T) {
	exp := &recordingExporter{name: "idle"}
	r := NewRunner(publisher.New(publisher.Config{}), 0, exp)
	require.NoError(t, r.Stop())
	assert.True(t, exp.done)
}
