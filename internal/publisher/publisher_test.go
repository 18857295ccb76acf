package publisher

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/netdash/internal/aggregator"
	"firestige.xyz/netdash/internal/core"
)

var t0 = time.Unix(1700000000, 0)

func record(proto uint8, src, dst string, sport, dport uint16, length uint64) core.ParsedRecord {
	return core.ParsedRecord{
		Timestamp:  t0,
		Length:     length,
		HasNetwork: true,
		Network: core.NetworkHeader{
			Version:  4,
			Src:      netip.MustParseAddr(src),
			Dst:      netip.MustParseAddr(dst),
			Protocol: proto,
		},
		Protocol: core.ProtocolFromIP(proto),
		HasPorts: true,
		SrcPort:  sport,
		DstPort:  dport,
	}
}

func newAggregator(t *testing.T) *aggregator.Aggregator {
	t.Helper()
	a, err := aggregator.New(aggregator.Config{FlowCap: 64, HistoryDepth: 4}, t0)
	require.NoError(t, err)
	return a
}

func TestBuildScenario(t *testing.T) {
	a := newAggregator(t)
	for i := 0; i < 3; i++ {
		a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 5000, 53, 100))
	}
	a.Ingest(record(core.IPProtoTCP, "10.0.0.3", "10.0.0.4", 40000, 80, 40))
	a.Rotate(t0.Add(2 * time.Second))

	snap := Build(a.View(), 1, t0.Add(2*time.Second))

	assert.Equal(t, aggregator.Counts{Packets: 4, Bytes: 340}, snap.Totals.Counts)
	assert.Equal(t, aggregator.Counts{Packets: 3, Bytes: 300}, snap.Totals.Protocols[core.ProtoUDP])
	assert.Equal(t, aggregator.Counts{Packets: 1, Bytes: 40}, snap.Totals.Protocols[core.ProtoTCP])

	require.Len(t, snap.History, 1)
	assert.Equal(t, uint64(340), snap.History[0].Total.Bytes)

	require.Len(t, snap.TopFlows, 1)
	assert.Equal(t, core.FlowKey{
		Src:     netip.MustParseAddr("10.0.0.1"),
		Dst:     netip.MustParseAddr("10.0.0.2"),
		Proto:   core.IPProtoUDP,
		SrcPort: 5000,
		DstPort: 53,
	}, snap.TopFlows[0].Key)
	assert.Equal(t, uint64(300), snap.TopFlows[0].Bytes)

	assert.InDelta(t, 170.0, snap.Throughput.BytesPerSec, 1e-9)
	assert.InDelta(t, 2.0, snap.Throughput.PacketsPerSec, 1e-9)
	assert.Equal(t, 2*time.Second, snap.Throughput.Window)
}

func TestBuildEmptyWindow(t *testing.T) {
	a := newAggregator(t)
	a.Rotate(t0.Add(time.Second))

	snap := Build(a.View(), 10, t0.Add(time.Second))

	assert.True(t, snap.Totals.IsZero())
	assert.Empty(t, snap.TopFlows)
	assert.Empty(t, snap.TopSources)
	require.Len(t, snap.History, 1)
	assert.Empty(t, snap.History[0].Flows)
	assert.Zero(t, snap.Throughput.BytesPerSec)
	assert.Equal(t, time.Second, snap.Throughput.Window)
}

func TestBuildNoCompletedWindow(t *testing.T) {
	a := newAggregator(t)
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 1, 2, 100))

	snap := Build(a.View(), 5, t0)

	assert.Equal(t, Throughput{}, snap.Throughput)
	assert.Equal(t, uint64(100), snap.Totals.Bytes, "totals include the open window")
	assert.Len(t, snap.TopFlows, 1)
}

func TestBuildMergesFlowsAcrossWindows(t *testing.T) {
	a := newAggregator(t)
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 1, 2, 100))
	a.Ingest(record(core.IPProtoTCP, "10.0.0.5", "10.0.0.2", 1, 2, 150))
	a.Rotate(t0.Add(time.Second))
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 1, 2, 100))

	snap := Build(a.View(), 2, t0.Add(time.Second))

	require.Len(t, snap.TopFlows, 2)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), snap.TopFlows[0].Key.Src)
	assert.Equal(t, aggregator.Counts{Packets: 2, Bytes: 200}, snap.TopFlows[0].Counts)
	assert.Equal(t, uint64(150), snap.TopFlows[1].Bytes)
}

func TestBuildTopSources(t *testing.T) {
	a := newAggregator(t)
	// 10.0.0.1: two flows, 3 packets; 10.0.0.2: one flow, 1 big packet
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.9", 1, 53, 60))
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.9", 1, 53, 60))
	a.Ingest(record(core.IPProtoTCP, "10.0.0.1", "10.0.0.9", 2, 80, 60))
	a.Ingest(record(core.IPProtoTCP, "10.0.0.2", "10.0.0.9", 3, 80, 1500))

	snap := Build(a.View(), 10, t0)

	require.Len(t, snap.TopSources, 2)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), snap.TopSources[0].Addr)
	assert.Equal(t, uint64(3), snap.TopSources[0].Packets)
	assert.Equal(t, 2, snap.TopSources[0].Flows)
	assert.Equal(t, netip.MustParseAddr("10.0.0.2"), snap.TopSources[1].Addr)
}

func TestBuildDoesNotAliasAggregator(t *testing.T) {
	a := newAggregator(t)
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 1, 2, 100))
	a.Rotate(t0.Add(time.Second))

	v := a.View()
	snap := Build(v, 5, t0)
	snap.History[0].Flows[0].Bytes = 0
	snap.History[0].Protocols[core.ProtoUDP] = aggregator.Counts{}

	again := a.View()
	assert.Equal(t, uint64(100), again.History[0].Flows[0].Bytes)
	assert.Equal(t, uint64(100), again.History[0].Protocols[core.ProtoUDP].Bytes)
}

func TestSnapshotsBackToBackEqual(t *testing.T) {
	a := newAggregator(t)
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 1, 2, 100))
	a.Rotate(t0.Add(time.Second))
	a.Ingest(record(core.IPProtoTCP, "10.0.0.3", "10.0.0.2", 1, 2, 50))

	s1 := Build(a.View(), 5, t0)
	s2 := Build(a.View(), 5, t0)
	assert.Equal(t, s1, s2)
}

func TestBuildNegativeTopN(t *testing.T) {
	a := newAggregator(t)
	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 1, 2, 100))

	snap := Build(a.View(), -1, t0)
	assert.Empty(t, snap.TopFlows)
	assert.Empty(t, snap.TopSources)
}

type staticNames map[netip.Addr]string

func (s staticNames) Hostname(addr netip.Addr) string { return s[addr] }

func TestPublishSubscribe(t *testing.T) {
	a := newAggregator(t)
	p := New(Config{TopN: 5, SubscriberBuffer: 2}, WithAnnotator(staticNames{
		netip.MustParseAddr("10.0.0.1"): "host-a.example",
	}))

	sub, latest := p.Subscribe()
	defer sub.Close()
	assert.Nil(t, latest)
	assert.Nil(t, p.Latest())

	a.Ingest(record(core.IPProtoUDP, "10.0.0.1", "10.0.0.2", 1, 2, 100))
	snap := p.Publish(a.View(), t0)

	got := <-sub.C()
	assert.Same(t, snap, got)
	assert.Equal(t, uint64(1), got.Seq)
	require.Len(t, got.TopSources, 1)
	assert.Equal(t, "host-a.example", got.TopSources[0].Hostname)

	sub2, latest2 := p.Subscribe()
	defer sub2.Close()
	assert.Same(t, snap, latest2)
	assert.Same(t, snap, p.Latest())
}

func TestPublishDropsForSlowSubscriber(t *testing.T) {
	a := newAggregator(t)
	p := New(Config{TopN: 5, SubscriberBuffer: 1})
	slow, _ := p.Subscribe()
	defer slow.Close()

	for i := 0; i < 5; i++ {
		p.Publish(a.View(), t0)
	}

	assert.Equal(t, uint64(4), slow.Dropped())
	first := <-slow.C()
	assert.Equal(t, uint64(1), first.Seq, "buffer keeps the oldest undelivered snapshot")
	select {
	case s := <-slow.C():
		t.Fatalf("unexpected queued snapshot %d", s.Seq)
	default:
	}
}

func TestSubscriptionClose(t *testing.T) {
	p := New(Config{TopN: 1})
	sub, _ := p.Subscribe()
	sub.Close()
	sub.Close()

	_, ok := <-sub.C()
	assert.False(t, ok)

	// publishing after unsubscribe must not panic
	a := newAggregator(t)
	p.Publish(a.View(), t0)
}

func TestPublisherClose(t *testing.T) {
	p := New(Config{TopN: 1})
	sub, _ := p.Subscribe()

	p.Close()
	p.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)
	sub.Close()

	late, _ := p.Subscribe()
	_, ok = <-late.C()
	assert.False(t, ok, "subscriptions after Close start closed")
}
