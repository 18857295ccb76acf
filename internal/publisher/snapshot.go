package publisher

import (
	"cmp"
	"maps"
	"net/netip"
	"slices"
	"time"

	"firestige.xyz/netdash/internal/aggregator"
	"firestige.xyz/netdash/internal/core"
)

// Snapshot is a point-in-time copy of aggregate state. It holds no
// reference to live aggregator state; subscribers share one value and
// must not modify it.
type Snapshot struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`

	Current *aggregator.WindowStats   `json:"current"`
	History []*aggregator.WindowStats `json:"history"` // oldest first

	Totals     Totals                `json:"totals"`
	Throughput Throughput            `json:"throughput"`
	TopFlows   []aggregator.FlowStat `json:"top_flows"`
	TopSources []SourceStat          `json:"top_sources"`
}

// Totals sums the visible windows.
type Totals struct {
	aggregator.Counts
	Malformed    aggregator.Counts                   `json:"malformed"`
	Protocols    map[core.Protocol]aggregator.Counts `json:"protocols"`
	Other        aggregator.Counts                   `json:"other"`
	EvictedFlows uint64                              `json:"evicted_flows"`
}

// Throughput is measured over the most recently completed window.
type Throughput struct {
	BytesPerSec   float64       `json:"bytes_per_sec"`
	PacketsPerSec float64       `json:"packets_per_sec"`
	Window        time.Duration `json:"window"`
}

// SourceStat aggregates the visible flows of one source address.
type SourceStat struct {
	Addr     netip.Addr `json:"addr"`
	Hostname string     `json:"hostname,omitempty"`
	aggregator.Counts
	Flows int `json:"flows"`
}

// Build derives a Snapshot from an aggregator view. History windows are
// cloned so the result shares nothing with the aggregator.
func Build(v aggregator.View, topN int, now time.Time) *Snapshot {
	topN = max(topN, 0)
	s := &Snapshot{
		Time:    now,
		Current: v.Current.Clone(),
		History: make([]*aggregator.WindowStats, 0, len(v.History)),
		Totals:  Totals{Protocols: make(map[core.Protocol]aggregator.Counts)},
	}
	for _, w := range v.History {
		s.History = append(s.History, w.Clone())
	}

	windows := s.windows()
	for _, w := range windows {
		s.Totals.Counts = s.Totals.Counts.Plus(w.Total)
		s.Totals.Malformed = s.Totals.Malformed.Plus(w.Malformed)
		s.Totals.Other = s.Totals.Other.Plus(w.Other)
		s.Totals.EvictedFlows += w.EvictedFlows
		for p, c := range w.Protocols {
			s.Totals.Protocols[p] = s.Totals.Protocols[p].Plus(c)
		}
	}

	if n := len(s.History); n > 0 {
		last := s.History[n-1]
		if d := last.Duration(); d > 0 {
			secs := d.Seconds()
			s.Throughput = Throughput{
				BytesPerSec:   float64(last.Total.Bytes) / secs,
				PacketsPerSec: float64(last.Total.Packets) / secs,
				Window:        d,
			}
		}
	}

	flows := mergeFlows(windows)
	s.TopSources = topSources(flows, topN)
	s.TopFlows = flows[:min(topN, len(flows))]
	return s
}

// windows returns history then current.
func (s *Snapshot) windows() []*aggregator.WindowStats {
	out := slices.Clone(s.History)
	if s.Current != nil {
		out = append(out, s.Current)
	}
	return out
}

// mergeFlows sums each flow across windows and sorts by bytes.
func mergeFlows(windows []*aggregator.WindowStats) []aggregator.FlowStat {
	merged := make(map[core.FlowKey]aggregator.FlowStat)
	for _, w := range windows {
		for _, f := range w.Flows {
			m, ok := merged[f.Key]
			if !ok {
				merged[f.Key] = f
				continue
			}
			m.Counts = m.Counts.Plus(f.Counts)
			if f.FirstSeen.Before(m.FirstSeen) {
				m.FirstSeen = f.FirstSeen
			}
			if f.LastSeen.After(m.LastSeen) {
				m.LastSeen = f.LastSeen
			}
			merged[f.Key] = m
		}
	}
	flows := slices.Collect(maps.Values(merged))
	aggregator.SortFlows(flows)
	return flows
}

// topSources ranks source addresses by packets, as the dashboard's
// top talkers view does.
func topSources(flows []aggregator.FlowStat, topN int) []SourceStat {
	bySrc := make(map[netip.Addr]*SourceStat)
	for _, f := range flows {
		s, ok := bySrc[f.Key.Src]
		if !ok {
			s = &SourceStat{Addr: f.Key.Src}
			bySrc[f.Key.Src] = s
		}
		s.Counts = s.Counts.Plus(f.Counts)
		s.Flows++
	}

	out := make([]SourceStat, 0, len(bySrc))
	for _, s := range bySrc {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b SourceStat) int {
		if c := cmp.Compare(b.Packets, a.Packets); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Bytes, a.Bytes); c != 0 {
			return c
		}
		return a.Addr.Compare(b.Addr)
	})
	return out[:min(topN, len(out))]
}
