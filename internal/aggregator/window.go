package aggregator

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"firestige.xyz/netdash/internal/core"
)

// Counts is a packet and byte tally.
type Counts struct {
	Packets uint64 `json:"packets"`
	Bytes   uint64 `json:"bytes"`
}

func (c *Counts) add(bytes uint64) {
	c.Packets++
	c.Bytes += bytes
}

// Plus returns the sum of c and o.
func (c Counts) Plus(o Counts) Counts {
	return Counts{Packets: c.Packets + o.Packets, Bytes: c.Bytes + o.Bytes}
}

// IsZero reports whether nothing was counted.
func (c Counts) IsZero() bool {
	return c.Packets == 0 && c.Bytes == 0
}

// FlowStat is the tally of one flow within a window.
type FlowStat struct {
	Key       core.FlowKey  `json:"key"`
	Protocol  core.Protocol `json:"protocol"`
	Counts
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// WindowStats is an immutable copy of one aggregation window.
// End is zero for the window still being filled.
type WindowStats struct {
	Start     time.Time                `json:"start"`
	End       time.Time                `json:"end,omitzero"`
	Total     Counts                   `json:"total"`
	Malformed Counts                   `json:"malformed"`
	Protocols map[core.Protocol]Counts `json:"protocols"`
	// Flows is ordered by bytes, descending.
	Flows []FlowStat `json:"flows"`
	// Other holds the tallies of flows evicted by the cardinality cap.
	Other        Counts `json:"other"`
	EvictedFlows uint64 `json:"evicted_flows"`
}

// Duration returns End-Start, or zero for an open window.
func (w *WindowStats) Duration() time.Duration {
	if w.End.IsZero() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Clone returns a deep copy.
func (w *WindowStats) Clone() *WindowStats {
	if w == nil {
		return nil
	}
	c := *w
	c.Protocols = maps.Clone(w.Protocols)
	c.Flows = slices.Clone(w.Flows)
	return &c
}

// Verify checks that per-protocol tallies plus malformed tallies add up
// to the window total.
func (w *WindowStats) Verify() error {
	sum := w.Malformed
	for _, c := range w.Protocols {
		sum = sum.Plus(c)
	}
	if sum != w.Total {
		return fmt.Errorf("window %s: protocols+malformed = %+v, total = %+v",
			w.Start.Format(time.RFC3339Nano), sum, w.Total)
	}
	return nil
}

type flowEntry struct {
	counts    Counts
	firstSeen time.Time
	lastSeen  time.Time
}

// window is the mutable accumulator. It is only touched under the
// Aggregator mutex.
type window struct {
	start     time.Time
	total     Counts
	malformed Counts
	protocols [len(protocolIndex)]Counts
	flows     *simplelru.LRU[core.FlowKey, *flowEntry]
	other     Counts
	evicted   uint64
}

// protocolIndex fixes the array slot of each tag.
var protocolIndex = [...]core.Protocol{core.ProtoOther, core.ProtoTCP, core.ProtoUDP, core.ProtoICMP}

func newWindow(start time.Time, flowCap int, onEvict func(core.FlowKey, Counts)) (*window, error) {
	w := &window{start: start}
	lru, err := simplelru.NewLRU[core.FlowKey, *flowEntry](flowCap, func(k core.FlowKey, e *flowEntry) {
		w.other = w.other.Plus(e.counts)
		w.evicted++
		if onEvict != nil {
			onEvict(k, e.counts)
		}
	})
	if err != nil {
		return nil, err
	}
	w.flows = lru
	return w, nil
}

func (w *window) ingest(rec core.ParsedRecord) {
	w.total.add(rec.Length)
	if rec.Malformed {
		w.malformed.add(rec.Length)
		return
	}
	proto := rec.Protocol
	if int(proto) >= len(w.protocols) {
		proto = core.ProtoOther
	}
	w.protocols[proto].add(rec.Length)

	key, ok := rec.FlowKey()
	if !ok {
		return
	}
	// Get refreshes recency, so the LRU evicts the least recently updated flow.
	if e, ok := w.flows.Get(key); ok {
		e.counts.add(rec.Length)
		e.lastSeen = rec.Timestamp
		return
	}
	e := &flowEntry{firstSeen: rec.Timestamp, lastSeen: rec.Timestamp}
	e.counts.add(rec.Length)
	w.flows.Add(key, e)
}

// stats copies the window. end is zero for the open window.
func (w *window) stats(end time.Time) *WindowStats {
	s := &WindowStats{
		Start:        w.start,
		End:          end,
		Total:        w.total,
		Malformed:    w.malformed,
		Protocols:    make(map[core.Protocol]Counts, len(protocolIndex)),
		Flows:        make([]FlowStat, 0, w.flows.Len()),
		Other:        w.other,
		EvictedFlows: w.evicted,
	}
	for _, p := range protocolIndex {
		if c := w.protocols[p]; !c.IsZero() {
			s.Protocols[p] = c
		}
	}
	for _, k := range w.flows.Keys() {
		e, _ := w.flows.Peek(k)
		s.Flows = append(s.Flows, FlowStat{
			Key:       k,
			Protocol:  k.Protocol(),
			Counts:    e.counts,
			FirstSeen: e.firstSeen,
			LastSeen:  e.lastSeen,
		})
	}
	SortFlows(s.Flows)
	return s
}

// SortFlows orders flows by bytes, then packets, descending, with the key
// string as a stable tie-break.
func SortFlows(flows []FlowStat) {
	slices.SortFunc(flows, func(a, b FlowStat) int {
		if c := cmp.Compare(b.Bytes, a.Bytes); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Packets, a.Packets); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.String(), b.Key.String())
	})
}
