// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CaptureFramesTotal counts frames read from capture handles
	CaptureFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netdash_capture_frames_total",
			Help: "Total number of frames read from the capture handle",
		},
	)

	// CaptureBytesTotal counts wire bytes of captured frames
	CaptureBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netdash_capture_bytes_total",
			Help: "Total number of wire bytes of captured frames",
		},
	)

	// CaptureKernelDrops reports drops counted by the kernel for the current handle
	CaptureKernelDrops = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netdash_capture_kernel_drops",
			Help: "Frames dropped by the kernel on the current capture handle",
		},
	)

	// CaptureReopenTotal counts capture re-open attempts by result
	CaptureReopenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netdash_capture_reopen_total",
			Help: "Total number of capture re-open attempts",
		},
		[]string{"result"},
	)

	// ParseMalformedTotal counts frames whose headers could not be decoded
	ParseMalformedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netdash_parse_malformed_total",
			Help: "Total number of malformed frames",
		},
	)

	// ProtocolPacketsTotal counts frames per transport protocol tag
	ProtocolPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netdash_protocol_packets_total",
			Help: "Total number of frames per protocol",
		},
		[]string{"protocol"},
	)

	// ProtocolBytesTotal counts wire bytes per transport protocol tag
	ProtocolBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netdash_protocol_bytes_total",
			Help: "Total number of wire bytes per protocol",
		},
		[]string{"protocol"},
	)

	// FlowEvictionsTotal counts flows folded into the other bucket
	FlowEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netdash_flow_evictions_total",
			Help: "Total number of flows evicted from the flow table",
		},
	)

	// FlowTableSize tracks flows in the current window
	FlowTableSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netdash_flow_table_size",
			Help: "Number of flows tracked in the current window",
		},
	)

	// WindowRotationsTotal counts closed windows
	WindowRotationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netdash_window_rotations_total",
			Help: "Total number of aggregation window rotations",
		},
	)

	// SnapshotsPublishedTotal counts snapshots emitted by the publisher
	SnapshotsPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netdash_snapshots_published_total",
			Help: "Total number of snapshots published",
		},
	)

	// SnapshotDropsTotal counts snapshots skipped for slow subscribers
	SnapshotDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "netdash_snapshot_drops_total",
			Help: "Total number of snapshots dropped for slow subscribers",
		},
	)

	// Subscribers tracks registered snapshot subscribers
	Subscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netdash_subscribers",
			Help: "Number of registered snapshot subscribers",
		},
	)

	// EngineState tracks the engine health state
	EngineState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "netdash_engine_state",
			Help: "Engine state (0=idle, 1=starting, 2=capturing, 3=unavailable)",
		},
	)

	// ExportMessagesTotal counts exporter deliveries by result
	ExportMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netdash_export_messages_total",
			Help: "Total number of snapshots delivered by exporters",
		},
		[]string{"exporter", "result"},
	)

	// ResolveLookupsTotal counts reverse DNS lookups by result
	ResolveLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "netdash_resolve_lookups_total",
			Help: "Total number of reverse DNS lookups",
		},
		[]string{"result"},
	)
)

// EngineState gauge values
const (
	StateIdle        = 0
	StateStarting    = 1
	StateCapturing   = 2
	StateUnavailable = 3
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
