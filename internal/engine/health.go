package engine

import (
	"time"

	"firestige.xyz/netdash/internal/metrics"
)

// State is the engine health state seen by the presentation layer.
type State string

const (
	// StateIdle means no capture is running.
	StateIdle State = "idle"
	// StateStarting means the source is open but no snapshot was published yet.
	StateStarting State = "starting"
	// StateCapturing means snapshots are being published.
	StateCapturing State = "capturing"
	// StateUnavailable means capture failed and re-open retries were exhausted.
	StateUnavailable State = "unavailable"
)

func (s State) gauge() float64 {
	switch s {
	case StateStarting:
		return metrics.StateStarting
	case StateCapturing:
		return metrics.StateCapturing
	case StateUnavailable:
		return metrics.StateUnavailable
	default:
		return metrics.StateIdle
	}
}

// Health is the engine status.
type Health struct {
	State   State     `json:"state"`
	Error   string    `json:"error,omitempty"`
	Target  string    `json:"target,omitempty"`
	Since   time.Time `json:"since"`
	Reopens int       `json:"reopens"`
	Frames  uint64    `json:"frames"`
	Drained bool      `json:"drained,omitempty"`
}
