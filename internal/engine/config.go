package engine

import (
	"fmt"
	"time"

	"firestige.xyz/netdash/internal/aggregator"
	"firestige.xyz/netdash/internal/core"
	"firestige.xyz/netdash/internal/source"
)

// RetryConfig bounds capture re-open attempts after an interruption.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Config is the per-run engine configuration.
type Config struct {
	Capture         source.Config
	WindowInterval  time.Duration
	PublishInterval time.Duration
	Aggregation     aggregator.Config
	Retry           RetryConfig
	// StatsInterval is how often kernel drop counters are sampled.
	StatsInterval time.Duration
}

// Validate reports configuration errors before anything is opened.
func (c Config) Validate() error {
	if c.Capture.Interface == "" && c.Capture.File == "" {
		return fmt.Errorf("%w: capture interface or file is required", core.ErrConfigInvalid)
	}
	if c.WindowInterval <= 0 {
		return fmt.Errorf("%w: window interval must be positive, got %s", core.ErrConfigInvalid, c.WindowInterval)
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("%w: publish interval must be positive, got %s", core.ErrConfigInvalid, c.PublishInterval)
	}
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: retry attempts must not be negative", core.ErrConfigInvalid)
	}
	if c.Retry.MaxAttempts > 0 && c.Retry.InitialBackoff <= 0 {
		return fmt.Errorf("%w: retry backoff must be positive", core.ErrConfigInvalid)
	}
	return c.Aggregation.Validate()
}

func (c Config) backoff(prev time.Duration) time.Duration {
	next := prev * 2
	if c.Retry.MaxBackoff > 0 && next > c.Retry.MaxBackoff {
		next = c.Retry.MaxBackoff
	}
	return next
}
