// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"firestige.xyz/netdash/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `netdash:` root key in YAML.
type GlobalConfig struct {
	Capture CaptureConfig `mapstructure:"capture"`
	Engine  EngineConfig  `mapstructure:"engine"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
	Resolve ResolveConfig `mapstructure:"resolve"`
	Export  ExportConfig  `mapstructure:"export"`
	Control ControlConfig `mapstructure:"control"`
}

// ─── Capture ───

// CaptureConfig selects the frame source.
type CaptureConfig struct {
	Interface    string        `mapstructure:"interface"`
	Filter       string        `mapstructure:"filter"`  // BPF expression, empty = everything
	Backend      string        `mapstructure:"backend"` // pcap | afpacket
	Promiscuous  bool          `mapstructure:"promiscuous"`
	SnapLen      int           `mapstructure:"snaplen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"` // afpacket ring size
	File         string        `mapstructure:"file"`           // offline replay, overrides interface
}

// ─── Engine ───

// EngineConfig controls aggregation and snapshot publication.
type EngineConfig struct {
	WindowInterval   time.Duration `mapstructure:"window_interval"`
	HistoryDepth     int           `mapstructure:"history_depth"`
	FlowCap          int           `mapstructure:"flow_cap"`
	TopN             int           `mapstructure:"top_n"`
	PublishInterval  time.Duration `mapstructure:"publish_interval"`
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	Autostart        bool          `mapstructure:"autostart"`
	Retry            RetryConfig   `mapstructure:"retry"`
}

// RetryConfig bounds capture re-open attempts.
type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// ─── API ───

// APIConfig configures the local HTTP control and snapshot API.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ─── Hostname resolution ───

// ResolveConfig configures reverse DNS annotation of top sources.
type ResolveConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	TTL           time.Duration `mapstructure:"ttl"`
	LookupTimeout time.Duration `mapstructure:"lookup_timeout"`
}

// ─── Export ───

// ExportConfig configures snapshot exporters.
type ExportConfig struct {
	Kafka KafkaExportConfig `mapstructure:"kafka"`
	NATS  NATSExportConfig  `mapstructure:"nats"`
}

// KafkaExportConfig configures the Kafka snapshot exporter.
type KafkaExportConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	Compression  string        `mapstructure:"compression"` // none | gzip | snappy | lz4
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// NATSExportConfig configures the NATS snapshot exporter.
type NATSExportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// ─── Control ───

// ControlConfig contains local process control settings.
type ControlConfig struct {
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `netdash: ...`.
type configRoot struct {
	Netdash GlobalConfig `mapstructure:"netdash"`
}

// Load loads configuration from file. An empty path loads defaults and
// environment overrides only. Env vars use the NETDASH_ prefix
// (e.g. NETDASH_CAPTURE_INTERFACE).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `netdash.` key prefix maps to `NETDASH_` via the key replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&root, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Netdash

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values. Every key is registered so that
// AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	// Capture defaults
	v.SetDefault("netdash.capture.interface", "")
	v.SetDefault("netdash.capture.filter", "")
	v.SetDefault("netdash.capture.backend", "pcap")
	v.SetDefault("netdash.capture.promiscuous", true)
	v.SetDefault("netdash.capture.snaplen", 262144)
	v.SetDefault("netdash.capture.read_timeout", "250ms")
	v.SetDefault("netdash.capture.buffer_size_mb", 8)
	v.SetDefault("netdash.capture.file", "")

	// Engine defaults
	v.SetDefault("netdash.engine.window_interval", "5s")
	v.SetDefault("netdash.engine.history_depth", 12)
	v.SetDefault("netdash.engine.flow_cap", 4096)
	v.SetDefault("netdash.engine.top_n", 10)
	v.SetDefault("netdash.engine.publish_interval", "1s")
	v.SetDefault("netdash.engine.subscriber_buffer", 4)
	v.SetDefault("netdash.engine.autostart", false)
	v.SetDefault("netdash.engine.retry.max_attempts", 5)
	v.SetDefault("netdash.engine.retry.initial_backoff", "500ms")
	v.SetDefault("netdash.engine.retry.max_backoff", "10s")

	// API defaults
	v.SetDefault("netdash.api.enabled", true)
	v.SetDefault("netdash.api.listen", "127.0.0.1:8080")

	// Metrics defaults
	v.SetDefault("netdash.metrics.enabled", true)
	v.SetDefault("netdash.metrics.listen", ":9091")
	v.SetDefault("netdash.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("netdash.log.level", "info")
	v.SetDefault("netdash.log.format", "json")
	v.SetDefault("netdash.log.outputs.file.enabled", false)
	v.SetDefault("netdash.log.outputs.file.path", "/var/log/netdash/netdash.log")
	v.SetDefault("netdash.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("netdash.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("netdash.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("netdash.log.outputs.file.rotation.compress", true)

	// Resolve defaults
	v.SetDefault("netdash.resolve.enabled", false)
	v.SetDefault("netdash.resolve.ttl", "10m")
	v.SetDefault("netdash.resolve.lookup_timeout", "2s")

	// Export defaults
	v.SetDefault("netdash.export.kafka.enabled", false)
	v.SetDefault("netdash.export.kafka.brokers", []string{})
	v.SetDefault("netdash.export.kafka.topic", "netdash-snapshots")
	v.SetDefault("netdash.export.kafka.compression", "snappy")
	v.SetDefault("netdash.export.kafka.batch_timeout", "100ms")
	v.SetDefault("netdash.export.kafka.max_attempts", 3)
	v.SetDefault("netdash.export.nats.enabled", false)
	v.SetDefault("netdash.export.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("netdash.export.nats.subject", "netdash.snapshots")

	// Control defaults
	v.SetDefault("netdash.control.pid_file", "/var/run/netdash.pid")
}

var (
	validLevels       = []string{"debug", "info", "warn", "error"}
	validBackends     = []string{"pcap", "afpacket"}
	validCompressions = []string{"none", "gzip", "snappy", "lz4"}
)

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults. Every error wraps core.ErrConfigInvalid.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log ──
	if !slices.Contains(validLevels, cfg.Log.Level) {
		return invalid("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Log.Outputs.File.Enabled && cfg.Log.Outputs.File.Path == "" {
		return invalid("log.outputs.file.path is required when file output is enabled")
	}

	// ── Capture ──
	if cfg.Capture.File == "" && !slices.Contains(validBackends, cfg.Capture.Backend) {
		return invalid("unsupported capture.backend: %s (must be pcap/afpacket)", cfg.Capture.Backend)
	}
	if cfg.Capture.SnapLen <= 0 {
		return invalid("capture.snaplen must be positive, got %d", cfg.Capture.SnapLen)
	}
	if cfg.Capture.ReadTimeout <= 0 {
		return invalid("capture.read_timeout must be positive, got %s", cfg.Capture.ReadTimeout)
	}

	// ── Engine ──
	e := &cfg.Engine
	if e.WindowInterval <= 0 {
		return invalid("engine.window_interval must be positive, got %s", e.WindowInterval)
	}
	if e.PublishInterval <= 0 {
		return invalid("engine.publish_interval must be positive, got %s", e.PublishInterval)
	}
	if e.HistoryDepth < 1 {
		return invalid("engine.history_depth must be at least 1, got %d", e.HistoryDepth)
	}
	if e.FlowCap < 1 {
		return invalid("engine.flow_cap must be at least 1, got %d", e.FlowCap)
	}
	if e.TopN < 0 {
		return invalid("engine.top_n must not be negative, got %d", e.TopN)
	}
	if e.SubscriberBuffer < 1 {
		return invalid("engine.subscriber_buffer must be at least 1, got %d", e.SubscriberBuffer)
	}
	if e.Retry.MaxAttempts < 0 {
		return invalid("engine.retry.max_attempts must not be negative, got %d", e.Retry.MaxAttempts)
	}
	if e.Retry.MaxBackoff < e.Retry.InitialBackoff {
		e.Retry.MaxBackoff = e.Retry.InitialBackoff
	}
	if e.Autostart && cfg.Capture.Interface == "" && cfg.Capture.File == "" {
		return invalid("engine.autostart requires capture.interface or capture.file")
	}

	// ── Listeners ──
	if cfg.API.Enabled && cfg.API.Listen == "" {
		return invalid("api.listen is required when api.enabled=true")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return invalid("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" || !strings.HasPrefix(cfg.Metrics.Path, "/") {
		cfg.Metrics.Path = "/metrics"
	}

	// ── Resolve ──
	if cfg.Resolve.Enabled {
		if cfg.Resolve.TTL <= 0 {
			return invalid("resolve.ttl must be positive, got %s", cfg.Resolve.TTL)
		}
		if cfg.Resolve.LookupTimeout <= 0 {
			return invalid("resolve.lookup_timeout must be positive, got %s", cfg.Resolve.LookupTimeout)
		}
	}

	// ── Export ──
	if k := &cfg.Export.Kafka; k.Enabled {
		if len(k.Brokers) == 0 {
			return invalid("export.kafka.brokers is required when export.kafka.enabled=true")
		}
		if k.Topic == "" {
			return invalid("export.kafka.topic is required when export.kafka.enabled=true")
		}
		if k.Compression == "" {
			k.Compression = "none"
		}
		if !slices.Contains(validCompressions, k.Compression) {
			return invalid("unsupported export.kafka.compression: %s (must be none/gzip/snappy/lz4)", k.Compression)
		}
		if k.MaxAttempts < 1 {
			k.MaxAttempts = 1
		}
	}
	if n := &cfg.Export.NATS; n.Enabled {
		if n.URL == "" {
			return invalid("export.nats.url is required when export.nats.enabled=true")
		}
		if n.Subject == "" {
			return invalid("export.nats.subject is required when export.nats.enabled=true")
		}
	}

	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{core.ErrConfigInvalid}, args...)...)
}
