// Package config loads and validates the YAML configuration for a chord
// ring node: ring parameters, timing, dispatcher pool sizes, bootstrap
// strategy, and logging.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Ring      RingConfig      `yaml:"ring"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Logger    LoggerConfig    `yaml:"logger"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// NodeConfig describes where this process listens and how it advertises
// itself to peers.
type NodeConfig struct {
	Bind      string `yaml:"bind"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Advertise string `yaml:"advertise"`
}

// RingConfig holds the ring's sizing and timing parameters.
type RingConfig struct {
	IDBits                   int           `yaml:"id_bits"`
	SuccessorListSize        int           `yaml:"successor_list_size"`
	MaximumHops              int           `yaml:"maximum_hops"`
	StabilizationInterval    time.Duration `yaml:"stabilization_interval"`
	FixFingersInterval       time.Duration `yaml:"fix_fingers_interval"`
	CheckPredecessorInterval time.Duration `yaml:"check_predecessor_interval"`
	LookupTimeout            time.Duration `yaml:"lookup_timeout"`
	FailureTimeout           time.Duration `yaml:"failure_timeout"`
}

// DispatchConfig sizes the Dispatcher's two worker pools.
type DispatchConfig struct {
	WorkerPoolSize    int `yaml:"worker_pool_size"`
	SchedulerPoolSize int `yaml:"scheduler_pool_size"`
}

// BootstrapConfig selects how a joining node discovers seed peers.
type BootstrapConfig struct {
	Mode    string        `yaml:"mode"` // "static" or "route53"
	Peers   []string      `yaml:"peers"`
	Route53 Route53Config `yaml:"route53"`
}

// Route53Config parameterizes the AWS Route53-backed discovery strategy.
type Route53Config struct {
	HostedZoneID string        `yaml:"hosted_zone_id"`
	RecordName   string        `yaml:"record_name"`
	Timeout      time.Duration `yaml:"timeout"`
}

// LoggerConfig controls the zap-backed production logger.
type LoggerConfig struct {
	Active     bool   `yaml:"active"`
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig controls distributed tracing of the messages nodes
// exchange over the gRPC transport.
type TelemetryConfig struct {
	Tracing  TracingConfig `yaml:"tracing"`
	Exporter string        `yaml:"exporter"` // "stdout", "otlp", or "none"
	Endpoint string        `yaml:"endpoint"` // otlp collector address
}

// TracingConfig toggles span emission independently of the exporter, so a
// node can be started with tracing off even when an exporter is configured.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the reference configuration: m=7 (M=128), R=5,
// stabilization period 5s, lookup/predecessor timeout 400ms, and
// MaximumHops = 4m.
func Default() Config {
	const m = 7
	return Config{
		Node: NodeConfig{Bind: "0.0.0.0", Port: 9000},
		Ring: RingConfig{
			IDBits:                   m,
			SuccessorListSize:        5,
			MaximumHops:              4 * m,
			StabilizationInterval:    5 * time.Second,
			FixFingersInterval:       100 * time.Millisecond,
			CheckPredecessorInterval: 5 * time.Second,
			LookupTimeout:            400 * time.Millisecond,
			FailureTimeout:           400 * time.Millisecond,
		},
		Dispatch: DispatchConfig{WorkerPoolSize: 10, SchedulerPoolSize: 5},
		Bootstrap: BootstrapConfig{Mode: "static"},
		Logger:    LoggerConfig{Active: true, Level: "info", Encoding: "json"},
		Telemetry: TelemetryConfig{Exporter: "none", Tracing: TracingConfig{SampleRatio: 1.0}},
	}
}

// Load reads and parses the YAML file at path, keeping the reference
// defaults for every field the file leaves out. A field the file sets
// explicitly, even to zero, overrides its default.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects configurations that would break the core's invariants.
func (c Config) Validate() error {
	if c.Ring.IDBits <= 0 {
		return fmt.Errorf("config: ring.id_bits must be > 0")
	}
	if c.Ring.SuccessorListSize <= 0 {
		return fmt.Errorf("config: ring.successor_list_size must be > 0")
	}
	if c.Ring.MaximumHops <= c.Ring.IDBits {
		return fmt.Errorf("config: ring.maximum_hops (%d) must exceed ring.id_bits (%d)", c.Ring.MaximumHops, c.Ring.IDBits)
	}
	if c.Ring.StabilizationInterval <= 0 {
		return fmt.Errorf("config: ring.stabilization_interval must be > 0")
	}
	if c.Ring.LookupTimeout <= 0 {
		return fmt.Errorf("config: ring.lookup_timeout must be > 0")
	}
	if c.Ring.FailureTimeout <= 0 {
		return fmt.Errorf("config: ring.failure_timeout must be > 0")
	}
	if c.Dispatch.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: dispatch.worker_pool_size must be > 0")
	}
	if c.Dispatch.SchedulerPoolSize <= 0 {
		return fmt.Errorf("config: dispatch.scheduler_pool_size must be > 0")
	}
	switch c.Bootstrap.Mode {
	case "static", "route53":
	default:
		return fmt.Errorf("config: unsupported bootstrap.mode %q", c.Bootstrap.Mode)
	}
	switch c.Telemetry.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("config: unsupported telemetry.exporter %q", c.Telemetry.Exporter)
	}
	if c.Telemetry.Tracing.Enabled && c.Telemetry.Exporter == "otlp" && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("config: telemetry.endpoint is required when telemetry.exporter is \"otlp\"")
	}
	return nil
}
