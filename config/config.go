// Package config loads and validates the control-loop configuration
// from a YAML file, with environment variable overrides applied through
// an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hydroworks/aquapilot/errors"
)

// Config represents the complete application configuration.
type Config struct {
	Loop      LoopConfig      `yaml:"loop"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Executor  ExecutorConfig  `yaml:"executor"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Adapters  AdaptersConfig  `yaml:"adapters"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	NATS      NATSConfig      `yaml:"nats"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
}

// LoopConfig controls the periodic control cycle.
type LoopConfig struct {
	Interval        time.Duration `yaml:"interval"`         // Time between cycles
	DefaultPipeline string        `yaml:"default_pipeline"` // Pipeline run on each tick
	MaxStageRetries int           `yaml:"max_stage_retries"`
}

// GatewayConfig controls sensor ingestion.
type GatewayConfig struct {
	StaleAfter     time.Duration `yaml:"stale_after"`     // Readings older than this are rejected
	HistoryPerUnit int           `yaml:"history_per_unit"` // Retained readings per sensor
}

// AnalyzerConfig selects the default operating scenario.
type AnalyzerConfig struct {
	DefaultScenario string `yaml:"default_scenario"`
}

// ExecutorConfig controls field-device command dispatch.
type ExecutorConfig struct {
	DispatchTimeout     time.Duration `yaml:"dispatch_timeout"`
	MaxAttempts         int           `yaml:"max_attempts"`
	InitialBackoff      time.Duration `yaml:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	BreakerFailures     uint32        `yaml:"breaker_failures"`
	BreakerCooldown     time.Duration `yaml:"breaker_cooldown"`
	ConcurrentDispatch  int           `yaml:"concurrent_dispatch"`
	CommandHistoryLimit int           `yaml:"command_history_limit"`

	// Endpoints routes command targets to device controller URLs;
	// FallbackEndpoint receives commands for unrouted targets.
	Endpoints        map[string]string `yaml:"endpoints"`
	FallbackEndpoint string            `yaml:"fallback_endpoint"`
}

// EventBusConfig controls the event fabric.
type EventBusConfig struct {
	HistorySize int  `yaml:"history_size"`
	AsyncNotify bool `yaml:"async_notify"`
}

// KnowledgeConfig selects the knowledge base backend.
type KnowledgeConfig struct {
	Driver   string        `yaml:"driver"` // sqlite3 or postgres
	DSN      string        `yaml:"dsn"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// AdaptersConfig lists legacy system connections.
type AdaptersConfig struct {
	Systems []AdapterConfig `yaml:"systems"`
}

// AdapterConfig describes one legacy system connection.
type AdapterConfig struct {
	Name     string        `yaml:"name"`
	Protocol string        `yaml:"protocol"` // modbus, soap, csvfile, mqtt
	Address  string        `yaml:"address"`
	Priority int           `yaml:"priority"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// NATSConfig controls the event bridge connection.
type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

// MQTTConfig controls the MQTT telemetry adapter connection.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      byte   `yaml:"qos"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. A .env file next to the
// process, if present, is loaded first so that ${VAR} style secrets can
// be resolved through environment overrides.
func Load(path string) (*Config, error) {
	// Missing .env is not an error; it only supplies overrides.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", fmt.Sprintf("read %s", path))
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Config", "Load", "parse YAML")
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Loop.Interval <= 0 {
		c.Loop.Interval = 30 * time.Second
	}
	if c.Loop.DefaultPipeline == "" {
		c.Loop.DefaultPipeline = "standard"
	}
	if c.Loop.MaxStageRetries <= 0 {
		c.Loop.MaxStageRetries = 3
	}
	if c.Gateway.StaleAfter <= 0 {
		c.Gateway.StaleAfter = 5 * time.Minute
	}
	if c.Gateway.HistoryPerUnit <= 0 {
		c.Gateway.HistoryPerUnit = 100
	}
	if c.Analyzer.DefaultScenario == "" {
		c.Analyzer.DefaultScenario = "normal_operation"
	}
	if c.Executor.DispatchTimeout <= 0 {
		c.Executor.DispatchTimeout = 10 * time.Second
	}
	if c.Executor.MaxAttempts <= 0 {
		c.Executor.MaxAttempts = 3
	}
	if c.Executor.InitialBackoff <= 0 {
		c.Executor.InitialBackoff = 1 * time.Second
	}
	if c.Executor.MaxBackoff <= 0 {
		c.Executor.MaxBackoff = 10 * time.Second
	}
	if c.Executor.BreakerFailures == 0 {
		c.Executor.BreakerFailures = 5
	}
	if c.Executor.BreakerCooldown <= 0 {
		c.Executor.BreakerCooldown = 30 * time.Second
	}
	if c.Executor.ConcurrentDispatch <= 0 {
		c.Executor.ConcurrentDispatch = 4
	}
	if c.Executor.CommandHistoryLimit <= 0 {
		c.Executor.CommandHistoryLimit = 100
	}
	if c.EventBus.HistorySize <= 0 {
		c.EventBus.HistorySize = 1000
	}
	if c.Knowledge.Driver == "" {
		c.Knowledge.Driver = "sqlite3"
	}
	if c.Knowledge.DSN == "" {
		c.Knowledge.DSN = "file:aquapilot.db?_fk=1"
	}
	if c.Knowledge.CacheTTL <= 0 {
		c.Knowledge.CacheTTL = 5 * time.Minute
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.NATS.URL == "" {
		c.NATS.URL = "nats://localhost:4222"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "aquapilot.events"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = 10
	}
	if c.NATS.ReconnectWait <= 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "aquapilot"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "aquapilot/telemetry/#"
	}
	for i := range c.Adapters.Systems {
		if c.Adapters.Systems[i].Timeout <= 0 {
			c.Adapters.Systems[i].Timeout = 5 * time.Second
		}
	}
}

// applyEnvOverrides maps a small set of deployment-sensitive settings to
// environment variables so secrets stay out of the YAML file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AQUAPILOT_KNOWLEDGE_DSN"); v != "" {
		c.Knowledge.DSN = v
	}
	if v := os.Getenv("AQUAPILOT_KNOWLEDGE_DRIVER"); v != "" {
		c.Knowledge.Driver = v
	}
	if v := os.Getenv("AQUAPILOT_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("AQUAPILOT_MQTT_BROKER"); v != "" {
		c.MQTT.Broker = v
	}
	if v := os.Getenv("AQUAPILOT_MQTT_USERNAME"); v != "" {
		c.MQTT.Username = v
	}
	if v := os.Getenv("AQUAPILOT_MQTT_PASSWORD"); v != "" {
		c.MQTT.Password = v
	}
	if v := os.Getenv("AQUAPILOT_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}
}

// Validate checks cross-field constraints that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Executor.MaxBackoff < c.Executor.InitialBackoff {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			"executor max_backoff must be >= initial_backoff")
	}

	switch c.Knowledge.Driver {
	case "sqlite3", "postgres":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unsupported knowledge driver %q", c.Knowledge.Driver))
	}

	seen := make(map[string]bool, len(c.Adapters.Systems))
	for _, sys := range c.Adapters.Systems {
		if sys.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				"adapter system missing name")
		}
		if seen[sys.Name] {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("duplicate adapter system %q", sys.Name))
		}
		seen[sys.Name] = true

		switch sys.Protocol {
		case "modbus", "soap", "csvfile", "mqtt":
		default:
			return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
				fmt.Sprintf("unsupported adapter protocol %q for system %q", sys.Protocol, sys.Name))
		}
	}

	return nil
}
