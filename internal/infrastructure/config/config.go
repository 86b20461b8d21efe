package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the rpcqueue relay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Relay      RelayConfig      `yaml:"relay"`
	Queue      QueueConfig      `yaml:"queue"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	API        APIConfig        `yaml:"api"`
	Health     HealthConfig     `yaml:"health"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RelayConfig identifies this relay instance.
type RelayConfig struct {
	// Instance names the relay in logs, MQTT client IDs and the health service.
	Instance string `yaml:"instance"`
}

// QueueConfig contains the settings shared by every sink's dispatch queue.
type QueueConfig struct {
	// CapacityBytes bounds the payload bytes held by each queue.
	CapacityBytes int `yaml:"capacity_bytes"`

	// RetryCount is the attempt budget per execution cycle.
	RetryCount int `yaml:"retry_count"`

	// RetryInterval is the pause after each transient failure.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// RequeueBackoff is the pause after a task exhausts its budget.
	// Zero requeues immediately.
	RequeueBackoff time.Duration `yaml:"requeue_backoff"`

	// MaxRequeueBackoff caps RequeueBackoff growth. Zero means no cap.
	MaxRequeueBackoff time.Duration `yaml:"max_requeue_backoff"`

	// ShutdownTimeout bounds how long shutdown waits for queues to drain.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SupervisorConfig controls what happens when a queue worker fails.
type SupervisorConfig struct {
	// RestartOnFailure restarts a failed worker, abandoning the task that
	// stopped it. When false the queue stays failed until restarted via the API.
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelay is the time to wait before restarting a failed worker.
	RestartDelay time.Duration `yaml:"restart_delay"`

	// MaxRestartAttempts limits restarts per queue. 0 means unlimited.
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite run store settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix roots the ingest and forward topics.
	TopicPrefix string `yaml:"topic_prefix"`

	// Ingest subscribes to {prefix}/ingest/+ and submits received batches.
	Ingest bool `yaml:"ingest"`

	// Forward republishes every batch to {prefix}/forward/{run}.
	Forward bool `yaml:"forward"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB sink settings.
type InfluxDBConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`

	// MaxBodyBytes limits request bodies accepted by the ingest endpoint.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// HealthConfig contains gRPC health service settings.
type HealthConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: RPCQUEUE_SECTION_KEY
// For example: RPCQUEUE_DATABASE_PATH, RPCQUEUE_QUEUE_CAPACITY_BYTES
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			Instance: "rpcqueue",
		},
		Queue: QueueConfig{
			CapacityBytes:   64 << 20,
			RetryCount:      3,
			RetryInterval:   time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			RestartOnFailure:   false,
			RestartDelay:       5 * time.Second,
			MaxRestartAttempts: 10,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/rpcqueue.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "rpcqueue",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "rpcqueue",
		},
		InfluxDB: InfluxDBConfig{
			Measurement: "run_records",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxBodyBytes: 8 << 20,
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: RPCQUEUE_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("RPCQUEUE_INSTANCE"); v != "" {
		cfg.Relay.Instance = v
	}

	// Queue
	if v := os.Getenv("RPCQUEUE_QUEUE_CAPACITY_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RPCQUEUE_QUEUE_CAPACITY_BYTES: %w", err)
		}
		cfg.Queue.CapacityBytes = n
	}
	if v := os.Getenv("RPCQUEUE_QUEUE_RETRY_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("RPCQUEUE_QUEUE_RETRY_INTERVAL: %w", err)
		}
		cfg.Queue.RetryInterval = d
	}

	// Database
	if v := os.Getenv("RPCQUEUE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("RPCQUEUE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("RPCQUEUE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("RPCQUEUE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("RPCQUEUE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("RPCQUEUE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("RPCQUEUE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Logging
	if v := os.Getenv("RPCQUEUE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Relay.Instance == "" {
		errs = append(errs, "relay.instance is required")
	}

	// Queue validation
	if c.Queue.CapacityBytes <= 0 {
		errs = append(errs, "queue.capacity_bytes must be greater than zero")
	}
	if c.Queue.RetryCount < 1 {
		errs = append(errs, "queue.retry_count must be at least 1")
	}
	if c.Queue.RetryInterval < 0 || c.Queue.RequeueBackoff < 0 || c.Queue.MaxRequeueBackoff < 0 {
		errs = append(errs, "queue durations must not be negative")
	}
	if c.Queue.MaxRequeueBackoff > 0 && c.Queue.MaxRequeueBackoff < c.Queue.RequeueBackoff {
		errs = append(errs, "queue.max_requeue_backoff must not be below queue.requeue_backoff")
	}

	if c.Supervisor.MaxRestartAttempts < 0 {
		errs = append(errs, "supervisor.max_restart_attempts must not be negative")
	}

	// Sinks
	if !c.Database.Enabled && !c.InfluxDB.Enabled && !(c.MQTT.Enabled && c.MQTT.Forward) {
		errs = append(errs, "at least one sink must be enabled (database, influxdb or mqtt.forward)")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required")
		}
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if (c.MQTT.Ingest || c.MQTT.Forward) && !c.MQTT.Enabled {
		errs = append(errs, "mqtt.ingest and mqtt.forward require mqtt.enabled")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	// A decoded batch is never larger than its body, so a queue larger than
	// the body limit can always admit what the API accepted.
	if c.API.MaxBodyBytes <= 0 {
		errs = append(errs, "api.max_body_bytes must be greater than zero")
	} else if int64(c.Queue.CapacityBytes) <= c.API.MaxBodyBytes {
		errs = append(errs, "queue.capacity_bytes must be greater than api.max_body_bytes")
	}
	if c.Health.Enabled && (c.Health.Port < 1 || c.Health.Port > 65535) {
		errs = append(errs, "health.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
