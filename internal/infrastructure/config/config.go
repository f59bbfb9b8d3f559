package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for gatesync.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Cache     CacheConfig     `yaml:"cache"`
	Poller    PollerConfig    `yaml:"poller"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BackendConfig contains settings for the remote gate controller API.
type BackendConfig struct {
	// BaseURL is the root URL of the remote controller API, without a
	// trailing slash (e.g., "https://api.example-gates.com").
	BaseURL string `yaml:"base_url"`

	// Username and Password are the account credentials exchanged for a
	// bearer token at the login endpoint.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`

	// Retry tunes the request executor's retry behaviour.
	Retry RetryConfig `yaml:"retry"`

	// LogResponses enables debug logging of raw backend response bodies.
	// Off by default; responses may contain account details.
	LogResponses bool `yaml:"log_responses"`

	// IncludeShared controls whether doors shared from other accounts are
	// included in the device listing.
	IncludeShared bool `yaml:"include_shared"`

	// BatteryLowThreshold is the battery percentage at or below which a
	// door is reported as low-battery.
	BatteryLowThreshold int `yaml:"battery_low_threshold"`

	// HasBatteryLevel declares whether the hardware actually reports a
	// battery sensor. When false, battery readings (including 0) are
	// treated as "no battery information" rather than "0%". Some firmware
	// revisions report 0 for mains-powered units, so this cannot be
	// inferred from the value itself.
	HasBatteryLevel bool `yaml:"has_battery_level"`
}

// RetryConfig contains retry and backoff settings for backend requests.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget for idempotent requests.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBaseMs is the base delay for exponential backoff, in milliseconds.
	BackoffBaseMs int `yaml:"backoff_base_ms"`

	// BackoffCapMs caps both computed backoff delays and honoured
	// Retry-After directives, in milliseconds.
	BackoffCapMs int `yaml:"backoff_cap_ms"`
}

// CacheConfig contains cache lifetime settings, in seconds.
type CacheConfig struct {
	// StationaryTTL applies to door states that are settled (open, closed,
	// timeouts, unknown). Clamped to [5s, 60s].
	StationaryTTL int `yaml:"stationary_ttl"`

	// TransitioningTTL applies to door states that are mid-movement
	// (opening, closing). Clamped to [1s, 30s].
	TransitioningTTL int `yaml:"transitioning_ttl"`

	// AccountTTL applies to the device listing. Clamped to [5m, 24h].
	AccountTTL int `yaml:"account_ttl"`
}

// PollerConfig contains subscription poller settings, in seconds.
type PollerConfig struct {
	// Interval is the delay between the end of one poll and the start of
	// the next for a subscribed door. Clamped to [5s, 60s].
	Interval int `yaml:"interval"`

	// DiscoveryRetry is the delay before retrying device discovery after a
	// startup failure.
	DiscoveryRetry int `yaml:"discovery_retry"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings, in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Clamp bounds for tuning knobs. Values outside these ranges are pulled back
// to the nearest bound rather than rejected, so a typo in the config degrades
// polling behaviour instead of refusing to start.
const (
	minStationaryTTL = 5 * time.Second
	maxStationaryTTL = 60 * time.Second

	minTransitioningTTL = 1 * time.Second
	maxTransitioningTTL = 30 * time.Second

	minAccountTTL = 5 * time.Minute
	maxAccountTTL = 24 * time.Hour

	minPollInterval = 5 * time.Second
	maxPollInterval = 60 * time.Second
)

// Load reads, merges and validates configuration.
//
// Order of precedence (lowest to highest): built-in defaults, the YAML file
// at path, environment variable overrides.
//
// Parameters:
//   - path: Filesystem path to the YAML configuration file
//
// Returns:
//   - *Config: Validated configuration
//   - error: If the file cannot be read, parsed, or fails validation
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Timeout: 5,
			Retry: RetryConfig{
				MaxAttempts:   3,
				BackoffBaseMs: 500,
				BackoffCapMs:  30000,
			},
			IncludeShared:       true,
			BatteryLowThreshold: 20,
		},
		Cache: CacheConfig{
			StationaryTTL:    15,
			TransitioningTTL: 5,
			AccountTTL:       3600,
		},
		Poller: PollerConfig{
			Interval:       15,
			DiscoveryRetry: 300,
		},
		Database: DatabaseConfig{
			Path:        "./data/gatesync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gatesync",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8095,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GATESYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Backend
	if v := os.Getenv("GATESYNC_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("GATESYNC_BACKEND_USERNAME"); v != "" {
		cfg.Backend.Username = v
	}
	if v := os.Getenv("GATESYNC_BACKEND_PASSWORD"); v != "" {
		cfg.Backend.Password = v
	}

	// Database
	if v := os.Getenv("GATESYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GATESYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GATESYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GATESYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GATESYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Backend validation
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	} else if strings.HasSuffix(c.Backend.BaseURL, "/") {
		errs = append(errs, "backend.base_url must not end with a slash")
	}
	if c.Backend.Username == "" {
		errs = append(errs, "backend.username is required (set GATESYNC_BACKEND_USERNAME environment variable)")
	}
	if c.Backend.Password == "" {
		errs = append(errs, "backend.password is required (set GATESYNC_BACKEND_PASSWORD environment variable)")
	}
	if c.Backend.Retry.MaxAttempts < 1 {
		errs = append(errs, "backend.retry.max_attempts must be at least 1")
	}
	if c.Backend.BatteryLowThreshold < 0 || c.Backend.BatteryLowThreshold > 100 {
		errs = append(errs, "backend.battery_low_threshold must be between 0 and 100")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb.enabled is true")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb.enabled is true (set GATESYNC_INFLUXDB_TOKEN environment variable)")
		}
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// clampDuration pulls d back into the [lo, hi] range.
func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}

// GetBackendTimeout returns the per-request HTTP timeout as a Duration.
func (c *Config) GetBackendTimeout() time.Duration {
	if c.Backend.Timeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Backend.Timeout) * time.Second
}

// GetStationaryTTL returns the cache TTL for settled door states,
// clamped to [5s, 60s].
func (c *Config) GetStationaryTTL() time.Duration {
	return clampDuration(time.Duration(c.Cache.StationaryTTL)*time.Second, minStationaryTTL, maxStationaryTTL)
}

// GetTransitioningTTL returns the cache TTL for doors that are mid-movement,
// clamped to [1s, 30s].
func (c *Config) GetTransitioningTTL() time.Duration {
	return clampDuration(time.Duration(c.Cache.TransitioningTTL)*time.Second, minTransitioningTTL, maxTransitioningTTL)
}

// GetAccountTTL returns the cache TTL for the device listing,
// clamped to [5m, 24h].
func (c *Config) GetAccountTTL() time.Duration {
	return clampDuration(time.Duration(c.Cache.AccountTTL)*time.Second, minAccountTTL, maxAccountTTL)
}

// GetPollInterval returns the subscription poll interval, clamped to [5s, 60s].
func (c *Config) GetPollInterval() time.Duration {
	return clampDuration(time.Duration(c.Poller.Interval)*time.Second, minPollInterval, maxPollInterval)
}

// GetDiscoveryRetry returns the delay between startup discovery attempts.
func (c *Config) GetDiscoveryRetry() time.Duration {
	if c.Poller.DiscoveryRetry <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Poller.DiscoveryRetry) * time.Second
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
