package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Polling floors imposed by the upstream throttle. Values below these are
// raised silently rather than rejected.
const (
	MinBaseInterval   = 60
	MinActiveInterval = 5
)

// Config is the root configuration structure for poolbridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	// DevMode replaces the cloud API with an in-process simulated controller.
	DevMode bool `yaml:"dev_mode"`

	Pool      PoolConfig      `yaml:"pool"`
	Polling   PollingConfig   `yaml:"polling"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// PoolConfig identifies the pool controller and how to reach the cloud API.
type PoolConfig struct {
	// APICode is the per-pool code issued by the vendor portal.
	APICode string `yaml:"api_code"`

	// BaseURL of the cloud API. Default: "https://www.connectmypool.com.au"
	BaseURL string `yaml:"base_url"`

	// TemperatureScale is 0 for Celsius, 1 for Fahrenheit.
	TemperatureScale int `yaml:"temperature_scale"`

	// RequestTimeout bounds a single upstream HTTP call (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// ChannelModes overrides the cyclic mode sequence of individual channels.
	// Keys are channel ids ("channel-1"), values are ordered mode codes.
	ChannelModes map[string][]int `yaml:"channel_modes"`
}

// PollingConfig controls the observation schedule (all values in seconds).
type PollingConfig struct {
	BaseInterval     int `yaml:"base_interval"`
	ActiveInterval   int `yaml:"active_interval"`
	ActiveWindow     int `yaml:"active_window"`
	FailureThreshold int `yaml:"failure_threshold"`

	// SettleDelay is the minimum wait after a command before its confirmation read (milliseconds).
	SettleDelay int `yaml:"settle_delay_ms"`
}

// ReconcileConfig controls mode-cycle reconciliation.
type ReconcileConfig struct {
	// WaitForExecution is the default for requests that do not specify it.
	WaitForExecution bool `yaml:"wait_for_execution"`

	// ConfirmPolls is the number of confirmation reads allowed per command
	// before it counts as a retry. 0 derives it from the active window.
	ConfirmPolls int `yaml:"confirm_polls"`

	// ObserveTimeout bounds one confirmation wait (seconds).
	ObserveTimeout int `yaml:"observe_timeout"`

	// MaxAttempts is the retry budget. 0 means mode count + 2.
	MaxAttempts int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite database settings for the action audit log.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled        bool                `yaml:"enabled"`
	Broker         MQTTBrokerConfig    `yaml:"broker"`
	Auth           MQTTAuthConfig      `yaml:"auth"`
	QoS            int                 `yaml:"qos"`
	TopicPrefix    string              `yaml:"topic_prefix"`
	HealthInterval int                 `yaml:"health_interval"`
	Reconnect      MQTTReconnectConfig `yaml:"reconnect"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. An empty secret disables API authentication.
type JWTConfig struct {
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	TokenTTL int    `yaml:"token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: POOLBRIDGE_SECTION_KEY
// For example: POOLBRIDGE_POOL_API_CODE, POOLBRIDGE_API_PORT
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

	applyEnvOverrides(cfg)
	cfg.applyFloors()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with floors applied.
// Useful for tests and for running without a config file.
func Default() *Config {
	cfg := defaultConfig()
	cfg.applyFloors()
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Pool: PoolConfig{
			BaseURL:        "https://www.connectmypool.com.au",
			RequestTimeout: 30,
		},
		Polling: PollingConfig{
			BaseInterval:     60,
			ActiveInterval:   5,
			ActiveWindow:     300,
			FailureThreshold: 3,
			SettleDelay:      2000,
		},
		Reconcile: ReconcileConfig{
			WaitForExecution: true,
			ObserveTimeout:   90,
		},
		Database: DatabaseConfig{
			Path:        "./data/poolbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "poolbridge",
			},
			QoS:            1,
			TopicPrefix:    "poolbridge",
			HealthInterval: 30,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 120,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				Issuer:   "poolbridge",
				TokenTTL: 60,
			},
		},
	}
}

// applyFloors raises polling intervals to the minimum the upstream tolerates.
func (c *Config) applyFloors() {
	if c.Polling.BaseInterval < MinBaseInterval {
		c.Polling.BaseInterval = MinBaseInterval
	}
	if c.Polling.ActiveInterval < MinActiveInterval {
		c.Polling.ActiveInterval = MinActiveInterval
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: POOLBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("POOLBRIDGE_DEV_MODE"); v != "" {
		cfg.DevMode = v == "true" || v == "1"
	}

	// Pool
	if v := os.Getenv("POOLBRIDGE_POOL_API_CODE"); v != "" {
		cfg.Pool.APICode = v
	}
	if v := os.Getenv("POOLBRIDGE_POOL_BASE_URL"); v != "" {
		cfg.Pool.BaseURL = v
	}

	// Polling
	if v, ok := envInt("POOLBRIDGE_POLLING_BASE_INTERVAL"); ok {
		cfg.Polling.BaseInterval = v
	}
	if v, ok := envInt("POOLBRIDGE_POLLING_ACTIVE_INTERVAL"); ok {
		cfg.Polling.ActiveInterval = v
	}

	// Database
	if v := os.Getenv("POOLBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("POOLBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("POOLBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("POOLBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("POOLBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v, ok := envInt("POOLBRIDGE_API_PORT"); ok {
		cfg.API.Port = v
	}

	// InfluxDB
	if v := os.Getenv("POOLBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("POOLBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Pool
	if c.Pool.APICode == "" && !c.DevMode {
		errs = append(errs, "pool.api_code is required (set POOLBRIDGE_POOL_API_CODE environment variable)")
	}
	if c.Pool.BaseURL == "" {
		errs = append(errs, "pool.base_url is required")
	}
	if c.Pool.TemperatureScale != 0 && c.Pool.TemperatureScale != 1 {
		errs = append(errs, "pool.temperature_scale must be 0 (Celsius) or 1 (Fahrenheit)")
	}
	for id, modes := range c.Pool.ChannelModes {
		if len(modes) < 2 {
			errs = append(errs, fmt.Sprintf("pool.channel_modes.%s needs at least two modes", id))
		}
	}

	// Polling
	if c.Polling.ActiveInterval > c.Polling.BaseInterval {
		errs = append(errs, "polling.active_interval must not exceed polling.base_interval")
	}
	if c.Polling.ActiveWindow < 0 {
		errs = append(errs, "polling.active_window must not be negative")
	}
	if c.Polling.FailureThreshold < 1 {
		errs = append(errs, "polling.failure_threshold must be at least 1")
	}

	// Reconcile
	if c.Reconcile.ObserveTimeout < 1 {
		errs = append(errs, "reconcile.observe_timeout must be at least 1 second")
	}
	if c.Reconcile.ConfirmPolls < 0 || c.Reconcile.MaxAttempts < 0 {
		errs = append(errs, "reconcile.confirm_polls and reconcile.max_attempts must not be negative")
	}

	// Database
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required when mqtt is enabled")
	}

	// API
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// Security: an empty secret disables auth, a short one is refused.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
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

// GetRequestTimeout returns the upstream HTTP timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Pool.RequestTimeout) * time.Second
}

// GetBaseInterval returns the normal minimum spacing between live reads.
func (c *Config) GetBaseInterval() time.Duration {
	return time.Duration(c.Polling.BaseInterval) * time.Second
}

// GetActiveInterval returns the relaxed spacing used inside the active window.
func (c *Config) GetActiveInterval() time.Duration {
	return time.Duration(c.Polling.ActiveInterval) * time.Second
}

// GetActiveWindow returns how long the relaxed interval applies after a command.
func (c *Config) GetActiveWindow() time.Duration {
	return time.Duration(c.Polling.ActiveWindow) * time.Second
}

// GetSettleDelay returns the minimum wait between a command and its confirmation read.
func (c *Config) GetSettleDelay() time.Duration {
	return time.Duration(c.Polling.SettleDelay) * time.Millisecond
}

// GetObserveTimeout returns the bound on a single confirmation wait.
func (c *Config) GetObserveTimeout() time.Duration {
	return time.Duration(c.Reconcile.ObserveTimeout) * time.Second
}
