package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
pool:
  api_code: "ABC123"
  temperature_scale: 0
  channel_modes:
    channel-2: [0, 3, 4, 5]
polling:
  base_interval: 90
  active_interval: 10
database:
  enabled: true
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Pool.APICode != "ABC123" {
		t.Errorf("Pool.APICode = %q, want %q", cfg.Pool.APICode, "ABC123")
	}
	if cfg.Pool.BaseURL != "https://www.connectmypool.com.au" {
		t.Errorf("Pool.BaseURL = %q, want default", cfg.Pool.BaseURL)
	}
	if got := cfg.Pool.ChannelModes["channel-2"]; len(got) != 4 || got[1] != 3 {
		t.Errorf("Pool.ChannelModes[channel-2] = %v, want [0 3 4 5]", got)
	}
	if cfg.GetBaseInterval() != 90*time.Second {
		t.Errorf("GetBaseInterval() = %v, want 90s", cfg.GetBaseInterval())
	}
	if cfg.GetActiveInterval() != 10*time.Second {
		t.Errorf("GetActiveInterval() = %v, want 10s", cfg.GetActiveInterval())
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
}

func TestLoad_AppliesPollingFloors(t *testing.T) {
	content := `
pool:
  api_code: "ABC123"
polling:
  base_interval: 10
  active_interval: 1
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Polling.BaseInterval != MinBaseInterval {
		t.Errorf("Polling.BaseInterval = %d, want %d", cfg.Polling.BaseInterval, MinBaseInterval)
	}
	if cfg.Polling.ActiveInterval != MinActiveInterval {
		t.Errorf("Polling.ActiveInterval = %d, want %d", cfg.Polling.ActiveInterval, MinActiveInterval)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
pool:
  api_code: ""
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for empty pool.api_code, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Pool.APICode = "ABC123"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing api code", mutate: func(c *Config) { c.Pool.APICode = "" }, wantErr: true},
		{name: "dev mode needs no api code", mutate: func(c *Config) {
			c.Pool.APICode = ""
			c.DevMode = true
		}},
		{name: "bad temperature scale", mutate: func(c *Config) { c.Pool.TemperatureScale = 2 }, wantErr: true},
		{name: "single mode override", mutate: func(c *Config) {
			c.Pool.ChannelModes = map[string][]int{"channel-1": {0}}
		}, wantErr: true},
		{name: "active above base", mutate: func(c *Config) { c.Polling.ActiveInterval = 120 }, wantErr: true},
		{name: "zero failure threshold", mutate: func(c *Config) { c.Polling.FailureThreshold = 0 }, wantErr: true},
		{name: "zero observe timeout", mutate: func(c *Config) { c.Reconcile.ObserveTimeout = 0 }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "enabled api with bad port", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "disabled api ignores port", mutate: func(c *Config) {
			c.API.Enabled = false
			c.API.Port = 0
		}},
		{name: "influx enabled without bucket", mutate: func(c *Config) {
			c.InfluxDB.Enabled = true
			c.InfluxDB.URL = "http://localhost:8086"
		}, wantErr: true},
		{name: "short JWT secret", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "empty JWT secret disables auth", mutate: func(c *Config) { c.Security.JWT.Secret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_GetDurations(t *testing.T) {
	cfg := Default()

	if got := cfg.GetRequestTimeout(); got != 30*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetActiveWindow(); got != 5*time.Minute {
		t.Errorf("GetActiveWindow() = %v, want 5m", got)
	}
	if got := cfg.GetSettleDelay(); got != 2*time.Second {
		t.Errorf("GetSettleDelay() = %v, want 2s", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 120 {
		t.Errorf("GetWriteTimeout() = %v, want 120", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("POOLBRIDGE_POOL_API_CODE", "ENV-CODE")
	t.Setenv("POOLBRIDGE_POLLING_BASE_INTERVAL", "120")
	t.Setenv("POOLBRIDGE_POLLING_ACTIVE_INTERVAL", "not-a-number")
	t.Setenv("POOLBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("POOLBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("POOLBRIDGE_API_PORT", "9090")
	t.Setenv("POOLBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("POOLBRIDGE_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	if cfg.Pool.APICode != "ENV-CODE" {
		t.Errorf("Pool.APICode = %q, want %q", cfg.Pool.APICode, "ENV-CODE")
	}
	if cfg.Polling.BaseInterval != 120 {
		t.Errorf("Polling.BaseInterval = %d, want 120", cfg.Polling.BaseInterval)
	}
	if cfg.Polling.ActiveInterval != 5 {
		t.Errorf("Polling.ActiveInterval = %d, want unchanged 5", cfg.Polling.ActiveInterval)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Polling.BaseInterval != 60 {
		t.Errorf("defaultConfig Polling.BaseInterval = %d, want 60", cfg.Polling.BaseInterval)
	}
	if cfg.Polling.ActiveWindow != 300 {
		t.Errorf("defaultConfig Polling.ActiveWindow = %d, want 300", cfg.Polling.ActiveWindow)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
