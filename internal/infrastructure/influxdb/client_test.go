package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
	"github.com/nerrad567/poolbridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/simulator"
)

// testConfig returns a configuration for the local dev InfluxDB.
// These values match docker-compose.yml.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "poolbridge-dev-token",
		Org:           "poolbridge",
		Bucket:        "pool",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// connect opens a client and records async write errors.
func connect(t *testing.T) (*influxdb.Client, func() error) {
	t.Helper()
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})
	return client, func() error {
		mu.Lock()
		defer mu.Unlock()
		return writeErr
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)
	client, _ := connect(t)

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	client, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
	if client != nil {
		t.Error("Connect() returned a client when disabled")
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_NegativeBatchSettings(t *testing.T) {
	skipIfNoInfluxDB(t)
	cfg := testConfig()
	cfg.BatchSize = -5
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect() with negative batch settings")
	}
}

// =============================================================================
// Health Check Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	skipIfNoInfluxDB(t)
	client, _ := connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	skipIfNoInfluxDB(t)
	client, _ := connect(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteSnapshot(t *testing.T) {
	skipIfNoInfluxDB(t)
	client, writeErr := connect(t)

	sim := simulator.New(simulator.Options{})
	ctx := context.Background()
	layout, err := sim.FetchConfiguration(ctx)
	if err != nil {
		t.Fatal(err)
	}
	status, err := sim.FetchStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cfg := pool.NewConfiguration(layout, nil)

	client.WriteSnapshot(cfg, pool.NewSnapshot(cfg, status, time.Now()))
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	if err := writeErr(); err != nil {
		t.Errorf("Write error = %v", err)
	}
}

func TestWritePoint(t *testing.T) {
	skipIfNoInfluxDB(t)
	client, writeErr := connect(t)

	client.WritePoint(
		"custom_measurement",
		map[string]string{"source": "test"},
		map[string]interface{}{"value": 99.9, "count": 5},
		time.Now().Add(-time.Hour),
	)
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	if err := writeErr(); err != nil {
		t.Errorf("Write error = %v", err)
	}
}

// =============================================================================
// Close Tests
// =============================================================================

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)
	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close = %v, want ErrNotConnected", err)
	}
	// Second close and flush are no-ops
	if err := client.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	client.Flush()
}

func TestClose_Nil(t *testing.T) {
	var client *influxdb.Client
	if err := client.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
}
