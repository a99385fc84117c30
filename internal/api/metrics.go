package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string          `json:"timestamp"`
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Runtime       RuntimeMetrics  `json:"runtime"`
	WebSocket     WSMetrics       `json:"websocket"`
	MQTT          MQTTMetrics     `json:"mqtt"`
	Pool          PoolMetrics     `json:"pool"`
	Database      DatabaseMetrics `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Enabled   bool `json:"enabled"`
	Connected bool `json:"connected"`
}

// PoolMetrics summarises the cache and the cloud throttle.
type PoolMetrics struct {
	Ready               bool       `json:"ready"`
	Freshness           string     `json:"freshness"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	ActiveTransitions   int        `json:"active_transitions"`
	LastFetch           *time.Time `json:"last_fetch,omitempty"`
	LastCommand         *time.Time `json:"last_command,omitempty"`
	LastRejection       *time.Time `json:"last_rejection,omitempty"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	Enabled         bool  `json:"enabled"`
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// timePtr returns nil for the zero time.
func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// handleMetrics returns a JSON summary for dashboards. Prometheus scrapes
// /metrics instead.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Enabled: true, Connected: s.mqtt.IsConnected()}
	}

	throttle := s.coord.Throttle()
	metrics.Pool = PoolMetrics{
		Ready:               s.coord.Ready(),
		Freshness:           s.coord.Freshness().String(),
		ConsecutiveFailures: throttle.Failures,
		LastFetch:           timePtr(throttle.LastFetch),
		LastCommand:         timePtr(throttle.LastCommand),
		LastRejection:       timePtr(throttle.LastRejection),
	}
	if status, err := s.coord.View(); err == nil {
		metrics.Pool.ActiveTransitions = status.ActiveTransitions
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = DatabaseMetrics{
			Enabled:         true,
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
