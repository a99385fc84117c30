package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/poolbridge/internal/coordinator"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthSource is the part of the coordinator the health reporter reads.
type HealthSource interface {
	HealthCheck(ctx context.Context) error
	View() (coordinator.PoolStatus, error)
}

// HealthPublisher is the interface for publishing health messages.
// This is typically implemented by an MQTT client.
type HealthPublisher interface {
	// Publish sends a message to a topic with the specified QoS and retention.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// IsConnected returns true if the publisher is connected.
	IsConnected() bool
}

// HealthReporter manages periodic health status reporting.
// It publishes health messages to MQTT at regular intervals.
type HealthReporter struct {
	topic     string
	version   string
	startTime time.Time
	interval  time.Duration
	publisher HealthPublisher
	source    HealthSource
	now       func() time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	// Topic is where health messages are published.
	Topic string

	// Version is the service version.
	Version string

	// Interval is how often to publish health status.
	// Default: 30 seconds.
	Interval time.Duration

	// Publisher is the MQTT client for publishing messages.
	Publisher HealthPublisher

	// Source provides pool and upstream health.
	Source HealthSource

	// Logger is optional.
	Logger Logger
}

// NewHealthReporter creates a new health reporter.
//
// Parameters:
//   - cfg: Configuration for the health reporter
//
// Returns:
//   - *HealthReporter: Ready to start (call Start to begin reporting)
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	return &HealthReporter{
		topic:     cfg.Topic,
		version:   cfg.Version,
		startTime: time.Now(),
		interval:  interval,
		publisher: cfg.Publisher,
		source:    cfg.Source,
		now:       time.Now,
		done:      make(chan struct{}),
		logger:    logger,
	}
}

// Start begins periodic health reporting.
// Call Stop to shut down.
//
// Parameters:
//   - ctx: Context for cancellation (will stop reporting when cancelled)
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop gracefully stops health reporting.
// Publishes a final "stopping" status before returning.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()

		//nolint:errcheck // Best-effort during shutdown
		h.publishStatus(h.message(HealthStopping, ""))
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publishStatus(h.message(HealthStarting, "bridge starting"))
}

// PublishNow publishes the current health status immediately.
func (h *HealthReporter) PublishNow() error {
	return h.publishStatus(h.Current())
}

// Current evaluates the bridge's health without publishing it.
func (h *HealthReporter) Current() HealthMessage {
	status, reason := h.determineStatus()
	msg := h.message(status, reason)

	if h.source != nil {
		if view, err := h.source.View(); err == nil {
			msg.PoolConnected = view.Connected
			msg.Fresh = view.Fresh
			msg.ActiveTransitions = view.ActiveTransitions
			if !view.FetchedAt.IsZero() {
				at := view.FetchedAt
				msg.LastFetch = &at
			}
		}
	}
	return msg
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

// determineStatus evaluates the current bridge status.
func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.source == nil {
		return HealthDegraded, "no coordinator"
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	switch err := h.source.HealthCheck(ctx); {
	case errors.Is(err, coordinator.ErrUpstreamUnavailable):
		return HealthUnavailable, err.Error()
	case errors.Is(err, coordinator.ErrNotReady):
		return HealthStarting, "waiting for first observation"
	case err != nil:
		return HealthDegraded, err.Error()
	}

	view, err := h.source.View()
	if err != nil {
		return HealthDegraded, err.Error()
	}
	if !view.Connected {
		return HealthDegraded, "pool not connected to cloud"
	}
	if !view.Fresh {
		return HealthDegraded, "serving cached status"
	}
	return HealthHealthy, ""
}

func (h *HealthReporter) message(status HealthStatus, reason string) HealthMessage {
	now := h.now()
	return HealthMessage{
		Status:        status,
		Reason:        reason,
		Timestamp:     now.UTC(),
		Version:       h.version,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
	}
}

func (h *HealthReporter) publishStatus(msg HealthMessage) error {
	if h.publisher == nil {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// QoS 1, retained
	return h.publisher.Publish(h.topic, payload, 1, true)
}
