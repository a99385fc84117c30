package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/poolbridge/internal/coordinator"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/reconcile"
)

// fakeSource implements Coordinator with fixed health answers.
type fakeSource struct {
	mu        sync.Mutex
	healthErr error
	view      coordinator.PoolStatus
	viewErr   error
}

func (f *fakeSource) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeSource) View() (coordinator.PoolStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view, f.viewErr
}

func (f *fakeSource) Subscribe(...pool.ChannelID) *coordinator.Subscription { return nil }

func (f *fakeSource) SubmitTransition(pool.ChannelID, string, *bool) (*reconcile.Handle, error) {
	return nil, coordinator.ErrNotReady
}

func (f *fakeSource) CancelTransition(pool.ChannelID) error { return coordinator.ErrNotReady }

func (f *fakeSource) Describe(*reconcile.Handle) coordinator.TransitionView {
	return coordinator.TransitionView{}
}

func (f *fakeSource) SetSetpoint(context.Context, pool.ChannelID, float64) (pool.ActionReceipt, error) {
	return pool.ActionReceipt{}, coordinator.ErrNotReady
}

func (f *fakeSource) SetLightEffect(context.Context, pool.ChannelID, string) (pool.ActionReceipt, error) {
	return pool.ActionReceipt{}, coordinator.ErrNotReady
}

func (f *fakeSource) SyncLights(context.Context, pool.ChannelID) (pool.ActionReceipt, error) {
	return pool.ActionReceipt{}, coordinator.ErrNotReady
}

func (f *fakeSource) ExecuteAction(context.Context, pool.Action) (pool.ActionReceipt, error) {
	return pool.ActionReceipt{}, coordinator.ErrNotReady
}

func lastHealth(t *testing.T, fm *fakeMQTT, topic string) HealthMessage {
	t.Helper()
	msgs := fm.messages(topic)
	if len(msgs) == 0 {
		t.Fatalf("no messages on %s", topic)
	}
	var h HealthMessage
	if err := json.Unmarshal(msgs[len(msgs)-1].payload, &h); err != nil {
		t.Fatalf("decoding health: %v", err)
	}
	if !msgs[len(msgs)-1].retained {
		t.Error("health published without retain")
	}
	return h
}

func TestHealthReporterDefaultInterval(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{Topic: "pb/health"})

	if hr.interval != 30*time.Second {
		t.Errorf("default interval = %v, want 30s", hr.interval)
	}
}

func TestHealthReporterStatus(t *testing.T) {
	fetched := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		source     *fakeSource
		wantStatus HealthStatus
		wantReason string
	}{
		{
			name:       "healthy",
			source:     &fakeSource{view: coordinator.PoolStatus{Connected: true, Fresh: true, FetchedAt: fetched, ActiveTransitions: 1}},
			wantStatus: HealthHealthy,
		},
		{
			name:       "stale cache",
			source:     &fakeSource{view: coordinator.PoolStatus{Connected: true, FetchedAt: fetched}},
			wantStatus: HealthDegraded,
			wantReason: "serving cached status",
		},
		{
			name:       "pool offline",
			source:     &fakeSource{view: coordinator.PoolStatus{Fresh: true, FetchedAt: fetched}},
			wantStatus: HealthDegraded,
			wantReason: "pool not connected to cloud",
		},
		{
			name:       "not primed",
			source:     &fakeSource{healthErr: coordinator.ErrNotReady, viewErr: coordinator.ErrNotReady},
			wantStatus: HealthStarting,
			wantReason: "waiting for first observation",
		},
		{
			name:       "upstream failing",
			source:     &fakeSource{healthErr: fmt.Errorf("%w: 3 failures", coordinator.ErrUpstreamUnavailable)},
			wantStatus: HealthUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := newFakeMQTT()
			hr := NewHealthReporter(HealthReporterConfig{
				Topic:     "pb/health",
				Version:   "1.2.3",
				Publisher: fm,
				Source:    tt.source,
			})

			if err := hr.PublishNow(); err != nil {
				t.Fatalf("PublishNow() error = %v", err)
			}
			h := lastHealth(t, fm, "pb/health")

			if h.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", h.Status, tt.wantStatus)
			}
			if tt.wantReason != "" && h.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", h.Reason, tt.wantReason)
			}
			if h.Version != "1.2.3" {
				t.Errorf("Version = %q", h.Version)
			}
			if tt.wantStatus == HealthHealthy {
				if h.LastFetch == nil || !h.LastFetch.Equal(fetched) {
					t.Errorf("LastFetch = %v, want %v", h.LastFetch, fetched)
				}
				if !h.PoolConnected || !h.Fresh || h.ActiveTransitions != 1 {
					t.Errorf("view fields = %+v", h)
				}
			}
		})
	}
}

func TestHealthReporterPublishStarting(t *testing.T) {
	fm := newFakeMQTT()
	hr := NewHealthReporter(HealthReporterConfig{Topic: "pb/health", Publisher: fm, Source: &fakeSource{}})

	if err := hr.PublishStarting(); err != nil {
		t.Fatalf("PublishStarting() error = %v", err)
	}
	if h := lastHealth(t, fm, "pb/health"); h.Status != HealthStarting {
		t.Errorf("Status = %q, want starting", h.Status)
	}
}

func TestHealthReporterStartStop(t *testing.T) {
	fm := newFakeMQTT()
	hr := NewHealthReporter(HealthReporterConfig{
		Topic:     "pb/health",
		Interval:  20 * time.Millisecond,
		Publisher: fm,
		Source:    &fakeSource{view: coordinator.PoolStatus{Connected: true, Fresh: true}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hr.Start(ctx)

	time.Sleep(70 * time.Millisecond)
	hr.Stop()
	hr.Stop()

	msgs := fm.messages("pb/health")
	// initial + at least one periodic + stopping
	if len(msgs) < 3 {
		t.Errorf("expected at least 3 messages, got %d", len(msgs))
	}
	if h := lastHealth(t, fm, "pb/health"); h.Status != HealthStopping {
		t.Errorf("last Status = %q, want stopping", h.Status)
	}
}

func TestHealthReporterWithNoPublisher(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{Topic: "pb/health"})

	if err := hr.PublishNow(); err != nil {
		t.Errorf("PublishNow with nil publisher should not error: %v", err)
	}
	if got := hr.Current(); got.Status != HealthDegraded {
		t.Errorf("Current() without source = %q, want degraded", got.Status)
	}
}

func TestHealthReporterUptime(t *testing.T) {
	hr := NewHealthReporter(HealthReporterConfig{Topic: "pb/health", Source: &fakeSource{}})
	start := hr.startTime
	hr.now = func() time.Time { return start.Add(90 * time.Second) }

	if got := hr.Current().UptimeSeconds; got != 90 {
		t.Errorf("UptimeSeconds = %d, want 90", got)
	}
}
