package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/poolbridge/internal/coordinator"
	"github.com/nerrad567/poolbridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/poolbridge/internal/pool"
	"github.com/nerrad567/poolbridge/internal/reconcile"
)

// actionTimeout bounds one command sent as a single cloud action,
// including the wait for the shared transport slot.
const actionTimeout = 2 * time.Minute

// Bridge exposes the coordinator over MQTT. It handles:
//   - Publishing retained channel and pool state when it changes
//   - Receiving channel commands and acknowledging them when they resolve
//   - Passing raw actions through to the cloud
//   - Health reporting and graceful shutdown
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	coord   Coordinator
	mqtt    MQTTClient
	topics  mqtt.Topics
	qos     byte
	health  *HealthReporter
	sub     *coordinator.Subscription
	started bool

	// Last published payloads for change detection, keyed by topic.
	published   map[string][]byte
	publishedMu sync.Mutex

	// Shutdown coordination
	wg        sync.WaitGroup
	mu        sync.Mutex
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger Logger
}

// Logger is the structured logger the bridge writes to.
// *logging.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MQTTClient is the interface for MQTT operations.
// *mqtt.Client satisfies it.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// Coordinator is the set of pool operations the bridge drives.
// *coordinator.Coordinator satisfies it.
type Coordinator interface {
	HealthSource

	Subscribe(ids ...pool.ChannelID) *coordinator.Subscription
	SubmitTransition(id pool.ChannelID, mode string, wait *bool) (*reconcile.Handle, error)
	CancelTransition(id pool.ChannelID) error
	Describe(h *reconcile.Handle) coordinator.TransitionView
	SetSetpoint(ctx context.Context, id pool.ChannelID, value float64) (pool.ActionReceipt, error)
	SetLightEffect(ctx context.Context, id pool.ChannelID, effect string) (pool.ActionReceipt, error)
	SyncLights(ctx context.Context, id pool.ChannelID) (pool.ActionReceipt, error)
	ExecuteAction(ctx context.Context, action pool.Action) (pool.ActionReceipt, error)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Coordinator carries out commands and supplies state. Required.
	Coordinator Coordinator

	// MQTTClient is the broker connection. Required.
	MQTTClient MQTTClient

	// Topics builds the topic tree. Zero value uses the default prefix.
	Topics mqtt.Topics

	// QoS for state, ack and result messages.
	QoS byte

	// Version is reported in health messages.
	Version string

	// HealthInterval is how often health is published. Default: 30 seconds.
	HealthInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// New creates a bridge. Call Start to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		coord:     opts.Coordinator,
		mqtt:      opts.MQTTClient,
		topics:    opts.Topics,
		qos:       opts.QoS,
		published: make(map[string][]byte),
		ctx:       ctx,
		ctxCancel: cancel,
		logger:    logger,
	}
	b.health = NewHealthReporter(HealthReporterConfig{
		Topic:     opts.Topics.Health(),
		Version:   opts.Version,
		Interval:  opts.HealthInterval,
		Publisher: opts.MQTTClient,
		Source:    opts.Coordinator,
		Logger:    logger,
	})
	return b, nil
}

// Start subscribes to command topics, begins forwarding state and starts
// health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return nil
	}
	if b.ctx.Err() != nil {
		return coordinator.ErrStopped
	}

	if err := b.health.PublishStarting(); err != nil {
		b.logger.Warn("failed to publish starting status", "error", err)
	}

	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, 1, b.handleCommand); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	actionTopic := b.topics.Action()
	if err := b.mqtt.Subscribe(actionTopic, 1, b.handleAction); err != nil {
		return fmt.Errorf("subscribe to actions: %w", err)
	}
	b.logger.Info("subscribed to commands", "commands", commandTopic, "actions", actionTopic)

	b.sub = b.coord.Subscribe()
	b.wg.Add(1)
	go b.forwardState(b.sub)

	b.health.Start(ctx)
	b.started = true
	b.logger.Info("bridge started", "prefix", b.topics.Prefix)
	return nil
}

// Stop gracefully shuts down the bridge. In-flight commands are abandoned
// without acknowledgement; their reconciliation continues in the coordinator.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.ctxCancel()

		b.mu.Lock()
		if b.sub != nil {
			b.sub.Close()
		}
		b.mu.Unlock()

		b.health.Stop()
		b.wg.Wait()
		b.logger.Info("bridge stopped")
	})
}

// Republish forgets what was last published so the next update of every
// topic goes out again. Call it after the broker connection is restored.
func (b *Bridge) Republish() {
	b.publishedMu.Lock()
	clear(b.published)
	b.publishedMu.Unlock()

	if status, err := b.coord.View(); err == nil {
		for _, u := range status.Channels {
			b.publishChannel(u)
		}
		b.publishPool(status)
	}
	if err := b.health.PublishNow(); err != nil {
		b.logger.Warn("failed to publish health", "error", err)
	}
}

// forwardState publishes every update delivered by the subscription.
func (b *Bridge) forwardState(sub *coordinator.Subscription) {
	defer b.wg.Done()
	for u := range sub.Updates() {
		b.publishChannel(u)
		if status, err := b.coord.View(); err == nil {
			b.publishPool(status)
		}
	}
}

func (b *Bridge) publishChannel(u coordinator.StatusUpdate) {
	// FetchedAt changes on every read; only a change in state is published.
	key := u
	key.FetchedAt = time.Time{}
	b.publishRetained(b.topics.State(string(u.Channel)), u, key)
}

func (b *Bridge) publishPool(status coordinator.PoolStatus) {
	status.Channels = nil
	key := status
	key.FetchedAt = time.Time{}
	key.NextLiveAt = time.Time{}
	b.publishRetained(b.topics.PoolState(), status, key)
}

// publishRetained publishes v unless key is unchanged since the last publish.
func (b *Bridge) publishRetained(topic string, v, key any) {
	fingerprint, err := json.Marshal(key)
	if err != nil {
		b.logger.Error("failed to encode state", "topic", topic, "error", err)
		return
	}

	b.publishedMu.Lock()
	unchanged := bytes.Equal(b.published[topic], fingerprint)
	b.publishedMu.Unlock()
	if unchanged {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to encode state", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, true); err != nil {
		b.logger.Warn("failed to publish state", "topic", topic, "error", err)
		return
	}

	b.publishedMu.Lock()
	b.published[topic] = fingerprint
	b.publishedMu.Unlock()
	b.logger.Debug("state published", "topic", topic)
}

// handleCommand processes a command for one channel.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	channel, ok := b.topics.ChannelOf(topic)
	if !ok {
		return fmt.Errorf("invalid command topic %q", topic)
	}

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.publishAck(channel, CommandMessage{Command: "unknown"}, AckFailed, nil, 0,
			fmt.Errorf("%w: %w", ErrInvalidParameters, err))
		return fmt.Errorf("parsing command: %w", err)
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	b.logger.Info("received command",
		"command_id", cmd.ID,
		"channel", channel,
		"command", cmd.Command)

	id := pool.ChannelID(channel)
	switch cmd.Command {
	case CommandSetMode:
		b.setMode(id, cmd)
	case CommandCancel:
		err := b.coord.CancelTransition(id)
		status := AckCompleted
		if err != nil {
			status = AckFailed
		}
		b.publishAck(channel, cmd, status, nil, 0, err)
	case CommandSetSetpoint:
		v, err := cmd.Value.Float()
		if err != nil {
			b.publishAck(channel, cmd, AckFailed, nil, 0,
				fmt.Errorf("%w: setpoint %q is not a number", ErrInvalidParameters, cmd.Value))
			return nil
		}
		b.runAction(channel, cmd, func(ctx context.Context) (pool.ActionReceipt, error) {
			return b.coord.SetSetpoint(ctx, id, v)
		})
	case CommandSetEffect:
		if cmd.Value == "" {
			b.publishAck(channel, cmd, AckFailed, nil, 0,
				fmt.Errorf("%w: effect is required", ErrInvalidParameters))
			return nil
		}
		b.runAction(channel, cmd, func(ctx context.Context) (pool.ActionReceipt, error) {
			return b.coord.SetLightEffect(ctx, id, string(cmd.Value))
		})
	case CommandSync:
		b.runAction(channel, cmd, func(ctx context.Context) (pool.ActionReceipt, error) {
			return b.coord.SyncLights(ctx, id)
		})
	default:
		b.publishAck(channel, cmd, AckFailed, nil, 0,
			fmt.Errorf("%w: %q", ErrInvalidCommand, cmd.Command))
	}
	return nil
}

// setMode submits a transition, acknowledges acceptance and acknowledges
// again when it resolves.
func (b *Bridge) setMode(id pool.ChannelID, cmd CommandMessage) {
	if cmd.Mode == "" {
		b.publishAck(string(id), cmd, AckFailed, nil, 0,
			fmt.Errorf("%w: mode is required", ErrInvalidParameters))
		return
	}
	h, err := b.coord.SubmitTransition(id, cmd.Mode, cmd.WaitForExecution)
	if err != nil {
		b.publishAck(string(id), cmd, AckFailed, nil, 0, err)
		return
	}
	view := b.coord.Describe(h)
	b.publishAck(string(id), cmd, AckAccepted, &view, 0, nil)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		select {
		case <-h.Done():
		case <-b.ctx.Done():
			return
		}
		o, _ := h.Outcome()
		view := b.coord.Describe(h)
		b.publishAck(string(id), cmd, ackStatus(o.State), &view, 0, o.Reason)
	}()
}

// runAction carries out a single-action command off the MQTT delivery goroutine.
func (b *Bridge) runAction(channel string, cmd CommandMessage, fn func(ctx context.Context) (pool.ActionReceipt, error)) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, actionTimeout)
		defer cancel()

		receipt, err := fn(ctx)
		if b.ctx.Err() != nil {
			return
		}
		status := AckCompleted
		if err != nil {
			status = AckFailed
			b.logger.Warn("command failed", "command_id", cmd.ID, "channel", channel, "error", err)
		}
		b.publishAck(channel, cmd, status, nil, receipt.ActionNumber, err)
	}()
}

func ackStatus(s reconcile.State) AckStatus {
	switch s {
	case reconcile.Reached:
		return AckCompleted
	case reconcile.Cancelled:
		return AckCancelled
	case reconcile.TimedOut:
		return AckTimeout
	default:
		return AckFailed
	}
}

func (b *Bridge) publishAck(channel string, cmd CommandMessage, status AckStatus, view *coordinator.TransitionView, actionNumber int, err error) {
	ack := AckMessage{
		CommandID:    cmd.ID,
		Timestamp:    time.Now().UTC(),
		Channel:      channel,
		Command:      cmd.Command,
		Status:       status,
		Transition:   view,
		ActionNumber: actionNumber,
	}
	if status == AckFailed || status == AckTimeout {
		ack.Error = ackError(err)
		if ack.Error == nil && status == AckTimeout {
			ack.Error = &AckError{Code: "TIMEOUT", Message: "channel did not confirm the requested mode"}
		}
	}
	b.publish(b.topics.Ack(channel), ack)
}

// handleAction passes a raw action through to the cloud.
func (b *Bridge) handleAction(_ string, payload []byte) error {
	var msg ActionMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.publishResult(ActionMessage{}, pool.ActionReceipt{}, fmt.Errorf("%w: %w", ErrInvalidParameters, err))
		return fmt.Errorf("parsing action: %w", err)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	code := pool.ActionCode(msg.ActionCode)
	if !code.Valid() {
		b.publishResult(msg, pool.ActionReceipt{}, fmt.Errorf("%w: action code %d", ErrInvalidParameters, msg.ActionCode))
		return nil
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(b.ctx, actionTimeout)
		defer cancel()

		receipt, err := b.coord.ExecuteAction(ctx, pool.Action{
			Code:             code,
			DeviceNumber:     msg.DeviceNumber,
			Value:            msg.Value,
			WaitForExecution: msg.WaitForExecution,
		})
		if errors.Is(err, context.Canceled) && b.ctx.Err() != nil {
			return
		}
		b.publishResult(msg, receipt, err)
	}()
	return nil
}

func (b *Bridge) publishResult(msg ActionMessage, receipt pool.ActionReceipt, err error) {
	result := ActionResult{
		ID:           msg.ID,
		Timestamp:    time.Now().UTC(),
		Status:       AckCompleted,
		ActionNumber: receipt.ActionNumber,
	}
	if err != nil {
		result.Status = AckFailed
		result.Error = ackError(err)
	}
	b.publish(b.topics.ActionResult(), result)
}

func (b *Bridge) publish(topic string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.logger.Error("failed to encode message", "topic", topic, "error", err)
		return
	}
	if err := b.mqtt.Publish(topic, payload, b.qos, false); err != nil {
		b.logger.Warn("failed to publish", "topic", topic, "error", err)
	}
}
