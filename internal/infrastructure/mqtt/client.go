package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
)

// Client is the broker connection poolbridge publishes pool state through.
//
// On every (re)connect it restores its subscriptions, publishes a retained
// online Presence and then runs the OnConnect callback, which the bridge
// uses to republish retained state. The broker publishes the offline
// Presence for it if the process dies.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics

	connected  atomic.Bool
	reconnects atomic.Uint64

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	// hooksMu guards the callbacks and the logger.
	hooksMu      sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of *logging.Logger the client writes to.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler receives one message. Handlers run on paho's goroutines
// and must hand long work (like cloud calls) off rather than block.
// A returned error is logged; the message is acknowledged regardless.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and waits up to 10 seconds for the first
// connection. Later drops are retried in the background with backoff
// between reconnect.initial_delay and reconnect.max_delay.
//
// Parameters:
//   - cfg: The mqtt config section
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed if the broker cannot be reached in time
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:           cfg,
		topics:        NewTopics(cfg.TopicPrefix),
		subscriptions: make(map[string]subscription),
	}

	opts := buildClientOptions(cfg)
	configureLWT(opts, c.topics, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.handleConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.handleDisconnect(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.reconnects.Add(1)
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT reconnecting", "broker", brokerURL(cfg))
		}
	})

	c.client = pahomqtt.NewClient(opts)
	if err := wait(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		c.client.Disconnect(0)
		return nil, err
	}

	// The connect handler runs asynchronously; mark the state now so
	// callers can publish straight away.
	c.connected.Store(true)
	return c, nil
}

// wait blocks on token for at most timeout and wraps any failure in sentinel.
func wait(token pahomqtt.Token, timeout time.Duration, sentinel error) error {
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: timeout after %v", sentinel, timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) handleConnect() {
	c.connected.Store(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		// A failed resubscribe surfaces as the next connection loss.
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(c.topics.Status(), c.QoS(), true,
		presence(PresenceOnline, "", c.cfg.Broker.ClientID))

	c.hooksMu.RLock()
	callback := c.onConnect
	c.hooksMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (c *Client) handleDisconnect(err error) {
	c.connected.Store(false)

	c.hooksMu.RLock()
	callback, logger := c.onDisconnect, c.logger
	c.hooksMu.RUnlock()

	if logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}
	if callback != nil {
		callback(err)
	}
}

// Close publishes a retained graceful-shutdown Presence, so subscribers can
// tell a restart from a crash, and disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		token := c.client.Publish(c.topics.Status(), c.QoS(), true,
			presence(PresenceOffline, ReasonShutdown, c.cfg.Broker.ClientID))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(disconnectQuiesce)
	c.connected.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Topics returns the topic builders for the configured prefix.
func (c *Client) Topics() Topics {
	return c.topics
}

// QoS returns the configured default QoS level.
func (c *Client) QoS() byte {
	return byte(c.cfg.QoS)
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// Reconnects returns how many reconnect attempts paho has made.
func (c *Client) Reconnects() uint64 {
	return c.reconnects.Load()
}

// SetOnConnect registers a callback run after every connect, once
// subscriptions are restored.
func (c *Client) SetOnConnect(callback func()) {
	c.hooksMu.Lock()
	c.onConnect = callback
	c.hooksMu.Unlock()
}

// SetOnDisconnect registers a callback run when the connection drops.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.hooksMu.Lock()
	c.onDisconnect = callback
	c.hooksMu.Unlock()
}

// SetLogger sets the logger for connection events and handler failures.
func (c *Client) SetLogger(logger Logger) {
	c.hooksMu.Lock()
	c.logger = logger
	c.hooksMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging returned errors and
// recovering panics so one bad command cannot kill paho's router.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
