package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/poolbridge/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	defaultKeepAlive      = 60 * time.Second

	// disconnectQuiesce is how long Disconnect waits for in-flight work (milliseconds).
	disconnectQuiesce = 1000

	maxQoS        = 2
	tlsMinVersion = tls.VersionTLS12

	// willQoS is fixed so the offline notice survives a QoS 0 configuration.
	willQoS = 1
)

// Presence values published retained on the status topic.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"

	ReasonShutdown = "graceful_shutdown"
	ReasonLost     = "unexpected_disconnect"
)

// Presence is the retained payload of {prefix}/status. Home automation
// uses it to mark every pool entity unavailable while poolbridge is away.
type Presence struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

// presence encodes a Presence stamped with the current time.
func presence(status, reason, clientID string) []byte {
	payload, _ := json.Marshal(Presence{ //nolint:errcheck // plain strings always marshal
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// brokerURL returns tcp:// or ssl:// depending on cfg.Broker.TLS.
func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// buildClientOptions maps the mqtt config section onto paho options.
//
// Sessions are clean: the bridge re-subscribes itself on every connect and
// commands queued while it was away are stale by the time it returns, since
// the pool may have been operated from the vendor app meanwhile.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(defaultConnectTimeout).
		SetKeepAlive(defaultKeepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}
	return opts
}

// configureLWT registers the retained offline notice the broker publishes
// if poolbridge disappears without calling Close.
func configureLWT(opts *pahomqtt.ClientOptions, topics Topics, clientID string) {
	opts.SetBinaryWill(topics.Status(), presence(PresenceOffline, ReasonLost, clientID), willQoS, true)
}
