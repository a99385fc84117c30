package mqtt

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix is the root of every poolbridge topic unless
// mqtt.topic_prefix overrides it.
const DefaultTopicPrefix = "poolbridge"

// Topics provides builders for poolbridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
// All topics use the flat scheme {prefix}/{category}/{channel}:
//
//	topics := mqtt.NewTopics("poolbridge")
//	stateTopic := topics.State("channel-1")
//	// Returns: "poolbridge/state/channel-1"
type Topics struct {
	Prefix string
}

// NewTopics returns builders rooted at prefix, or DefaultTopicPrefix when empty.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// =============================================================================
// State Topics (retained)
// =============================================================================

// State returns the retained state topic of one channel.
//
// Example: poolbridge/state/channel-1
func (t Topics) State(channel string) string {
	return fmt.Sprintf("%s/state/%s", t.root(), channel)
}

// PoolState returns the retained whole-pool state topic.
//
// Example: poolbridge/state/pool
func (t Topics) PoolState() string {
	return t.State("pool")
}

// =============================================================================
// Command Topics
// =============================================================================

// Command returns the topic commands for one channel arrive on.
//
// Example: poolbridge/command/channel-1
func (t Topics) Command(channel string) string {
	return fmt.Sprintf("%s/command/%s", t.root(), channel)
}

// Ack returns the topic a resolved command is acknowledged on.
//
// Example: poolbridge/ack/channel-1
func (t Topics) Ack(channel string) string {
	return fmt.Sprintf("%s/ack/%s", t.root(), channel)
}

// Action returns the raw action passthrough topic.
//
// Example: poolbridge/action
func (t Topics) Action() string {
	return fmt.Sprintf("%s/action", t.root())
}

// ActionResult returns the topic raw action receipts are published on.
//
// Example: poolbridge/action/result
func (t Topics) ActionResult() string {
	return fmt.Sprintf("%s/action/result", t.root())
}

// =============================================================================
// System Topics
// =============================================================================

// Status returns the retained online/offline topic, also used for the LWT.
//
// Example: poolbridge/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/status", t.root())
}

// Health returns the periodic health topic.
//
// Example: poolbridge/health
func (t Topics) Health() string {
	return fmt.Sprintf("%s/health", t.root())
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllStates returns a pattern matching every state topic.
//
// Pattern: poolbridge/state/+
func (t Topics) AllStates() string {
	return t.State("+")
}

// AllCommands returns a pattern matching every channel command topic.
//
// Pattern: poolbridge/command/+
func (t Topics) AllCommands() string {
	return t.Command("+")
}

// AllTopics returns a pattern matching all poolbridge topics.
//
// Pattern: poolbridge/#
func (t Topics) AllTopics() string {
	return t.root() + "/#"
}

// ChannelOf extracts the channel id from a state, command or ack topic.
//
// Returns:
//   - string: The final topic level
//   - bool: false if topic is not {prefix}/{category}/{channel}
func (t Topics) ChannelOf(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.root()+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
