// Package mqtt provides MQTT client connectivity for poolbridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the home-automation facing side of poolbridge. Pool state is
// published retained under {prefix}/state/, and commands arrive on
// {prefix}/command/. The cloud API is never reached from this package;
// internal/bridge translates between the two.
//
//	Home automation ↔ MQTT Broker ↔ poolbridge ↔ ConnectMyPool cloud
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on the same host (cfg.Broker.TLS=true)
//   - Anyone who can publish to {prefix}/command/ can operate pool equipment;
//     restrict it with broker ACLs
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
//
//	client.PublishJSON(client.Topics().State("channel-1"), update, true)
package mqtt
