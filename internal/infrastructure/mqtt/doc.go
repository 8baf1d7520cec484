// Package mqtt provides MQTT client connectivity for the Storcube bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - The command subscription, restored after every reconnect
//   - Availability announcements with a Last Will for crash detection
//
// # Architecture
//
// The bridge republishes vendor telemetry on plain topics and listens for
// power commands on one topic. Home automation systems consume the topics;
// nothing in this package knows about the payloads.
//
//	Baterway cloud ↔ storcube-bridge ↔ MQTT Broker ↔ Home automation
//
// # Availability
//
// The client registers a retained "offline" Last Will on the availability
// topic and publishes a retained "online" after each (re)connect. A clean
// Close publishes "offline" itself since the broker only sends the will on
// unclean disconnects.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.AvailabilityTopic(cfg.Topics.Status))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(cfg.Topics.Command, 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("command on %s: %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish(cfg.Topics.Battery, []byte(`{"storcube_soc":80}`), 1, false)
package mqtt
