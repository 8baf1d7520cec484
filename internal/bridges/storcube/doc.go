// Package storcube bridges a Storcube battery's cloud telemetry to MQTT.
//
// The bridge keeps one websocket to the Baterway telemetry endpoint open,
// republishes every telemetry frame as a namespaced JSON record, refreshes the
// firmware and output status alongside, and forwards "set power" commands
// from MQTT back to the vendor API.
//
// # Architecture
//
//	Baterway websocket ──► Link ──► Bridge ──► MQTT (battery topic)
//	                                  │
//	                                  ├──► StatusPoller ──► MQTT (output / firmware)
//	                                  └──► TelemetryMirror (optional)
//
//	MQTT (command topic) ──► CommandChannel ──► vendor set-power ──► MQTT (confirmation)
//
// # Reconnect Model
//
// Bridge.Run loops forever: fetch a token, connect a fresh Link, receive
// until the link dies, wait reconnect_delay, repeat. A receive timeout is a
// liveness probe, not a failure: the subscription request is re-sent as a
// heartbeat and the link stays up. Only context cancellation ends Run.
//
// # Thread Safety
//
// Run owns the telemetry path on its own goroutine. Commands arrive on the
// MQTT client's delivery goroutine and fetch their own token; nothing about
// credentials is shared between the two flows.
package storcube
