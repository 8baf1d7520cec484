// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricPrefix = "storcube_bridge_"

// connectionStates are the values of the connection_state gauge's label.
var connectionStates = []string{"disconnected", "authenticating", "connected", "awaiting_message"}

// Collector holds the bridge metrics on its own registry.
//
// Thread Safety: all methods are safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	telemetryMessages  prometheus.Counter
	telemetryMalformed prometheus.Counter
	heartbeats         prometheus.Counter
	reconnects         *prometheus.CounterVec
	publishErrors      *prometheus.CounterVec
	statusFetches      *prometheus.CounterVec
	commands           *prometheus.CounterVec
	connectionState    *prometheus.GaugeVec

	stateMu sync.Mutex
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		telemetryMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "telemetry_messages_total",
			Help: "Total telemetry frames received from the vendor link",
		}),
		telemetryMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "telemetry_malformed_total",
			Help: "Total telemetry frames that could not be decoded",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "heartbeats_total",
			Help: "Total heartbeats sent after link silence",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "reconnects_total",
			Help: "Total telemetry link restarts by reason",
		}, []string{"reason"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "publish_errors_total",
			Help: "Total failed MQTT publications by topic",
		}, []string{"topic"}),
		statusFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "status_fetch_total",
			Help: "Total supplementary status fetches by kind and result",
		}, []string{"kind", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "commands_total",
			Help: "Total power commands by result",
		}, []string{"result"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "connection_state",
			Help: "1 for the current telemetry connection state, 0 otherwise",
		}, []string{"state"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.telemetryMessages,
		c.telemetryMalformed,
		c.heartbeats,
		c.reconnects,
		c.publishErrors,
		c.statusFetches,
		c.commands,
		c.connectionState,
	)

	c.SetConnectionState("disconnected")

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) TelemetryReceived()  { c.telemetryMessages.Inc() }
func (c *Collector) TelemetryMalformed() { c.telemetryMalformed.Inc() }
func (c *Collector) Heartbeat()          { c.heartbeats.Inc() }

func (c *Collector) Reconnect(reason string) {
	c.reconnects.WithLabelValues(reason).Inc()
}

func (c *Collector) PublishError(topic string) {
	c.publishErrors.WithLabelValues(topic).Inc()
}

func (c *Collector) StatusFetch(kind, result string) {
	c.statusFetches.WithLabelValues(kind, result).Inc()
}

func (c *Collector) Command(result string) {
	c.commands.WithLabelValues(result).Inc()
}

// SetConnectionState marks state as current and every other state as not.
func (c *Collector) SetConnectionState(state string) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		c.connectionState.WithLabelValues(s).Set(value)
	}
}
