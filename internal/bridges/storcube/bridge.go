package storcube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/storcube-bridge/internal/infrastructure/config"
)

// ConnectionState is the Bridge's view of the telemetry path.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateAuthenticating
	StateConnected
	StateAwaitingMessage
)

// ConnectionStates lists every state, for metrics.
var ConnectionStates = []ConnectionState{
	StateDisconnected,
	StateAuthenticating,
	StateConnected,
	StateAwaitingMessage,
}

func (s ConnectionState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateAwaitingMessage:
		return "awaiting_message"
	default:
		return "disconnected"
	}
}

// Live reports whether the telemetry link is up.
func (s ConnectionState) Live() bool {
	return s == StateConnected || s == StateAwaitingMessage
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic filter.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// VendorAPI is the request/response side of the vendor cloud.
// Satisfied by *cloudapi.Client.
type VendorAPI interface {
	TokenSource
	StatusAPI
	PowerSetter
}

// TelemetryLink is one upstream telemetry connection. *Link is the
// production implementation.
type TelemetryLink interface {
	Connect(ctx context.Context, token string) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, error)
	Heartbeat() error
	Close() error
}

// TelemetryMirror receives every accepted snapshot, e.g. for a time-series
// export. Implementations must not block.
type TelemetryMirror interface {
	WriteTelemetry(deviceID string, fields map[string]any, at time.Time)
}

// Stats are the bridge counters reported in health messages.
type Stats struct {
	TelemetryMessages  uint64     `json:"telemetry_messages"`
	MalformedMessages  uint64     `json:"malformed_messages"`
	Heartbeats         uint64     `json:"heartbeats"`
	Reconnects         uint64     `json:"reconnects"`
	PublishErrors      uint64     `json:"publish_errors"`
	LastTelemetryAt    *time.Time `json:"last_telemetry_at,omitempty"`
	LastReconnectCause string     `json:"last_reconnect_cause,omitempty"`
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// Config is the loaded configuration.
	Config *config.Config

	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// API is the vendor cloud client.
	API VendorAPI

	// NewLink builds a fresh telemetry link for each connection attempt.
	// Defaults to a websocket Link using Config.Cloud.
	NewLink func() TelemetryLink

	// Mirror is an optional telemetry sink.
	Mirror TelemetryMirror

	// Metrics is optional.
	Metrics Metrics

	// Logger is optional structured logger.
	Logger Logger

	// Sleep waits between reconnect attempts. Defaults to a context-aware
	// timer; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error

	// Version is reported in health messages.
	Version string
}

// Bridge runs the telemetry reconnect loop and owns the command channel.
//
// Thread Safety: Run may be active at most once at a time; every other
// method is safe for concurrent use.
type Bridge struct {
	cfg      *config.Config
	mqtt     MQTTClient
	api      VendorAPI
	newLink  func() TelemetryLink
	mirror   TelemetryMirror
	metrics  Metrics
	sleep    func(ctx context.Context, d time.Duration) error
	status   *StatusPoller
	commands *CommandChannel
	health   *HealthReporter

	qos            byte
	timeout        time.Duration
	reconnectDelay time.Duration
	subscribeRetry time.Duration

	state      atomic.Int32
	running    atomic.Bool
	subscribed atomic.Bool

	// Counters
	telemetryCount atomic.Uint64
	malformedCount atomic.Uint64
	heartbeatCount atomic.Uint64
	reconnectCount atomic.Uint64
	publishErrors  atomic.Uint64
	lastTelemetry  atomic.Int64 // unix nanos, 0 if none
	lastCause      atomic.Value // string

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance.
// Call Run to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.API == nil {
		return nil, fmt.Errorf("vendor API client is required")
	}

	cfg := opts.Config
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	b := &Bridge{
		cfg:            cfg,
		mqtt:           opts.MQTTClient,
		api:            opts.API,
		newLink:        opts.NewLink,
		mirror:         opts.Mirror,
		metrics:        metrics,
		sleep:          opts.Sleep,
		qos:            byte(cfg.MQTT.QoS),
		timeout:        cfg.GetHeartbeatTimeout(),
		reconnectDelay: cfg.GetReconnectDelay(),
		subscribeRetry: cfg.GetReconnectDelay(),
		logger:         opts.Logger,
	}

	if b.newLink == nil {
		dialer := NewWebsocketDialer(cfg.GetRequestTimeout())
		linkCfg := LinkConfig{
			URL:          cfg.Cloud.WebSocketURL,
			DeviceID:     cfg.Bridge.DeviceID,
			UserAgent:    cfg.Cloud.UserAgent,
			WriteTimeout: cfg.GetRequestTimeout(),
		}
		b.newLink = func() TelemetryLink { return NewLink(linkCfg, dialer) }
	}
	if b.sleep == nil {
		b.sleep = sleepContext
	}

	b.status = NewStatusPoller(opts.API, cfg.Bridge.DeviceID, cfg.GetStatusMinInterval(), metrics)
	b.commands = NewCommandChannel(CommandChannelConfig{
		DeviceID:     cfg.Bridge.DeviceID,
		ConfirmTopic: cfg.Topics.OutputPower,
		QoS:          b.qos,
	}, opts.API, opts.API, opts.MQTTClient, metrics)
	b.health = NewHealthReporter(HealthReporterConfig{
		BridgeID:  cfg.Bridge.ID,
		Version:   opts.Version,
		Interval:  cfg.GetHealthInterval(),
		Topic:     cfg.Topics.Status,
		Publisher: opts.MQTTClient,
		Source:    b,
	})

	if opts.Logger != nil {
		b.status.SetLogger(opts.Logger)
		b.commands.SetLogger(opts.Logger)
		b.health.SetLogger(opts.Logger)
	}

	metrics.SetConnectionState(StateDisconnected.String())

	return b, nil
}

// Run drives the reconnect loop until ctx is cancelled.
//
// Each iteration fetches a token, connects a new link and receives until the
// link dies; then it waits the reconnect delay and starts over. Transport and
// authentication failures never end Run. It returns nil on cancellation and
// ErrAlreadyRunning if another Run is active.
func (b *Bridge) Run(ctx context.Context) error {
	if !b.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer b.running.Store(false)

	if err := b.health.PublishStarting(); err != nil {
		b.logError("failed to publish starting status", err)
	}
	healthCtx, stopHealth := context.WithCancel(ctx)
	b.health.Start(healthCtx)
	subCtx, stopSub := context.WithCancel(ctx)
	subDone := make(chan struct{})
	defer func() {
		stopSub()
		<-subDone
		stopHealth()
		b.health.Stop()
		// The command handler is bound to ctx; a later Run re-subscribes.
		b.subscribed.Store(false)
	}()

	b.logInfo("bridge started",
		"bridge_id", b.cfg.Bridge.ID,
		"device_id", b.cfg.Bridge.DeviceID)

	// The first attempt is synchronous so commands work as soon as the
	// link is up; failures are retried independently of the link.
	if b.ensureCommandSubscription(subCtx) {
		close(subDone)
	} else {
		go func() {
			defer close(subDone)
			b.keepCommandSubscription(subCtx)
		}()
	}

	for {
		reason, err := b.runAttempt(ctx)
		b.setState(StateDisconnected)
		if ctx.Err() != nil {
			b.logInfo("bridge stopped")
			return nil
		}

		b.reconnectCount.Add(1)
		b.lastCause.Store(reason)
		b.metrics.Reconnect(reason)
		b.logWarn("telemetry link down, reconnecting",
			"reason", reason,
			"error", err,
			"delay", b.reconnectDelay)

		if err := b.sleep(ctx, b.reconnectDelay); err != nil {
			b.logInfo("bridge stopped")
			return nil
		}
	}
}

// runAttempt performs one authenticate/connect/receive cycle and returns why
// it ended.
func (b *Bridge) runAttempt(ctx context.Context) (string, error) {
	b.setState(StateAuthenticating)
	token, err := b.api.FetchToken(ctx)
	if err != nil {
		return reasonAuth, err
	}

	link := b.newLink()
	defer link.Close()

	if err := link.Connect(ctx, token); err != nil {
		return reasonConnect, err
	}
	b.setState(StateConnected)
	b.logInfo("telemetry link connected", "device_id", b.cfg.Bridge.DeviceID)

	for {
		b.setState(StateAwaitingMessage)
		data, err := link.Receive(ctx, b.timeout)

		switch {
		case err == nil:
			b.setState(StateConnected)
			b.handleTelemetry(ctx, data)

		case errors.Is(err, ErrReceiveTimeout):
			b.heartbeatCount.Add(1)
			b.metrics.Heartbeat()
			b.logDebug("no telemetry within timeout, sending heartbeat", "timeout", b.timeout)
			if err := link.Heartbeat(); err != nil {
				return reasonHeartbeat, err
			}

		default:
			return reasonClosed, err
		}
	}
}

// handleTelemetry publishes one frame, mirrors it and refreshes status.
func (b *Bridge) handleTelemetry(ctx context.Context, data []byte) {
	b.telemetryCount.Add(1)
	b.lastTelemetry.Store(time.Now().UnixNano())
	b.metrics.TelemetryReceived()

	snap, parseErr := ParseSnapshot(data, b.cfg.Bridge.DeviceID)
	if parseErr != nil {
		b.malformedCount.Add(1)
		b.metrics.TelemetryMalformed()
		b.logWarn("malformed telemetry", "error", parseErr)
	}

	var payload []byte
	switch {
	case b.cfg.Telemetry.PublishRaw:
		payload = data
	case parseErr != nil:
		return
	default:
		encoded, err := json.Marshal(snap.Namespaced(b.prefix()))
		if err != nil {
			b.logError("failed to encode telemetry", err)
			return
		}
		payload = encoded
	}

	b.publish(b.cfg.Topics.Battery, payload, b.cfg.Telemetry.Retain)

	if snap != nil && b.mirror != nil {
		b.mirror.WriteTelemetry(snap.DeviceID, snap.Fields, time.Now())
	}

	b.refreshStatus(ctx)
}

// refreshStatus fetches and publishes firmware and output status with a
// fresh token. Every failure is absorbed here.
func (b *Bridge) refreshStatus(ctx context.Context) {
	if !b.status.Due() {
		return
	}

	token, err := b.api.FetchToken(ctx)
	if err != nil {
		b.metrics.StatusFetch(statusFirmware, resultError)
		b.metrics.StatusFetch(statusOutput, resultError)
		b.logWarn("status refresh skipped", "error", err)
		return
	}

	res := b.status.Refresh(ctx, token)
	if !res.Output.Empty() {
		b.publish(b.cfg.Topics.Output, res.Output, false)
	}
	if !res.Firmware.Empty() {
		b.publish(b.cfg.Topics.Firmware, res.Firmware, false)
	}
}

// ensureCommandSubscription subscribes the command topic once and reports
// whether it is subscribed. The MQTT client restores it after broker
// reconnects.
func (b *Bridge) ensureCommandSubscription(ctx context.Context) bool {
	if b.subscribed.Load() {
		return true
	}

	topic := b.cfg.Topics.Command
	if err := b.mqtt.Subscribe(topic, b.qos, b.commands.Handler(ctx)); err != nil {
		b.logError("failed to subscribe to commands", err)
		return false
	}
	b.subscribed.Store(true)
	b.logInfo("subscribed to commands", "topic", topic)
	return true
}

// keepCommandSubscription retries the command subscription every
// subscribeRetry until it succeeds or ctx ends.
func (b *Bridge) keepCommandSubscription(ctx context.Context) {
	ticker := time.NewTicker(b.subscribeRetry)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if b.ensureCommandSubscription(ctx) {
			return
		}
	}
}

// publish sends payload and counts failures. Best effort only.
func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	if err := b.mqtt.Publish(topic, payload, b.qos, retained); err != nil {
		b.publishErrors.Add(1)
		b.metrics.PublishError(topic)
		b.logWarn("publish failed", "topic", topic, "error", err)
	}
}

func (b *Bridge) prefix() string {
	if b.cfg.Telemetry.Prefix == "" {
		return DefaultPrefix
	}
	return b.cfg.Telemetry.Prefix
}

func (b *Bridge) setState(s ConnectionState) {
	if ConnectionState(b.state.Swap(int32(s))) != s {
		b.metrics.SetConnectionState(s.String())
	}
}

// State returns the current connection state.
func (b *Bridge) State() ConnectionState {
	return ConnectionState(b.state.Load())
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	s := Stats{
		TelemetryMessages: b.telemetryCount.Load(),
		MalformedMessages: b.malformedCount.Load(),
		Heartbeats:        b.heartbeatCount.Load(),
		Reconnects:        b.reconnectCount.Load(),
		PublishErrors:     b.publishErrors.Load(),
	}
	if ns := b.lastTelemetry.Load(); ns != 0 {
		t := time.Unix(0, ns).UTC()
		s.LastTelemetryAt = &t
	}
	if cause, ok := b.lastCause.Load().(string); ok {
		s.LastReconnectCause = cause
	}
	return s
}

// MQTTConnected reports the broker connection state.
func (b *Bridge) MQTTConnected() bool {
	return b.mqtt.IsConnected()
}

// Health returns the current health message without publishing it.
func (b *Bridge) Health() HealthMessage {
	return b.health.Current()
}

// SetLogger sets the logger for the bridge and its components.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()

	b.status.SetLogger(logger)
	b.commands.SetLogger(logger)
	b.health.SetLogger(logger)
}

// sleepContext waits d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logWarn logs a warning if logger is set.
func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}
