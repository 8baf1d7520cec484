package storcube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// commandTimeout bounds one command: token fetch, set-power call and
// confirmation publish. Commands run on the MQTT delivery goroutine, so this
// is also the longest a command can delay the next delivery.
const commandTimeout = 10 * time.Second

// TokenSource issues a fresh bearer token on every call.
// Satisfied by *cloudapi.Client.
type TokenSource interface {
	FetchToken(ctx context.Context) (string, error)
}

// PowerSetter invokes the vendor set-power control.
// Satisfied by *cloudapi.Client.
type PowerSetter interface {
	SetPower(ctx context.Context, token, deviceID string, power json.Number) error
}

// Publisher sends a message to the bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// CommandChannelConfig holds the settings of a command channel.
type CommandChannelConfig struct {
	DeviceID string

	// ConfirmTopic receives {"power": n} after a successful command.
	ConfirmTopic string

	// QoS used for the confirmation.
	QoS byte
}

// CommandChannel turns bus commands into vendor set-power calls.
//
// It runs on the MQTT client's delivery goroutine, concurrently with the
// telemetry loop, and fetches its own token for every command. Nothing is
// retried: a failed command is logged and dropped.
type CommandChannel struct {
	cfg       CommandChannelConfig
	tokens    TokenSource
	api       PowerSetter
	publisher Publisher
	metrics   Metrics

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCommandChannel creates a command channel.
func NewCommandChannel(cfg CommandChannelConfig, tokens TokenSource, api PowerSetter, publisher Publisher, metrics Metrics) *CommandChannel {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &CommandChannel{
		cfg:       cfg,
		tokens:    tokens,
		api:       api,
		publisher: publisher,
		metrics:   metrics,
	}
}

// SetLogger sets the logger for this channel.
func (c *CommandChannel) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Handler returns an MQTT message handler bound to ctx.
//
// The handler runs the command synchronously so power commands are applied
// in arrival order. It blocks the delivery goroutine for at most
// commandTimeout.
func (c *CommandChannel) Handler(ctx context.Context) func(topic string, payload []byte) {
	return func(topic string, payload []byte) {
		if err := c.Execute(ctx, payload); err != nil {
			c.logWarn("command dropped", "topic", topic, "error", err)
		}
	}
}

// Execute decodes and runs one command.
//
// A payload without a numeric "power" field returns *MalformedMessageError
// before anything else happens. Token, API and publish failures are returned
// as-is; no confirmation is published in that case.
func (c *CommandChannel) Execute(ctx context.Context, payload []byte) error {
	power, err := DecodePowerCommand(payload)
	if err != nil {
		c.metrics.Command(resultRejected)
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	token, err := c.tokens.FetchToken(ctx)
	if err != nil {
		c.metrics.Command(resultError)
		return fmt.Errorf("fetching token for command: %w", err)
	}

	if err := c.api.SetPower(ctx, token, c.cfg.DeviceID, power); err != nil {
		c.metrics.Command(resultError)
		return fmt.Errorf("setting power %s: %w", power, err)
	}

	confirmation, err := json.Marshal(map[string]json.Number{"power": power})
	if err != nil {
		c.metrics.Command(resultError)
		return fmt.Errorf("encoding confirmation: %w", err)
	}
	if err := c.publisher.Publish(c.cfg.ConfirmTopic, confirmation, c.cfg.QoS, false); err != nil {
		c.metrics.PublishError(c.cfg.ConfirmTopic)
		c.metrics.Command(resultError)
		return fmt.Errorf("publishing confirmation: %w", err)
	}

	c.metrics.Command(resultOK)
	c.logInfo("power command applied", "device_id", c.cfg.DeviceID, "power", power.String())
	return nil
}

// DecodePowerCommand extracts the power value of a {"power": n} payload.
// Only JSON numbers are accepted.
func DecodePowerCommand(payload []byte) (json.Number, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var req map[string]any
	if err := dec.Decode(&req); err != nil {
		return "", &MalformedMessageError{Source: "command", Reason: "not a JSON object", Err: err}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return "", &MalformedMessageError{Source: "command", Reason: "trailing data after JSON object", Err: err}
	}

	raw, ok := req["power"]
	if !ok {
		return "", &MalformedMessageError{Source: "command", Reason: `missing "power"`}
	}
	power, ok := raw.(json.Number)
	if !ok {
		return "", &MalformedMessageError{Source: "command", Reason: fmt.Sprintf(`"power" is %T, want number`, raw)}
	}

	return power, nil
}

func (c *CommandChannel) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *CommandChannel) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
