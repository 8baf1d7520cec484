package storcube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/storcube-bridge/internal/cloudapi"
	"github.com/nerrad567/storcube-bridge/internal/infrastructure/config"
)

const testDeviceID = "ID1"

// eventLog records the order of interactions across mocks.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// MockMQTTClient implements MQTTClient for testing.
type MockMQTTClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	connected     bool
	publishErr    error
	subscribeErr  error
	handlers      map[string]func(topic string, payload []byte)
	log           *eventLog
}

type mockPublish struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

func NewMockMQTTClient() *MockMQTTClient {
	return &MockMQTTClient{
		connected: true,
		handlers:  make(map[string]func(topic string, payload []byte)),
	}
}

func (m *MockMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  append([]byte(nil), payload...),
		QoS:      qos,
		Retained: retained,
	})
	m.log.add("publish:%s", topic)
	return nil
}

func (m *MockMQTTClient) Subscribe(topic string, _ byte, handler func(topic string, payload []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return m.subscribeErr
	}
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

// Subscriptions returns the topics subscribed so far.
func (m *MockMQTTClient) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.subscriptions...)
}

func (m *MockMQTTClient) setSubscribeErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr = err
}

func (m *MockMQTTClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *MockMQTTClient) setConnected(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = v
}

// PublishedTo returns the payloads published to topic, in order.
func (m *MockMQTTClient) PublishedTo(topic string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, p := range m.published {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

// SimulateMessage simulates receiving an MQTT message on a topic.
func (m *MockMQTTClient) SimulateMessage(topic string, payload []byte) {
	m.mu.Lock()
	handler, ok := m.handlers[topic]
	m.mu.Unlock()
	if ok {
		handler(topic, payload)
	}
}

// MockVendorAPI implements VendorAPI for testing.
type MockVendorAPI struct {
	mu sync.Mutex

	// tokenErrs are returned by successive FetchToken calls; nil entries
	// and calls beyond the slice succeed.
	tokenErrs   []error
	tokenCalls  int
	firmware    cloudapi.StatusRecord
	firmwareErr error
	output      cloudapi.StatusRecord
	outputErr   error
	setPowerErr error
	powerCalls  []json.Number
	tokensSeen  []string
	log         *eventLog

	// powerDeadlines holds the context deadline of each SetPower call.
	powerDeadlines []time.Time
}

func NewMockVendorAPI() *MockVendorAPI {
	return &MockVendorAPI{
		firmware: cloudapi.StatusRecord(`{"upgrade":false}`),
		output:   cloudapi.StatusRecord(`[{"outputPower":300}]`),
	}
}

func (m *MockVendorAPI) FetchToken(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenCalls++
	m.log.add("token")
	if i := m.tokenCalls - 1; i < len(m.tokenErrs) && m.tokenErrs[i] != nil {
		return "", m.tokenErrs[i]
	}
	return fmt.Sprintf("token-%d", m.tokenCalls), nil
}

func (m *MockVendorAPI) FirmwareStatus(_ context.Context, token, deviceID string) (cloudapi.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokensSeen = append(m.tokensSeen, token)
	if deviceID != testDeviceID {
		return nil, fmt.Errorf("unexpected device %q", deviceID)
	}
	if m.firmwareErr != nil {
		return nil, m.firmwareErr
	}
	return m.firmware, nil
}

func (m *MockVendorAPI) OutputStatus(context.Context, string) (cloudapi.StatusRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outputErr != nil {
		return nil, m.outputErr
	}
	return m.output, nil
}

func (m *MockVendorAPI) SetPower(ctx context.Context, _, _ string, power json.Number) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.powerCalls = append(m.powerCalls, power)
	deadline, _ := ctx.Deadline()
	m.powerDeadlines = append(m.powerDeadlines, deadline)
	return m.setPowerErr
}

func (m *MockVendorAPI) TokenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenCalls
}

func (m *MockVendorAPI) PowerCalls() []json.Number {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]json.Number(nil), m.powerCalls...)
}

// linkStep is one scripted Receive outcome.
type linkStep struct {
	data []byte
	err  error
}

func msg(s string) linkStep { return linkStep{data: []byte(s)} }

var timeoutStep = linkStep{err: ErrReceiveTimeout}

// scriptedLink implements TelemetryLink by replaying steps. When the script
// runs out it reports the link closed, or blocks until ctx is done if
// blockAtEnd is set.
type scriptedLink struct {
	mu           sync.Mutex
	id           int
	connectErr   error
	heartbeatErr error
	steps        []linkStep
	blockAtEnd   bool
	connected    chan struct{}
	tokens       []string
	heartbeats   int
	closes       int
	log          *eventLog
}

func (l *scriptedLink) Connect(_ context.Context, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens = append(l.tokens, token)
	l.log.add("connect:%d", l.id)
	if l.connected != nil {
		close(l.connected)
	}
	return l.connectErr
}

func (l *scriptedLink) Receive(ctx context.Context, _ time.Duration) ([]byte, error) {
	l.mu.Lock()
	if len(l.steps) == 0 {
		block := l.blockAtEnd
		l.mu.Unlock()
		if block {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		l.log.add("closed:%d", l.id)
		return nil, &ConnError{Op: "receive", Err: ErrLinkClosed}
	}
	step := l.steps[0]
	l.steps = l.steps[1:]
	l.mu.Unlock()
	return step.data, step.err
}

func (l *scriptedLink) Heartbeat() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.heartbeats++
	l.log.add("heartbeat:%d", l.id)
	return l.heartbeatErr
}

func (l *scriptedLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

// linkQueue hands out scripted links in order.
type linkQueue struct {
	mu    sync.Mutex
	links []*scriptedLink
	built int
}

func (q *linkQueue) next() TelemetryLink {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.built++
	if len(q.links) == 0 {
		return &scriptedLink{id: q.built, connectErr: errors.New("no more links")}
	}
	l := q.links[0]
	q.links = q.links[1:]
	l.id = q.built
	return l
}

// stopAfterSleeps returns a Sleep func that records delays and cancels the
// run on the n-th call.
func stopAfterSleeps(n int, cancel context.CancelFunc, delays *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*delays = append(*delays, d)
		count := len(*delays)
		mu.Unlock()
		if count >= n {
			cancel()
			return ctx.Err()
		}
		return nil
	}
}

// testConfig returns a valid configuration for bridge tests.
func testConfig() *config.Config {
	return &config.Config{
		Bridge: config.BridgeConfig{
			ID:                "storcube-test",
			DeviceID:          testDeviceID,
			HeartbeatInterval: 60,
			HeartbeatGrace:    5,
			ReconnectDelay:    5,
			HealthInterval:    3600,
		},
		Cloud: config.CloudConfig{
			WebSocketURL:   "ws://127.0.0.1:1/equip/info/",
			UserAgent:      "okhttp/3.12.11",
			RequestTimeout: 1,
		},
		MQTT: config.MQTTConfig{QoS: 1},
		Topics: config.TopicsConfig{
			Battery:     "battery/reportEquip",
			Output:      "battery/outputEquip",
			Firmware:    "battery/firmwareEquip",
			Command:     "battery/commandEquip",
			OutputPower: "battery/outputPower",
			Status:      "battery/status",
		},
		Telemetry: config.TelemetryConfig{Prefix: DefaultPrefix},
	}
}

// recordingMirror implements TelemetryMirror.
type recordingMirror struct {
	mu     sync.Mutex
	writes []map[string]any
}

func (m *recordingMirror) WriteTelemetry(_ string, fields map[string]any, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, fields)
}

// countingMetrics implements Metrics with plain counters.
type countingMetrics struct {
	mu         sync.Mutex
	telemetry  int
	malformed  int
	heartbeats int
	reconnects []string
	commands   map[string]int
	status     map[string]int
	states     []string
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{commands: map[string]int{}, status: map[string]int{}}
}

func (m *countingMetrics) TelemetryReceived()  { m.mu.Lock(); m.telemetry++; m.mu.Unlock() }
func (m *countingMetrics) TelemetryMalformed() { m.mu.Lock(); m.malformed++; m.mu.Unlock() }
func (m *countingMetrics) Heartbeat()          { m.mu.Lock(); m.heartbeats++; m.mu.Unlock() }
func (m *countingMetrics) PublishError(string) {}

func (m *countingMetrics) Reconnect(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects = append(m.reconnects, reason)
}

func (m *countingMetrics) StatusFetch(kind, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[kind+"/"+result]++
}

func (m *countingMetrics) Command(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands[result]++
}

func (m *countingMetrics) SetConnectionState(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
}
