package storcube

// Result labels for metrics.
const (
	resultOK       = "ok"
	resultError    = "error"
	resultEmpty    = "empty"
	resultRejected = "rejected"
)

// Reconnect reasons for metrics and logs.
const (
	reasonAuth      = "auth"
	reasonConnect   = "connect"
	reasonClosed    = "closed"
	reasonHeartbeat = "heartbeat"
)

// Logger is the structured logging interface used by the bridge.
// Satisfied by *logging.Logger and *slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Metrics receives bridge events. Implemented by the Prometheus collectors
// in the metrics package; nil means no metrics.
type Metrics interface {
	TelemetryReceived()
	TelemetryMalformed()
	Heartbeat()
	Reconnect(reason string)
	PublishError(topic string)
	StatusFetch(kind, result string)
	Command(result string)
	SetConnectionState(state string)
}

type nopMetrics struct{}

func (nopMetrics) TelemetryReceived()         {}
func (nopMetrics) TelemetryMalformed()        {}
func (nopMetrics) Heartbeat()                 {}
func (nopMetrics) Reconnect(string)           {}
func (nopMetrics) PublishError(string)        {}
func (nopMetrics) StatusFetch(string, string) {}
func (nopMetrics) Command(string)             {}
func (nopMetrics) SetConnectionState(string)  {}
