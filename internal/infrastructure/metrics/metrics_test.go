package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nerrad567/storcube-bridge/internal/bridges/storcube"
)

// The collector is the bridge's metrics sink.
var _ storcube.Metrics = (*Collector)(nil)

func TestCollector_Counters(t *testing.T) {
	c := New()

	c.TelemetryReceived()
	c.TelemetryReceived()
	c.TelemetryMalformed()
	c.Heartbeat()
	c.Reconnect("closed")
	c.Reconnect("closed")
	c.Reconnect("auth")
	c.PublishError("battery/reportEquip")
	c.StatusFetch("firmware", "error")
	c.Command("ok")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"telemetry", testutil.ToFloat64(c.telemetryMessages), 2},
		{"malformed", testutil.ToFloat64(c.telemetryMalformed), 1},
		{"heartbeats", testutil.ToFloat64(c.heartbeats), 1},
		{"reconnects closed", testutil.ToFloat64(c.reconnects.WithLabelValues("closed")), 2},
		{"reconnects auth", testutil.ToFloat64(c.reconnects.WithLabelValues("auth")), 1},
		{"publish errors", testutil.ToFloat64(c.publishErrors.WithLabelValues("battery/reportEquip")), 1},
		{"status fetch", testutil.ToFloat64(c.statusFetches.WithLabelValues("firmware", "error")), 1},
		{"commands", testutil.ToFloat64(c.commands.WithLabelValues("ok")), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestCollector_ConnectionState(t *testing.T) {
	c := New()

	if got := testutil.ToFloat64(c.connectionState.WithLabelValues("disconnected")); got != 1 {
		t.Errorf("initial disconnected = %v, want 1", got)
	}

	c.SetConnectionState(storcube.StateAwaitingMessage.String())

	for _, state := range connectionStates {
		want := 0.0
		if state == "awaiting_message" {
			want = 1
		}
		if got := testutil.ToFloat64(c.connectionState.WithLabelValues(state)); got != want {
			t.Errorf("connection_state{state=%q} = %v, want %v", state, got, want)
		}
	}
}

func TestCollector_StatesMatchBridge(t *testing.T) {
	if len(storcube.ConnectionStates) != len(connectionStates) {
		t.Fatalf("bridge has %d states, gauge knows %d", len(storcube.ConnectionStates), len(connectionStates))
	}
	for i, s := range storcube.ConnectionStates {
		if s.String() != connectionStates[i] {
			t.Errorf("state %d = %q, gauge label %q", i, s.String(), connectionStates[i])
		}
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	c.Heartbeat()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"storcube_bridge_heartbeats_total 1",
		`storcube_bridge_connection_state{state="disconnected"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
