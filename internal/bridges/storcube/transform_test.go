package storcube

import (
	"encoding/json"
	"errors"
	"testing"
)

func namespacedJSON(t *testing.T, raw, prefix string) string {
	t.Helper()
	snap, err := ParseSnapshot([]byte(raw), testDeviceID)
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	out, err := json.Marshal(snap.Namespaced(prefix))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	return string(out)
}

func TestSnapshot_Namespaced(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		prefix string
		want   string
	}{
		{
			name:   "flat fields and list",
			raw:    `{"ID1": {"soc": 80, "list": [{"v": 1}]}}`,
			prefix: DefaultPrefix,
			want:   `{"storcube_list":[{"storcube_v":1}],"storcube_soc":80}`,
		},
		{
			name:   "other devices ignored",
			raw:    `{"ID0": {"soc": 1}, "ID1": {"soc": 2}}`,
			prefix: DefaultPrefix,
			want:   `{"storcube_soc":2}`,
		},
		{
			name:   "nested object",
			raw:    `{"ID1": {"meta": {"fw": "1.0", "ok": true}}}`,
			prefix: "sc_",
			want:   `{"sc_meta":{"sc_fw":"1.0","sc_ok":true}}`,
		},
		{
			name:   "scalar list untouched",
			raw:    `{"ID1": {"cells": [3.31, 3.30, null]}}`,
			prefix: DefaultPrefix,
			want:   `{"storcube_cells":[3.31,3.30,null]}`,
		},
		{
			name:   "number literal preserved",
			raw:    `{"ID1": {"power": 1.50, "big": 12345678901234567890}}`,
			prefix: DefaultPrefix,
			want:   `{"storcube_big":12345678901234567890,"storcube_power":1.50}`,
		},
		{
			name:   "duplicate key last wins",
			raw:    `{"ID1": {"soc": 10, "soc": 20}}`,
			prefix: DefaultPrefix,
			want:   `{"storcube_soc":20}`,
		},
		{
			name:   "empty entry",
			raw:    `{"ID1": {}}`,
			prefix: DefaultPrefix,
			want:   `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := namespacedJSON(t, tt.raw, tt.prefix); got != tt.want {
				t.Errorf("Namespaced() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSnapshot_NamespacedDoesNotMutate(t *testing.T) {
	snap, err := ParseSnapshot([]byte(`{"ID1": {"list": [{"v": 1}]}}`), testDeviceID)
	if err != nil {
		t.Fatalf("ParseSnapshot() error = %v", err)
	}
	_ = snap.Namespaced(DefaultPrefix)

	list := snap.Fields["list"].([]any)
	if _, ok := list[0].(map[string]any)["v"]; !ok {
		t.Errorf("source fields mutated: %v", snap.Fields)
	}
}

func TestParseSnapshot_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"array", `[1,2]`},
		{"device missing", `{"OTHER": {"soc": 1}}`},
		{"device entry scalar", `{"ID1": 42}`},
		{"device entry list", `{"ID1": [{"soc": 1}]}`},
		{"device entry null", `{"ID1": null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := ParseSnapshot([]byte(tt.raw), testDeviceID)
			if snap != nil {
				t.Errorf("ParseSnapshot() = %+v, want nil", snap)
			}
			var malformed *MalformedMessageError
			if !errors.As(err, &malformed) {
				t.Fatalf("ParseSnapshot() error = %v, want *MalformedMessageError", err)
			}
			if malformed.Source != "telemetry" {
				t.Errorf("Source = %q, want telemetry", malformed.Source)
			}
		})
	}
}
