package storcube

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DefaultPrefix is the namespace tag prepended to every published field.
const DefaultPrefix = "storcube_"

// Snapshot is one telemetry frame for the followed device.
type Snapshot struct {
	DeviceID string

	// Fields are the reported fields as decoded. Numbers are json.Number so
	// they republish with their original literal.
	Fields map[string]any
}

// ParseSnapshot extracts the device's fields from a telemetry frame of the
// form {"<deviceID>": {...}}. Frames that are not JSON objects, or that do not
// carry an object for deviceID, return *MalformedMessageError.
func ParseSnapshot(raw []byte, deviceID string) (*Snapshot, error) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, &MalformedMessageError{Source: "telemetry", Reason: "not a JSON object", Err: err}
	}

	body, ok := frame[deviceID]
	if !ok {
		return nil, &MalformedMessageError{Source: "telemetry", Reason: fmt.Sprintf("no entry for device %q", deviceID)}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, &MalformedMessageError{Source: "telemetry", Reason: "device entry is not an object", Err: err}
	}
	if fields == nil {
		return nil, &MalformedMessageError{Source: "telemetry", Reason: "device entry is null"}
	}

	return &Snapshot{DeviceID: deviceID, Fields: fields}, nil
}

// Namespaced returns the fields with prefix prepended to every key, including
// the keys of nested objects and of objects inside lists. Values are not
// touched.
func (s *Snapshot) Namespaced(prefix string) map[string]any {
	return namespaceMap(s.Fields, prefix)
}

func namespaceMap(in map[string]any, prefix string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[prefix+k] = namespaceValue(v, prefix)
	}
	return out
}

func namespaceValue(v any, prefix string) any {
	switch val := v.(type) {
	case map[string]any:
		return namespaceMap(val, prefix)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = namespaceValue(item, prefix)
		}
		return out
	default:
		return v
	}
}
