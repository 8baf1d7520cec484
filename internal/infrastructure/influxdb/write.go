package influxdb

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

const (
	// telemetryMeasurement is the measurement every snapshot is written to.
	telemetryMeasurement = "storcube_telemetry"

	// listField holds the per-battery entries of a snapshot.
	listField = "list"
)

// WriteTelemetry writes one snapshot as a single point.
//
// Only numeric values are kept. Entries of the "list" array contribute their
// numeric fields suffixed by the entry index (soc_0, soc_1, ...). A snapshot
// without numeric values writes nothing. The write is non-blocking.
func (c *Client) WriteTelemetry(deviceID string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}

	values := TelemetryFields(fields)
	if len(values) == 0 {
		return
	}

	point := write.NewPoint(
		telemetryMeasurement,
		map[string]string{"device_id": deviceID},
		values,
		at,
	)
	c.writeAPI.WritePoint(point)
}

// TelemetryFields flattens a telemetry snapshot into numeric point fields.
func TelemetryFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))

	for key, value := range fields {
		if key == listField {
			entries, ok := value.([]any)
			if !ok {
				continue
			}
			for i, entry := range entries {
				obj, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				suffix := "_" + strconv.Itoa(i)
				for k, v := range obj {
					if f, ok := numeric(v); ok {
						out[k+suffix] = f
					}
				}
			}
			continue
		}

		if f, ok := numeric(value); ok {
			out[key] = f
		}
	}

	return out
}

// numeric converts decoded JSON numbers to float64.
// Strings, booleans and nested values are rejected.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
