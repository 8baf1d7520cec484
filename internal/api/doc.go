// Package api provides the operations HTTP server of the Storcube bridge.
//
// It exposes two read-only endpoints for orchestrators and monitoring:
//
//	GET /healthz   bridge health as JSON; 200 when healthy, 503 otherwise
//	GET /metrics   Prometheus exposition of the bridge metrics
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
