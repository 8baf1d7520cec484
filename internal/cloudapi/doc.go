// Package cloudapi is the HTTP client for the Baterway cloud used by Storcube
// batteries.
//
// It covers the request/response side of the vendor API:
//   - FetchToken: login, returns a fresh bearer token on every call
//   - FirmwareStatus / OutputStatus: supplementary status envelopes
//   - SetPower: the "set output power" control call
//
// Every call is a single attempt bounded by the configured request timeout;
// retry policy belongs to the caller. Failures are typed: *AuthError for the
// login, *TransientAPIError for everything else.
//
// The streaming telemetry endpoint is handled by the storcube bridge package.
package cloudapi
