package storcube

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/storcube-bridge/internal/cloudapi"
)

// Status fetch kinds, used in logs and metrics.
const (
	statusFirmware = "firmware"
	statusOutput   = "output"
)

// StatusAPI fetches the supplementary status records.
// Satisfied by *cloudapi.Client.
type StatusAPI interface {
	FirmwareStatus(ctx context.Context, token, deviceID string) (cloudapi.StatusRecord, error)
	OutputStatus(ctx context.Context, token string) (cloudapi.StatusRecord, error)
}

// StatusResult holds one refresh. An empty record means nothing to publish.
type StatusResult struct {
	Firmware cloudapi.StatusRecord
	Output   cloudapi.StatusRecord
}

// StatusPoller refreshes firmware and output status alongside telemetry.
//
// Both fetches are best effort: a failure is logged and yields an empty
// record, never an error, so status endpoints cannot stall the telemetry
// path.
type StatusPoller struct {
	api         StatusAPI
	deviceID    string
	minInterval time.Duration
	metrics     Metrics
	now         func() time.Time

	last   time.Time
	lastMu sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewStatusPoller creates a poller. minInterval 0 refreshes on every call to
// Due.
func NewStatusPoller(api StatusAPI, deviceID string, minInterval time.Duration, metrics Metrics) *StatusPoller {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &StatusPoller{
		api:         api,
		deviceID:    deviceID,
		minInterval: minInterval,
		metrics:     metrics,
		now:         time.Now,
	}
}

// SetLogger sets the logger for this poller.
func (p *StatusPoller) SetLogger(logger Logger) {
	p.loggerMu.Lock()
	p.logger = logger
	p.loggerMu.Unlock()
}

// Due reports whether a refresh should run now and, if so, records it.
func (p *StatusPoller) Due() bool {
	if p.minInterval <= 0 {
		return true
	}

	p.lastMu.Lock()
	defer p.lastMu.Unlock()

	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.minInterval {
		return false
	}
	p.last = now
	return true
}

// Refresh fetches both records with token.
func (p *StatusPoller) Refresh(ctx context.Context, token string) StatusResult {
	var res StatusResult

	firmware, err := p.api.FirmwareStatus(ctx, token, p.deviceID)
	res.Firmware = p.record(statusFirmware, firmware, err)

	output, err := p.api.OutputStatus(ctx, token)
	res.Output = p.record(statusOutput, output, err)

	return res
}

// record absorbs a fetch failure into an empty record.
func (p *StatusPoller) record(kind string, rec cloudapi.StatusRecord, err error) cloudapi.StatusRecord {
	if err != nil {
		p.metrics.StatusFetch(kind, resultError)
		p.logWarn("status fetch failed", "kind", kind, "error", err)
		return nil
	}
	if rec.Empty() {
		p.metrics.StatusFetch(kind, resultEmpty)
		return nil
	}
	p.metrics.StatusFetch(kind, resultOK)
	return rec
}

func (p *StatusPoller) logWarn(msg string, keysAndValues ...any) {
	p.loggerMu.RLock()
	logger := p.logger
	p.loggerMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
