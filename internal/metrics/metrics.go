package metrics

import (
	"net/http"
	"time"
)

// Metrics interface for dependency injection
type Metrics interface {
	RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration)
	RecordNotification(gateway, channel, outcome string)
	RecordProcessing(gateway string, duration time.Duration)
	RecordLedgerSweep(swept int)
	SetDBConnectionsActive(count float64)
	RecordDBQuery(operation, status string)
	Handler() http.Handler
}

// NoOpMetrics provides a no-op implementation
type NoOpMetrics struct{}

func (m *NoOpMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
}
func (m *NoOpMetrics) RecordNotification(gateway, channel, outcome string)     {}
func (m *NoOpMetrics) RecordProcessing(gateway string, duration time.Duration) {}
func (m *NoOpMetrics) RecordLedgerSweep(swept int)                             {}
func (m *NoOpMetrics) SetDBConnectionsActive(count float64)                    {}
func (m *NoOpMetrics) RecordDBQuery(operation, status string)                  {}
func (m *NoOpMetrics) Handler() http.Handler                                   { return http.NotFoundHandler() }

// Global metrics instance
var globalMetrics Metrics = &NoOpMetrics{}

// Init installs m as the global metrics sink; nil restores the no-op sink.
func Init(m Metrics) {
	if m == nil {
		m = &NoOpMetrics{}
	}
	globalMetrics = m
}

// Handler returns the metrics handler
func Handler() http.Handler {
	return globalMetrics.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	globalMetrics.RecordHTTPRequest(method, endpoint, statusCode, duration)
}

// RecordNotification counts a gateway notification by its final outcome
func RecordNotification(gateway, channel, outcome string) {
	globalMetrics.RecordNotification(gateway, channel, outcome)
}

// RecordProcessing records how long the upgrade processor held a claim
func RecordProcessing(gateway string, duration time.Duration) {
	globalMetrics.RecordProcessing(gateway, duration)
}

// RecordLedgerSweep records how many stale pending entries a sweep rejected
func RecordLedgerSweep(swept int) {
	globalMetrics.RecordLedgerSweep(swept)
}

// SetDBConnectionsActive sets the number of active database connections
func SetDBConnectionsActive(count float64) {
	globalMetrics.SetDBConnectionsActive(count)
}

// RecordDBQuery records database query metrics
func RecordDBQuery(operation, status string) {
	globalMetrics.RecordDBQuery(operation, status)
}
