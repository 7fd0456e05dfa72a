package metrics

import "time"

// MetricsCollector defines the interface for collecting bridge metrics.
//
// Implementations:
//   - PrometheusMetrics: client_golang collectors on a private registry
//   - NullMetrics: no-op implementation when metrics are disabled
type MetricsCollector interface {
	// IncrementModbusReads counts a successful holding-block read
	IncrementModbusReads()

	// IncrementModbusErrors counts a failed holding-block read
	IncrementModbusErrors()

	// IncrementMQTTPublishes counts an accepted telemetry publish
	IncrementMQTTPublishes()

	// IncrementMQTTErrors counts a rejected telemetry publish
	IncrementMQTTErrors()

	// IncrementCommands counts a dispatched command by kind and result
	// ("ok", "rejected", "device_error")
	IncrementCommands(kind, result string)

	// SetLinkState records the serial link state (healthy, degraded, dead)
	SetLinkState(state string)

	// SetConsecutiveFailures records the current failure run length
	SetConsecutiveFailures(n int)

	// ObserveModbusReadDuration records the duration of a holding-block read
	ObserveModbusReadDuration(duration time.Duration)

	// SetRegisterValue exports the last decoded value of a register
	SetRegisterValue(name string, value float64)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector
var _ MetricsCollector = (*PrometheusMetrics)(nil)
