package metrics

import "time"

// NullMetrics is a no-op implementation of MetricsCollector, used when
// the HTTP endpoint is disabled.
type NullMetrics struct{}

// NewNullMetrics creates a new NullMetrics instance
func NewNullMetrics() *NullMetrics {
	return &NullMetrics{}
}

func (nm *NullMetrics) IncrementModbusReads()                            {}
func (nm *NullMetrics) IncrementModbusErrors()                           {}
func (nm *NullMetrics) IncrementMQTTPublishes()                          {}
func (nm *NullMetrics) IncrementMQTTErrors()                             {}
func (nm *NullMetrics) IncrementCommands(kind, result string)            {}
func (nm *NullMetrics) SetLinkState(state string)                        {}
func (nm *NullMetrics) SetConsecutiveFailures(n int)                     {}
func (nm *NullMetrics) ObserveModbusReadDuration(duration time.Duration) {}
func (nm *NullMetrics) SetRegisterValue(name string, value float64)      {}

// Compile-time verification that NullMetrics implements MetricsCollector
var _ MetricsCollector = (*NullMetrics)(nil)
