package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sofar"

var linkStates = []string{"healthy", "degraded", "dead"}

// PrometheusMetrics exposes bridge metrics through client_golang collectors
// registered on a private registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	modbusReadsTotal    prometheus.Counter
	modbusErrorsTotal   prometheus.Counter
	mqttPublishesTotal  prometheus.Counter
	mqttErrorsTotal     prometheus.Counter
	commandsTotal       *prometheus.CounterVec
	linkState           *prometheus.GaugeVec
	consecutiveFailures prometheus.Gauge
	modbusReadDuration  prometheus.Histogram
	registerValue       *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a new Prometheus metrics collector
func NewPrometheusMetrics() *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		modbusReadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modbus_reads_total",
			Help:      "Total number of successful holding register reads",
		}),
		modbusErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modbus_errors_total",
			Help:      "Total number of failed holding register reads",
		}),
		mqttPublishesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_publishes_total",
			Help:      "Total number of telemetry values accepted by the broker",
		}),
		mqttErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mqtt_errors_total",
			Help:      "Total number of telemetry publishes that failed",
		}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands dispatched to the inverter",
		}, []string{"kind", "result"}),
		linkState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_state",
			Help:      "Serial link state (1 for the current state)",
		}, []string{"state"}),
		consecutiveFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "link_consecutive_failures",
			Help:      "Consecutive failed reads on the serial link",
		}),
		modbusReadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "modbus_read_duration_seconds",
			Help:      "Duration of holding register reads",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
		registerValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "register_value",
			Help:      "Last decoded inverter register value",
		}, []string{"name"}),
	}

	pm.registry.MustRegister(
		pm.modbusReadsTotal,
		pm.modbusErrorsTotal,
		pm.mqttPublishesTotal,
		pm.mqttErrorsTotal,
		pm.commandsTotal,
		pm.linkState,
		pm.consecutiveFailures,
		pm.modbusReadDuration,
		pm.registerValue,
	)
	pm.SetLinkState("healthy")
	return pm
}

// IncrementModbusReads counts a successful holding-block read
func (pm *PrometheusMetrics) IncrementModbusReads() { pm.modbusReadsTotal.Inc() }

// IncrementModbusErrors counts a failed holding-block read
func (pm *PrometheusMetrics) IncrementModbusErrors() { pm.modbusErrorsTotal.Inc() }

// IncrementMQTTPublishes counts a delivered telemetry message
func (pm *PrometheusMetrics) IncrementMQTTPublishes() { pm.mqttPublishesTotal.Inc() }

// IncrementMQTTErrors counts a failed telemetry publish
func (pm *PrometheusMetrics) IncrementMQTTErrors() { pm.mqttErrorsTotal.Inc() }

// IncrementCommands counts a dispatched command
func (pm *PrometheusMetrics) IncrementCommands(kind, result string) {
	pm.commandsTotal.WithLabelValues(kind, result).Inc()
}

// SetLinkState sets the gauge of the given state to 1 and the others to 0
func (pm *PrometheusMetrics) SetLinkState(state string) {
	for _, s := range linkStates {
		v := 0.0
		if s == state {
			v = 1
		}
		pm.linkState.WithLabelValues(s).Set(v)
	}
}

// SetConsecutiveFailures reports the poller's current failure run
func (pm *PrometheusMetrics) SetConsecutiveFailures(n int) {
	pm.consecutiveFailures.Set(float64(n))
}

// ObserveModbusReadDuration records one read round trip
func (pm *PrometheusMetrics) ObserveModbusReadDuration(duration time.Duration) {
	pm.modbusReadDuration.Observe(duration.Seconds())
}

// SetRegisterValue exports the latest decoded value of a register
func (pm *PrometheusMetrics) SetRegisterValue(name string, value float64) {
	pm.registerValue.WithLabelValues(name).Set(value)
}

// Registry returns the private registry, mainly for tests
func (pm *PrometheusMetrics) Registry() *prometheus.Registry {
	return pm.registry
}

// Handler returns the /metrics handler for the private registry
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}
