package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestMetricsCollectorInterface verifies that both implementations satisfy MetricsCollector
func TestMetricsCollectorInterface(t *testing.T) {
	t.Run("PrometheusMetrics implements MetricsCollector", func(t *testing.T) {
		var _ MetricsCollector = (*PrometheusMetrics)(nil)
	})

	t.Run("NullMetrics implements MetricsCollector", func(t *testing.T) {
		var _ MetricsCollector = (*NullMetrics)(nil)
	})
}

func scrape(t *testing.T, pm *PrometheusMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("Failed to read metrics body: %v", err)
	}
	return string(body)
}

// TestPrometheusMetricsRecording verifies that PrometheusMetrics actually records values
func TestPrometheusMetricsRecording(t *testing.T) {
	pm := NewPrometheusMetrics()

	pm.IncrementModbusReads()
	pm.IncrementModbusReads()
	pm.IncrementModbusErrors()
	pm.IncrementMQTTPublishes()
	pm.IncrementMQTTErrors()
	pm.IncrementCommands("CHARGE", "ok")
	pm.SetLinkState("degraded")
	pm.SetConsecutiveFailures(3)
	pm.ObserveModbusReadDuration(100 * time.Millisecond)
	pm.SetRegisterValue("batt_soc", 75)

	output := scrape(t, pm)

	expected := []string{
		"sofar_modbus_reads_total 2",
		"sofar_modbus_errors_total 1",
		"sofar_mqtt_publishes_total 1",
		"sofar_mqtt_errors_total 1",
		`sofar_commands_total{kind="CHARGE",result="ok"} 1`,
		`sofar_link_state{state="degraded"} 1`,
		`sofar_link_state{state="healthy"} 0`,
		"sofar_link_consecutive_failures 3",
		"sofar_modbus_read_duration_seconds_count 1",
		`sofar_register_value{name="batt_soc"} 75`,
	}
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}

func TestNewPrometheusMetricsStartsHealthy(t *testing.T) {
	output := scrape(t, NewPrometheusMetrics())
	if !strings.Contains(output, `sofar_link_state{state="healthy"} 1`) {
		t.Errorf("Expected initial link state healthy, got:\n%s", output)
	}
}

func TestNullMetricsNoOp(t *testing.T) {
	nm := NewNullMetrics()
	nm.IncrementModbusReads()
	nm.IncrementCommands("AUTO", "ok")
	nm.SetLinkState("dead")
	nm.ObserveModbusReadDuration(time.Second)
}
