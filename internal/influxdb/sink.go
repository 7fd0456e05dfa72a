// Package influxdb mirrors each poll cycle into InfluxDB v2 as one point.
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/config"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
)

const (
	defaultConnectTimeout = 10 * time.Second
	batchSize             = 50
	flushIntervalMs       = 10000
)

var (
	// ErrDisabled is returned by Connect when the sink is switched off
	ErrDisabled = errors.New("influxdb sink is disabled")
	// ErrConnectionFailed wraps ping failures at startup
	ErrConnectionFailed = errors.New("influxdb connection failed")
)

// pointWriter is the part of api.WriteAPI the sink uses
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Sink writes decoded cycles through the non-blocking write API
type Sink struct {
	client      influxdb2.Client
	writer      pointWriter
	measurement string
	device      string

	mu     sync.Mutex
	closed bool
}

// Connect creates the client, pings the server and starts draining
// asynchronous write errors into the log.
func Connect(cfg config.InfluxDBConfig, device string) (*Sink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushIntervalMs))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.LogWarn("⚠️ InfluxDB write failed: %v", err)
		}
	}()

	logger.LogInfo("📈 InfluxDB sink connected to %s (bucket %s)", cfg.URL, cfg.Bucket)
	return &Sink{
		client:      client,
		writer:      writeAPI,
		measurement: cfg.Measurement,
		device:      device,
	}, nil
}

// newSinkWith builds a sink around an existing writer
func newSinkWith(w pointWriter, measurement, device string) *Sink {
	return &Sink{writer: w, measurement: measurement, device: device}
}

// WriteCycle queues one point for the cycle. It never blocks on the network.
func (s *Sink) WriteCycle(samples []registers.Sample, counters []registers.Counter, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	point := NewCyclePoint(s.measurement, s.device, samples, counters, at)
	if point == nil {
		return
	}
	s.writer.WritePoint(point)
}

// NewCyclePoint builds the point for one cycle: one float field per sample,
// the _HB/_LB halves replaced by the recombined integer counter. Returns
// nil when there is nothing to write.
func NewCyclePoint(measurement, device string, samples []registers.Sample, counters []registers.Counter, at time.Time) *write.Point {
	if len(samples) == 0 && len(counters) == 0 {
		return nil
	}

	halves := make(map[string]bool, len(counters)*2)
	fields := make(map[string]interface{}, len(samples))
	for _, c := range counters {
		halves[c.Name+"_HB"] = true
		halves[c.Name+"_LB"] = true
		fields[c.Name] = int64(c.Value)
	}
	for _, s := range samples {
		if halves[s.Name] {
			continue
		}
		fields[s.Name] = s.Value
	}

	return write.NewPoint(measurement, map[string]string{"device": device}, fields, at)
}

// Close flushes pending points and closes the client
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}
