// Package telemetry publishes decoded register samples, one MQTT topic per
// register.
package telemetry

import (
	"strconv"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/metrics"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
)

// Bus is the message bus the publisher writes to
type Bus interface {
	Publish(topic, payload string) error
}

// Report summarizes one publish pass
type Report struct {
	Published int
	Failed    []*berrors.PublishError
}

// Publisher sends every sample to <baseTopic><name>
type Publisher struct {
	bus       Bus
	baseTopic string
	metrics   metrics.MetricsCollector
	logger    logger.ILogger
}

// New creates a telemetry publisher; m may be nil
func New(bus Bus, baseTopic string, m metrics.MetricsCollector) *Publisher {
	if m == nil {
		m = metrics.NewNullMetrics()
	}
	return &Publisher{
		bus:       bus,
		baseTopic: baseTopic,
		metrics:   m,
		logger:    logger.NewStandardLogger(),
	}
}

// SetLogger replaces the publisher's logger
func (p *Publisher) SetLogger(l logger.ILogger) {
	if l != nil {
		p.logger = l
	}
}

// Topic returns the topic a register is published on
func (p *Publisher) Topic(name string) string {
	return p.baseTopic + name
}

// PublishAll publishes each sample independently. A failed publish is
// logged and recorded in the report; the remaining samples are still sent.
func (p *Publisher) PublishAll(samples []registers.Sample) Report {
	var report Report
	for _, s := range samples {
		topic := p.Topic(s.Name)
		payload := FormatValue(s.Value)

		if err := p.bus.Publish(topic, payload); err != nil {
			pubErr := berrors.NewPublishError("publish sample", err, topic)
			p.logger.LogError("⚠️ Error publishing %s: %v", s.Name, err)
			p.metrics.IncrementMQTTErrors()
			report.Failed = append(report.Failed, pubErr)
			continue
		}

		report.Published++
		p.metrics.IncrementMQTTPublishes()
		p.metrics.SetRegisterValue(s.Name, s.Value)
	}
	return report
}

// FormatValue renders v as the shortest decimal that parses back to v
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
