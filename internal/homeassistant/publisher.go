// Package homeassistant publishes MQTT Discovery configs so each decoded
// register shows up as a Home Assistant sensor.
package homeassistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/config"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
)

// RetainedPublisher is the slice of the MQTT client discovery needs
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// Publisher publishes discovery configuration for the register table
type Publisher struct {
	bus       RetainedPublisher
	config    config.HAConfig
	baseTopic string
}

// NewPublisher creates a discovery publisher. baseTopic is the telemetry
// prefix (with trailing slash) the sensors read their state from.
func NewPublisher(bus RetainedPublisher, haCfg config.HAConfig, baseTopic string) *Publisher {
	return &Publisher{bus: bus, config: haCfg, baseTopic: baseTopic}
}

// SensorConfig configuration for a Home Assistant sensor
type SensorConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	UnitOfMeasurement   string     `json:"unit_of_measurement,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	Device              DeviceInfo `json:"device"`
	AvailabilityTopic   string     `json:"availability_topic"`
	PayloadAvailable    string     `json:"payload_available"`
	PayloadNotAvailable string     `json:"payload_not_available"`
	EntityCategory      string     `json:"entity_category,omitempty"`
}

// DeviceInfo information about the device
type DeviceInfo struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
}

// DiscoveryTopic returns <prefix>/sensor/<device_id>/<name>/config
func (p *Publisher) DiscoveryTopic(name string) string {
	return fmt.Sprintf("%s/sensor/%s/%s/config", p.config.DiscoveryPrefix, p.config.DeviceID, name)
}

// SensorConfig builds the discovery document for one register
func (p *Publisher) SensorConfig(spec registers.RegisterSpec) SensorConfig {
	cfg := SensorConfig{
		Name:              humanize(spec.Name),
		UniqueID:          fmt.Sprintf("%s_%s", p.config.DeviceID, spec.Name),
		StateTopic:        p.baseTopic + spec.Name,
		UnitOfMeasurement: spec.Unit,
		DeviceClass:       spec.DeviceClass,
		StateClass:        spec.StateClass,
		Device: DeviceInfo{
			Name:         p.config.DeviceName,
			Identifiers:  []string{p.config.DeviceID},
			Manufacturer: p.config.Manufacturer,
			Model:        p.config.Model,
		},
		AvailabilityTopic:   p.baseTopic + "status",
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
	}
	// Unitless registers are raw status words
	if spec.Unit == "" && spec.DeviceClass == "" {
		cfg.EntityCategory = "diagnostic"
	}
	return cfg
}

// PublishAll publishes a retained discovery config for every register
// except the raw halves of split 32-bit counters. It returns the number
// of configs published and the first error; remaining sensors are still
// attempted after a failure.
func (p *Publisher) PublishAll(m *registers.Map) (int, error) {
	var firstErr error
	published := 0
	for _, spec := range m.Specs() {
		if isCounterHalf(spec.Name) {
			continue
		}
		payload, err := json.Marshal(p.SensorConfig(spec))
		if err != nil {
			return published, fmt.Errorf("error serializing configuration: %w", err)
		}
		if err := p.bus.PublishRetained(p.DiscoveryTopic(spec.Name), payload); err != nil {
			logger.LogWarn("⚠️ Discovery for %s failed: %v", spec.Name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("error publishing discovery for %s: %w", spec.Name, err)
			}
			continue
		}
		published++
	}
	logger.LogInfo("🏠 Published Home Assistant discovery for %d sensors", published)
	return published, firstErr
}

func isCounterHalf(name string) bool {
	return strings.HasSuffix(name, "_HB") || strings.HasSuffix(name, "_LB")
}

// humanize turns "batt_soc" into "Batt Soc"
func humanize(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, " ")
}
