package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
)

// Config represents the complete application configuration
type Config struct {
	MQTT          MQTTConfig           `yaml:"mqtt"`
	Serial        SerialConfig         `yaml:"serial"`
	Poller        PollerConfig         `yaml:"poller"`
	HomeAssistant HAConfig             `yaml:"homeassistant"`
	HTTP          HTTPConfig           `yaml:"http"`
	InfluxDB      InfluxDBConfig       `yaml:"influxdb"`
	Journal       JournalConfig        `yaml:"journal"`
	Logging       logger.LoggingConfig `yaml:"logging"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker            string `yaml:"broker"`
	Port              int    `yaml:"port"`
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	ClientID          string `yaml:"client_id"`
	BaseTopic         string `yaml:"base_topic"`         // Prefix for telemetry, command and status topics
	RetryDelay        int    `yaml:"retry_delay"`        // Delay between connection retries in milliseconds
	KeepAlive         int    `yaml:"keep_alive"`         // Seconds
	PublishTimeout    int    `yaml:"publish_timeout"`    // Milliseconds to wait for a publish token
	HeartbeatInterval int    `yaml:"heartbeat_interval"` // Seconds between online heartbeats
}

// SerialConfig contains the RS485 link settings
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
	SlaveID  uint8  `yaml:"slave_id"`
	Timeout  int    `yaml:"timeout"` // Milliseconds
}

// PollerConfig contains the read loop settings
type PollerConfig struct {
	CycleInterval   int `yaml:"cycle_interval"`   // Milliseconds between cycles
	FailureCeiling  int `yaml:"failure_ceiling"`  // Consecutive failed reads before exit
	BackoffUnit     int `yaml:"backoff_unit"`     // Milliseconds; k-th failure waits k × unit
	SummaryInterval int `yaml:"summary_interval"` // Seconds between summary log lines
}

// HAConfig contains Home Assistant MQTT Discovery settings
type HAConfig struct {
	Enabled         bool   `yaml:"enabled"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	DeviceName      string `yaml:"device_name"`
	DeviceID        string `yaml:"device_id"`
	Manufacturer    string `yaml:"manufacturer"`
	Model           string `yaml:"model"`
}

// HTTPConfig contains the health/metrics endpoint settings; port 0 disables it
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// InfluxDBConfig contains the optional time-series sink settings
type InfluxDBConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`
}

// JournalConfig contains the command journal settings; empty path disables it
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LoadConfig loads configuration from the first readable location
func LoadConfig(configPath string) (*Config, error) {
	paths := []string{
		configPath,
		"/etc/sofar-bridge/config.yaml",
		"/etc/sofar-bridge.yaml",
		"./config.yaml",
	}

	var data []byte
	var err error
	var usedPath string

	for _, path := range paths {
		if path == "" {
			continue
		}
		// #nosec G304 - Paths are the command-line path or a fixed list of locations
		data, err = os.ReadFile(path)
		if err == nil {
			usedPath = path
			break
		}
	}

	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file from any of the locations: %v. Last error: %w", paths, err)
	}

	config, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", usedPath, err)
	}

	logger.LogInfo("✅ Configuration loaded successfully from %s", usedPath)
	return config, nil
}

// LoadConfigFile loads configuration from path only, without the fallback
// locations LoadConfig searches
func LoadConfigFile(path string) (*Config, error) {
	// #nosec G304 - Path is given explicitly by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read configuration file: %w", err)
	}
	config, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigFromString loads configuration from a YAML string (for testing)
func LoadConfigFromString(yamlContent string) (*Config, error) {
	config, err := parse([]byte(yamlContent))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing configuration: %w", err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills unset fields. The defaults reproduce a stock
// single-inverter install: local broker, USB RS485 adapter, 5 s cycle.
func (c *Config) ApplyDefaults() {
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "127.0.0.1"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.Username == "" && c.MQTT.Password == "" {
		c.MQTT.Username = "sofar"
		c.MQTT.Password = "sofar"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sofar-bridge-" + uuid.NewString()[:8]
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "sensors/sofar/"
	}
	if !strings.HasSuffix(c.MQTT.BaseTopic, "/") {
		c.MQTT.BaseTopic += "/"
	}
	if c.MQTT.RetryDelay == 0 {
		c.MQTT.RetryDelay = 5000
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 30
	}
	if c.MQTT.PublishTimeout == 0 {
		c.MQTT.PublishTimeout = 2000
	}
	if c.MQTT.HeartbeatInterval == 0 {
		c.MQTT.HeartbeatInterval = 60
	}

	if c.Serial.Port == "" {
		c.Serial.Port = "/dev/ttyUSB0"
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = 9600
	}
	if c.Serial.DataBits == 0 {
		c.Serial.DataBits = 8
	}
	if c.Serial.StopBits == 0 {
		c.Serial.StopBits = 1
	}
	if c.Serial.Parity == "" {
		c.Serial.Parity = "N"
	}
	if c.Serial.SlaveID == 0 {
		c.Serial.SlaveID = 1
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = 1000
	}

	if c.Poller.CycleInterval == 0 {
		c.Poller.CycleInterval = 5000
	}
	if c.Poller.FailureCeiling == 0 {
		c.Poller.FailureCeiling = 10
	}
	if c.Poller.BackoffUnit == 0 {
		c.Poller.BackoffUnit = 10000
	}
	if c.Poller.SummaryInterval == 0 {
		c.Poller.SummaryInterval = 30
	}

	if c.HomeAssistant.DiscoveryPrefix == "" {
		c.HomeAssistant.DiscoveryPrefix = "homeassistant"
	}
	if c.HomeAssistant.DeviceName == "" {
		c.HomeAssistant.DeviceName = "Sofar ME3000SP"
	}
	if c.HomeAssistant.DeviceID == "" {
		c.HomeAssistant.DeviceID = "sofar_me3000"
	}
	if c.HomeAssistant.Manufacturer == "" {
		c.HomeAssistant.Manufacturer = "Sofar Solar"
	}
	if c.HomeAssistant.Model == "" {
		c.HomeAssistant.Model = "ME3000SP"
	}

	if c.InfluxDB.Measurement == "" {
		c.InfluxDB.Measurement = "inverter"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = logger.LogLevelInfo
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logger.FormatConsole
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	invalid := func(field, msg string) error {
		return berrors.NewConfigError(field, errors.New(msg))
	}

	if c.MQTT.Broker == "" {
		return invalid("mqtt.broker", "is not specified")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		return invalid("mqtt.port", "must be between 1 and 65535")
	}
	if strings.ContainsAny(c.MQTT.BaseTopic, "#+") {
		return invalid("mqtt.base_topic", "must not contain wildcards")
	}
	if c.MQTT.RetryDelay < 0 {
		return invalid("mqtt.retry_delay", "must be non-negative")
	}
	if c.MQTT.KeepAlive < 0 {
		return invalid("mqtt.keep_alive", "must be non-negative")
	}
	if c.MQTT.HeartbeatInterval < 0 {
		return invalid("mqtt.heartbeat_interval", "must be non-negative")
	}

	if c.Serial.Port == "" {
		return invalid("serial.port", "is not specified")
	}
	if c.Serial.BaudRate <= 0 {
		return invalid("serial.baud_rate", "must be positive")
	}
	if c.Serial.DataBits < 5 || c.Serial.DataBits > 8 {
		return invalid("serial.data_bits", "must be between 5 and 8")
	}
	if c.Serial.StopBits != 1 && c.Serial.StopBits != 2 {
		return invalid("serial.stop_bits", "must be 1 or 2")
	}
	switch c.Serial.Parity {
	case "N", "E", "O":
	default:
		return invalid("serial.parity", "must be N, E or O")
	}
	if c.Serial.SlaveID > 247 {
		return invalid("serial.slave_id", "must be between 1 and 247")
	}
	if c.Serial.Timeout <= 0 {
		return invalid("serial.timeout", "must be positive")
	}

	if c.Poller.CycleInterval <= 0 {
		return invalid("poller.cycle_interval", "must be positive")
	}
	if c.Poller.FailureCeiling <= 0 {
		return invalid("poller.failure_ceiling", "must be positive")
	}
	if c.Poller.BackoffUnit < 0 {
		return invalid("poller.backoff_unit", "must be non-negative")
	}
	if c.Poller.SummaryInterval < 0 {
		return invalid("poller.summary_interval", "must be non-negative")
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return invalid("http.port", "must be between 0 and 65535")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			return invalid("influxdb.url", "is required when influxdb is enabled")
		}
		if c.InfluxDB.Org == "" {
			return invalid("influxdb.org", "is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			return invalid("influxdb.bucket", "is required when influxdb is enabled")
		}
	}

	return nil
}
