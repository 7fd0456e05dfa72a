package config

import "time"

// SerialSettings contains the serial link configuration with durations resolved
type SerialSettings struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	SlaveID  uint8
	Timeout  time.Duration
}

// NewSerialSettings extracts serial settings from full config
func NewSerialSettings(cfg *Config) SerialSettings {
	return SerialSettings{
		Port:     cfg.Serial.Port,
		BaudRate: cfg.Serial.BaudRate,
		DataBits: cfg.Serial.DataBits,
		StopBits: cfg.Serial.StopBits,
		Parity:   cfg.Serial.Parity,
		SlaveID:  cfg.Serial.SlaveID,
		Timeout:  time.Duration(cfg.Serial.Timeout) * time.Millisecond,
	}
}

// PollingSettings contains polling loop configuration
type PollingSettings struct {
	CycleInterval   time.Duration
	FailureCeiling  int
	BackoffUnit     time.Duration
	SummaryInterval time.Duration
}

// NewPollingSettings extracts polling settings from full config
func NewPollingSettings(cfg *Config) PollingSettings {
	return PollingSettings{
		CycleInterval:   time.Duration(cfg.Poller.CycleInterval) * time.Millisecond,
		FailureCeiling:  cfg.Poller.FailureCeiling,
		BackoffUnit:     time.Duration(cfg.Poller.BackoffUnit) * time.Millisecond,
		SummaryInterval: time.Duration(cfg.Poller.SummaryInterval) * time.Second,
	}
}

// MQTTSettings contains MQTT configuration with durations resolved
type MQTTSettings struct {
	Broker            string
	Port              int
	Username          string
	Password          string
	ClientID          string
	BaseTopic         string
	RetryDelay        time.Duration
	KeepAlive         time.Duration
	PublishTimeout    time.Duration
	HeartbeatInterval time.Duration
}

// NewMQTTSettings extracts MQTT settings from full config
func NewMQTTSettings(cfg *Config) MQTTSettings {
	return MQTTSettings{
		Broker:            cfg.MQTT.Broker,
		Port:              cfg.MQTT.Port,
		Username:          cfg.MQTT.Username,
		Password:          cfg.MQTT.Password,
		ClientID:          cfg.MQTT.ClientID,
		BaseTopic:         cfg.MQTT.BaseTopic,
		RetryDelay:        time.Duration(cfg.MQTT.RetryDelay) * time.Millisecond,
		KeepAlive:         time.Duration(cfg.MQTT.KeepAlive) * time.Second,
		PublishTimeout:    time.Duration(cfg.MQTT.PublishTimeout) * time.Millisecond,
		HeartbeatInterval: time.Duration(cfg.MQTT.HeartbeatInterval) * time.Second,
	}
}

// CommandTopic is where operators publish mode changes
func (s MQTTSettings) CommandTopic() string {
	return s.BaseTopic + "command"
}

// StatusTopic carries online/offline availability (also the last will)
func (s MQTTSettings) StatusTopic() string {
	return s.BaseTopic + "status"
}

// DiagnosticTopic carries JSON diagnostics
func (s MQTTSettings) DiagnosticTopic() string {
	return s.BaseTopic + "diagnostic"
}
