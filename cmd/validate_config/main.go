package main

import (
	"fmt"
	"os"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/config"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: validate_config <config-file>")
		os.Exit(1)
	}

	configPath := os.Args[1]
	fmt.Printf("📄 Loading config from: %s\n", configPath)

	cfg, err := config.LoadConfigFile(configPath)
	if err != nil {
		fmt.Printf("❌ Error loading config: %v\n", err)
		os.Exit(3)
	}

	mqtt := config.NewMQTTSettings(cfg)
	serial := config.NewSerialSettings(cfg)
	polling := config.NewPollingSettings(cfg)

	fmt.Printf("✅ Config loaded successfully!\n")
	fmt.Printf("   MQTT Broker: %s:%d (client %s)\n", mqtt.Broker, mqtt.Port, mqtt.ClientID)
	fmt.Printf("   Telemetry topics: %s<register>\n", mqtt.BaseTopic)
	fmt.Printf("   Command topic: %s\n", mqtt.CommandTopic())
	fmt.Printf("   Status topic: %s\n", mqtt.StatusTopic())
	fmt.Printf("   Serial: %s %d %d%s%d, slave %d, timeout %v\n",
		serial.Port, serial.BaudRate, serial.DataBits, serial.Parity, serial.StopBits, serial.SlaveID, serial.Timeout)
	fmt.Printf("   Cycle: %v, failure ceiling %d, backoff unit %v\n",
		polling.CycleInterval, polling.FailureCeiling, polling.BackoffUnit)
	fmt.Printf("   Home Assistant discovery: %v (prefix %s, device %s)\n",
		cfg.HomeAssistant.Enabled, cfg.HomeAssistant.DiscoveryPrefix, cfg.HomeAssistant.DeviceID)
	if cfg.HTTP.Port > 0 {
		fmt.Printf("   HTTP: :%d\n", cfg.HTTP.Port)
	}
	if cfg.InfluxDB.Enabled {
		fmt.Printf("   InfluxDB: %s (org %s, bucket %s)\n", cfg.InfluxDB.URL, cfg.InfluxDB.Org, cfg.InfluxDB.Bucket)
	}
	if cfg.Journal.Path != "" {
		fmt.Printf("   Command journal: %s\n", cfg.Journal.Path)
	}

	m := registers.SofarME3000()
	fmt.Printf("\n📋 Register map (%d registers from 0x%04X):\n", m.Len(), registers.HoldingStart)
	for _, spec := range m.Specs() {
		fmt.Printf("   0x%04X %-30s %s x%-8g %s\n",
			registers.HoldingStart+spec.Offset, spec.Name, spec.Encoding, spec.Scale, spec.Unit)
	}

	fmt.Println("\n✅ Configuration is valid!")
}
