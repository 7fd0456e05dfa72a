package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/command"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/config"
	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/health"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/homeassistant"
	bridgehttp "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/http"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/influxdb"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/inverter"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/journal"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/metrics"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/mqtt"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/poller"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/services"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/telemetry"
)

// Application wires the inverter, the broker and the optional sinks
type Application struct {
	config    *config.Config
	device    *inverter.ME3000
	mqtt      *mqtt.Client
	registers *registers.Map
	metrics   *metrics.PrometheusMetrics
	monitor   *health.LinkMonitor
	journal   *journal.Journal
	influx    *influxdb.Sink
	server    *bridgehttp.Server
	bridge    *services.BridgeService
	heartbeat *services.HeartbeatService
}

// NewApplication loads configuration and builds every component.
// Nothing touches the network or the serial port yet.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading configuration: %w", err)
	}

	if err := logger.Init(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("error initializing logging: %w", err)
	}
	logger.LogStartup("🔧 Logging initialized with level: %s", cfg.Logging.Level)

	serialSettings := config.NewSerialSettings(cfg)
	pollingSettings := config.NewPollingSettings(cfg)
	mqttSettings := config.NewMQTTSettings(cfg)

	device := inverter.New(inverter.Config{
		Port:     serialSettings.Port,
		BaudRate: serialSettings.BaudRate,
		DataBits: serialSettings.DataBits,
		StopBits: serialSettings.StopBits,
		Parity:   serialSettings.Parity,
		SlaveID:  serialSettings.SlaveID,
		Timeout:  serialSettings.Timeout,
	}, nil)

	app := &Application{
		config:    cfg,
		device:    device,
		registers: registers.SofarME3000(),
		metrics:   metrics.NewPrometheusMetrics(),
		monitor:   health.NewLinkMonitor(health.DefaultWindow),
	}

	slot := &command.Slot{}
	app.mqtt = mqtt.NewClient(mqttSettings, slot.Put)

	var recorder command.Recorder
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("error opening command journal: %w", err)
		}
		app.journal = j
		recorder = j
		logger.LogInfo("📒 Command journal at %s", cfg.Journal.Path)
	}

	p, err := poller.New(poller.Config{
		SlaveID:     serialSettings.SlaveID,
		Ceiling:     pollingSettings.FailureCeiling,
		BackoffUnit: pollingSettings.BackoffUnit,
	}, device)
	if err != nil {
		return nil, err
	}
	p.SetMetrics(app.metrics)

	dispatcher := command.NewDispatcher(device, app.metrics, recorder)

	app.bridge, err = services.NewBridgeService(services.BridgeDeps{
		Poller:     p,
		Registers:  app.registers,
		Publisher:  telemetry.New(app.mqtt, mqttSettings.BaseTopic, app.metrics),
		Dispatcher: dispatcher,
		Slot:       slot,
		Monitor:    app.monitor,
		Status:     app.mqtt,
	}, pollingSettings)
	if err != nil {
		return nil, err
	}

	app.heartbeat = services.NewHeartbeatService(app.mqtt, app.monitor, mqttSettings.HeartbeatInterval)
	return app, nil
}

// Start opens the serial port, connects the broker and the optional sinks
func (app *Application) Start(ctx context.Context) error {
	logger.LogInfo("🚀 Starting Sofar MQTT bridge...")

	if err := app.device.Connect(); err != nil {
		return fmt.Errorf("error opening serial port %s: %w", app.config.Serial.Port, err)
	}
	logger.LogInfo("🔌 Serial port %s open (%d baud, slave %d)",
		app.config.Serial.Port, app.config.Serial.BaudRate, app.config.Serial.SlaveID)

	if err := app.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("error connecting to MQTT broker: %w", err)
	}

	if app.config.InfluxDB.Enabled {
		sink, err := influxdb.Connect(app.config.InfluxDB, app.config.HomeAssistant.DeviceID)
		if err != nil {
			logger.LogWarn("⚠️ InfluxDB unavailable, continuing without it: %v", err)
		} else {
			app.influx = sink
			app.bridge.SetSink(sink)
		}
	}

	if app.config.HomeAssistant.Enabled {
		discovery := homeassistant.NewPublisher(app.mqtt, app.config.HomeAssistant, app.config.MQTT.BaseTopic)
		if _, err := discovery.PublishAll(app.registers); err != nil {
			logger.LogError("⚠️ Error publishing discovery configs: %v", err)
		}
	}

	if app.config.HTTP.Port > 0 {
		var commands bridgehttp.CommandLister
		if app.journal != nil {
			commands = app.journal
		}
		router := bridgehttp.NewRouter(
			bridgehttp.NewHealthHandler(app.monitor, version),
			app.metrics.Handler(),
			commands,
		)
		app.server = bridgehttp.NewServer(router, app.config.HTTP.Port)
		app.server.Start()
	}

	if err := app.mqtt.PublishDiagnostic(ctx, berrors.CodeOK, "Sofar bridge started"); err != nil {
		logger.LogError("⚠️ Error publishing diagnostic: %v", err)
	}

	go app.heartbeat.Start(ctx)

	logger.LogInfo("✅ Sofar MQTT bridge started successfully")
	logger.LogInfo("🔇 Verbose logging reduced - Summary reports every %ds", app.config.Poller.SummaryInterval)
	return nil
}

// Run blocks in the bridge loop until ctx is cancelled or the link dies
func (app *Application) Run(ctx context.Context) error {
	return app.bridge.Run(ctx)
}

// Stop releases everything Start acquired. Safe to call after a failed Start.
func (app *Application) Stop() {
	logger.LogInfo("🛑 Stopping Sofar MQTT bridge...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if app.mqtt.IsConnected() {
		if err := app.mqtt.PublishDiagnostic(ctx, berrors.CodeOK, "Sofar bridge stopped"); err != nil {
			logger.LogDebug("⚠️ Error publishing diagnostic: %v", err)
		}
	}
	app.mqtt.Disconnect()

	if err := app.device.Close(); err != nil {
		logger.LogDebug("Error closing serial port: %v", err)
	}
	if app.server != nil {
		if err := app.server.Stop(ctx); err != nil {
			logger.LogError("⚠️ %v", err)
		}
	}
	if app.influx != nil {
		app.influx.Close()
	}
	if app.journal != nil {
		if err := app.journal.Close(); err != nil {
			logger.LogError("⚠️ %v", err)
		}
	}

	logger.LogInfo("✅ Sofar MQTT bridge stopped")
}

// DiagnosticMode reads a few registers to check the serial link and prints
// what the inverter reports
func (app *Application) DiagnosticMode(ctx context.Context) error {
	logger.LogInfo("🔍 Starting diagnostic mode...")

	logger.LogInfo("🔍 Test 1: Serial port %s", app.config.Serial.Port)
	if err := app.device.Connect(); err != nil {
		logger.LogError("❌ Cannot open serial port: %v", err)
		logger.LogInfo("💡 Possible issues:")
		logger.LogInfo("   - Wrong device path (%s)", app.config.Serial.Port)
		logger.LogInfo("   - Missing permissions on the device (dialout group)")
		return fmt.Errorf("serial port unavailable: %w", err)
	}
	defer app.device.Close()
	logger.LogInfo("✅ Serial port open")

	logger.LogInfo("🔍 Test 2: Inverter state (slave ID: %d)", app.config.Serial.SlaveID)
	raw, name, err := app.device.InverterState()
	if err != nil {
		logger.LogError("❌ Inverter did not answer: %v", err)
		logger.LogInfo("💡 Possible issues:")
		logger.LogInfo("   - Wrong slave ID (%d)", app.config.Serial.SlaveID)
		logger.LogInfo("   - Wrong baud rate or communication parameters")
		logger.LogInfo("   - Physical connection issues (RS485 A/B swapped)")
		return fmt.Errorf("inverter communication failed: %w", err)
	}
	fmt.Printf("Inverter state:     %s (%d)\n", name, raw)

	soc, err := app.device.BatteryPercentage()
	if err != nil {
		return fmt.Errorf("reading battery percentage: %w", err)
	}
	fmt.Printf("Battery percentage: %d%%\n", soc)

	logger.LogInfo("🔍 Test 3: Input registers 0x%04X", inverter.InputStart)
	input, err := app.device.ReadInput()
	if err != nil {
		return fmt.Errorf("reading input registers: %w", err)
	}
	for i := uint16(0); i < inverter.InputQuantity; i++ {
		fmt.Printf("  0x%04X: %d\n", inverter.InputStart+i, input[i])
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.LogInfo("🎉 All diagnostic tests passed!")
	return nil
}

// exitCode maps the error that ended the application to a process status
func exitCode(err error) int {
	var fatal *berrors.FatalLinkError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &fatal):
		return exitFatalLink
	case errors.Is(err, context.Canceled):
		return exitInterrupted
	default:
		return exitStartup
	}
}
