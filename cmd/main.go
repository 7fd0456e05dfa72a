package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
)

const version = "1.0.0"

// Process exit codes
const (
	exitOK          = 0
	exitInterrupted = 1
	exitFatalLink   = 2
	exitStartup     = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line arguments
	configPath := ""
	diagnosticMode := false

	for i, arg := range os.Args[1:] {
		if arg == "--help" || arg == "-h" {
			fmt.Printf("Usage: %s [config_path] [--diagnostic]\n", os.Args[0])
			fmt.Printf("  config_path: Path to configuration file (optional)\n")
			fmt.Printf("  --diagnostic: Read inverter state, battery and input registers, then exit\n")
			return exitOK
		} else if arg == "--diagnostic" {
			diagnosticMode = true
		} else if i == 0 {
			configPath = arg
		}
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.LogInfo("📢 Stop signal received...")
		cancel()
	}()

	app, err := NewApplication(configPath)
	if err != nil {
		logger.LogError("Application creation error: %v", err)
		return exitStartup
	}
	defer logger.Close()

	if diagnosticMode {
		logger.LogInfo("🔍 Running diagnostic mode...")
		if err := app.DiagnosticMode(ctx); err != nil {
			logger.LogError("Diagnostic failed: %v", err)
			return exitStartup
		}
		logger.LogInfo("✅ Diagnostic completed successfully")
		return exitOK
	}

	defer app.Stop()

	if err := app.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return exitInterrupted
		}
		logger.LogError("Application start error: %v", err)
		return exitStartup
	}

	err = app.Run(ctx)
	code := exitCode(err)
	if code == exitFatalLink {
		logger.LogError("🔴 Giving up: %v", err)
	}
	return code
}
