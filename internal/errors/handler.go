package errors

import (
	"context"
	"errors"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	diagnosticPublisher DiagnosticPublisher
	logger              logger.ILogger
}

// DiagnosticPublisher interface for publishing diagnostics
type DiagnosticPublisher interface {
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// NewErrorHandler creates a new error handler; publisher may be nil
func NewErrorHandler(publisher DiagnosticPublisher) *ErrorHandler {
	return &ErrorHandler{
		diagnosticPublisher: publisher,
		logger:              logger.NewStandardLogger(),
	}
}

// SetLogger replaces the handler's logger
func (h *ErrorHandler) SetLogger(l logger.ILogger) {
	if l != nil {
		h.logger = l
	}
}

// Handle logs err according to its severity and publishes a diagnostic
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil {
		return
	}

	var (
		transportErr *TransportError
		decodeErr    *DecodeError
		publishErr   *PublishError
		deviceErr    *DeviceCommandError
		fatalErr     *FatalLinkError
		configErr    *ConfigError
	)

	// A device command error usually wraps the transport failure behind it
	switch {
	case errors.As(err, &fatalErr):
		h.logger.LogError("🔴 CRITICAL Link Error: %s", err.Error())
	case errors.As(err, &configErr):
		h.logger.LogError("🔴 CRITICAL Configuration Error: %s", err.Error())
	case errors.As(err, &deviceErr):
		h.logger.LogError("❌ Device Command Error: %s", err.Error())
	case errors.As(err, &transportErr):
		h.logger.LogError("❌ Transport Error: %s", err.Error())
	case errors.As(err, &decodeErr):
		h.logger.LogWarn("⚠️ Decode Error: %s", err.Error())
	case errors.As(err, &publishErr):
		h.logger.LogWarn("⚠️ Publish Error: %s", err.Error())
	default:
		h.logger.LogError("❌ Untyped Error: %v", err)
	}

	if h.diagnosticPublisher != nil {
		if pubErr := h.diagnosticPublisher.PublishDiagnostic(ctx, GetDiagnosticCode(err), err.Error()); pubErr != nil {
			h.logger.LogDebug("Failed to publish error diagnostic: %v", pubErr)
		}
	}
}

// IsRecoverable returns true if the error is recoverable
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	if b, ok := asBridge(err); ok {
		return b.Severity != SeverityCritical
	}
	return true // Unknown errors are assumed recoverable
}

// GetDiagnosticCode extracts the diagnostic code from an error
func GetDiagnosticCode(err error) int {
	if err == nil {
		return CodeOK
	}
	if b, ok := asBridge(err); ok {
		return b.Code
	}
	return CodeUnspecified
}
