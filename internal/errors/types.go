package errors

import (
	"errors"
	"fmt"
)

// ErrorSeverity defines the severity level of an error
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Diagnostic codes published on the diagnostic topic
const (
	CodeOK          = 0
	CodeConfig      = 1
	CodeTransport   = 2
	CodeDecode      = 3
	CodePublish     = 4
	CodeDevice      = 5
	CodeFatalLink   = 6
	CodeUnspecified = 99
)

// BridgeError is the base error type for all bridge errors
type BridgeError struct {
	Op       string        // Operation that failed
	Err      error         // Underlying error
	Severity ErrorSeverity // Error severity
	Code     int           // Diagnostic code for MQTT
}

// Error implements the error interface
func (e *BridgeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Severity, e.Op)
}

// Unwrap returns the underlying error
func (e *BridgeError) Unwrap() error {
	return e.Err
}

// base exposes the embedded BridgeError through errors.As
func (e *BridgeError) base() *BridgeError {
	return e
}

// TransportError is a read or write failure at the serial/Modbus layer.
// The poller recovers from it with backoff.
type TransportError struct {
	BridgeError
	SlaveID      uint8
	FunctionCode uint8
	Address      uint16
}

// NewTransportError creates a new transport error
func NewTransportError(op string, err error, slaveID uint8, functionCode uint8, address uint16) *TransportError {
	return &TransportError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityError,
			Code:     CodeTransport,
		},
		SlaveID:      slaveID,
		FunctionCode: functionCode,
		Address:      address,
	}
}

// Error implements the error interface
func (e *TransportError) Error() string {
	return fmt.Sprintf("[%s] Modbus slave %d (fc 0x%02X, addr 0x%04X): %s: %v",
		e.Severity, e.SlaveID, e.FunctionCode, e.Address, e.Op, e.Err)
}

// DecodeError is a malformed register block or an unparseable command
type DecodeError struct {
	BridgeError
	Input string
}

// NewDecodeError creates a new decode error
func NewDecodeError(op string, err error, input string) *DecodeError {
	return &DecodeError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityWarning,
			Code:     CodeDecode,
		},
		Input: input,
	}
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("[%s] %s %q: %v", e.Severity, e.Op, e.Input, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Severity, e.Op, e.Err)
}

// PublishError is a rejected publish of a single topic
type PublishError struct {
	BridgeError
	Topic string
}

// NewPublishError creates a new publish error
func NewPublishError(op string, err error, topic string) *PublishError {
	return &PublishError{
		BridgeError: BridgeError{
			Op:       op,
			Err:      err,
			Severity: SeverityWarning,
			Code:     CodePublish,
		},
		Topic: topic,
	}
}

// Error implements the error interface
func (e *PublishError) Error() string {
	return fmt.Sprintf("[%s] MQTT topic '%s': %s: %v", e.Severity, e.Topic, e.Op, e.Err)
}

// DeviceCommandError means the inverter rejected (or never acknowledged) a mode change
type DeviceCommandError struct {
	BridgeError
	Command string
	Status  uint16
}

// NewDeviceCommandError creates a new device command error
func NewDeviceCommandError(command string, err error) *DeviceCommandError {
	return &DeviceCommandError{
		BridgeError: BridgeError{
			Op:       "device command",
			Err:      err,
			Severity: SeverityError,
			Code:     CodeDevice,
		},
		Command: command,
	}
}

// Error implements the error interface
func (e *DeviceCommandError) Error() string {
	return fmt.Sprintf("[%s] Device rejected %s: %v", e.Severity, e.Command, e.Err)
}

// FatalLinkError means the serial link hit its consecutive-failure ceiling
type FatalLinkError struct {
	BridgeError
	Failures int
}

// NewFatalLinkError creates a new fatal link error
func NewFatalLinkError(failures int, last error) *FatalLinkError {
	return &FatalLinkError{
		BridgeError: BridgeError{
			Op:       "serial link dead",
			Err:      last,
			Severity: SeverityCritical,
			Code:     CodeFatalLink,
		},
		Failures: failures,
	}
}

// Error implements the error interface
func (e *FatalLinkError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s after %d consecutive failures: %v", e.Severity, e.Op, e.Failures, e.Err)
	}
	return fmt.Sprintf("[%s] %s after %d consecutive failures", e.Severity, e.Op, e.Failures)
}

// ConfigError represents configuration errors
type ConfigError struct {
	BridgeError
	Field string
}

// NewConfigError creates a new configuration error
func NewConfigError(field string, err error) *ConfigError {
	return &ConfigError{
		BridgeError: BridgeError{
			Op:       "validate",
			Err:      err,
			Severity: SeverityCritical, // Config errors are critical
			Code:     CodeConfig,
		},
		Field: field,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return e.Err.Error()
}

type coded interface {
	base() *BridgeError
}

// asBridge finds the first bridge error in err's chain
func asBridge(err error) (*BridgeError, bool) {
	for err != nil {
		if c, ok := err.(coded); ok {
			return c.base(), true
		}
		err = errors.Unwrap(err)
	}
	return nil, false
}
