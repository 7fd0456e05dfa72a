package command

import (
	"context"
	"errors"
	"time"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/metrics"
)

// Device is the set of passive-mode operations the dispatcher drives
type Device interface {
	SetAuto() error
	SetCharge(watts int) error
	SetDischarge(watts int) error
	SetStandby() error
}

// Result labels used for metrics and the journal
const (
	ResultOK          = "ok"
	ResultRejected    = "rejected"
	ResultDeviceError = "device_error"
)

// Record is one dispatched command as seen by a Recorder
type Record struct {
	Intent   Intent
	Result   string
	Err      error
	Received time.Time
}

// Recorder persists dispatched commands (see the journal package)
type Recorder interface {
	RecordCommand(ctx context.Context, rec Record) error
}

// Dispatcher maps intents onto device calls
type Dispatcher struct {
	device   Device
	metrics  metrics.MetricsCollector
	recorder Recorder
	logger   logger.ILogger
}

// NewDispatcher creates a dispatcher; recorder may be nil
func NewDispatcher(device Device, m metrics.MetricsCollector, recorder Recorder) *Dispatcher {
	if m == nil {
		m = metrics.NewNullMetrics()
	}
	return &Dispatcher{
		device:   device,
		metrics:  m,
		recorder: recorder,
		logger:   logger.NewStandardLogger(),
	}
}

// SetLogger replaces the dispatcher's logger
func (d *Dispatcher) SetLogger(l logger.ILogger) {
	if l != nil {
		d.logger = l
	}
}

// Dispatch applies intent to the device. An Unknown intent returns a
// *DecodeError wrapping ErrNotRecognized without touching the device; a
// device failure returns a *DeviceCommandError.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) error {
	received := time.Now()

	var err error
	switch intent.Kind {
	case Auto:
		err = d.device.SetAuto()
	case Charge:
		err = d.device.SetCharge(intent.PowerWatts)
	case Discharge:
		err = d.device.SetDischarge(intent.PowerWatts)
	case Standby:
		err = d.device.SetStandby()
	default:
		rejected := berrors.NewDecodeError("parse command", ErrNotRecognized, intent.Raw)
		d.logger.LogWarn("⚠️ Command not recognized: %q", intent.Raw)
		d.finish(ctx, intent, ResultRejected, rejected, received)
		return rejected
	}

	if err != nil {
		devErr := asDeviceError(intent, err)
		d.logger.LogError("❌ Command %s failed: %v", intent, err)
		d.finish(ctx, intent, ResultDeviceError, devErr, received)
		return devErr
	}

	d.logger.LogInfo("✅ Inverter set to %s", intent)
	d.finish(ctx, intent, ResultOK, nil, received)
	return nil
}

// HandleText parses and dispatches one raw command. Parse failures are
// recorded as rejected under the keyword that matched.
func (d *Dispatcher) HandleText(ctx context.Context, text string) error {
	intent, err := Parse(text)
	if err != nil {
		d.logger.LogWarn("⚠️ Invalid command %q: %v", text, err)
		d.finish(ctx, Intent{Kind: keywordOf(text), Raw: text}, ResultRejected, err, time.Now())
		return err
	}
	return d.Dispatch(ctx, intent)
}

func (d *Dispatcher) finish(ctx context.Context, intent Intent, result string, err error, received time.Time) {
	d.metrics.IncrementCommands(intent.Kind.String(), result)
	if d.recorder == nil {
		return
	}
	rec := Record{Intent: intent, Result: result, Err: err, Received: received}
	if recErr := d.recorder.RecordCommand(ctx, rec); recErr != nil {
		d.logger.LogWarn("⚠️ Failed to journal command %s: %v", intent, recErr)
	}
}

func asDeviceError(intent Intent, err error) *berrors.DeviceCommandError {
	var devErr *berrors.DeviceCommandError
	if errors.As(err, &devErr) {
		return devErr
	}
	return berrors.NewDeviceCommandError(intent.String(), err)
}

func newParseError(text string, err error) *berrors.DecodeError {
	return berrors.NewDecodeError("parse command", err, text)
}
