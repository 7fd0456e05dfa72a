// Package services runs the bridge's long-lived loops: the poll/publish/
// dispatch cycle and the availability heartbeat.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/command"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/config"
	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/health"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/recovery"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/telemetry"
)

// ErrNoSamples is wrapped by the DecodeError returned when a block decodes
// to nothing
var ErrNoSamples = errors.New("no register in block matched the register map")

// CyclePoller is the read side of the cycle
type CyclePoller interface {
	PollOnce(ctx context.Context) (registers.Block, error)
	Health() recovery.LinkHealth
}

// StatusPublisher publishes availability and diagnostics
type StatusPublisher interface {
	PublishStatusOnline(ctx context.Context) error
	PublishStatusOffline(ctx context.Context) error
	PublishDiagnostic(ctx context.Context, code int, message string) error
}

// CycleSink receives every successfully decoded cycle
type CycleSink interface {
	WriteCycle(samples []registers.Sample, counters []registers.Counter, at time.Time)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// BridgeDeps are the collaborators of the bridge loop. Status and Sink
// are optional.
type BridgeDeps struct {
	Poller     CyclePoller
	Registers  *registers.Map
	Publisher  *telemetry.Publisher
	Dispatcher *command.Dispatcher
	Slot       *command.Slot
	Monitor    *health.LinkMonitor
	Status     StatusPublisher
	Sink       CycleSink
}

// BridgeService drives poll → decode → publish → dispatch on a fixed cadence
type BridgeService struct {
	deps       BridgeDeps
	settings   config.PollingSettings
	errHandler *berrors.ErrorHandler
	sleep      SleepFunc
	now        func() time.Time

	// Performance tracking
	cycles          int
	successfulReads int
	errorReads      int
	published       int
	publishErrors   int
	commands        int
	lastSummaryTime time.Time
	linkDown        bool
}

// NewBridgeService creates the bridge loop
func NewBridgeService(deps BridgeDeps, settings config.PollingSettings) (*BridgeService, error) {
	switch {
	case deps.Poller == nil:
		return nil, errors.New("bridge: poller required")
	case deps.Registers == nil:
		return nil, errors.New("bridge: register map required")
	case deps.Publisher == nil:
		return nil, errors.New("bridge: telemetry publisher required")
	case deps.Dispatcher == nil:
		return nil, errors.New("bridge: command dispatcher required")
	case deps.Slot == nil:
		return nil, errors.New("bridge: command slot required")
	}
	if deps.Monitor == nil {
		deps.Monitor = health.NewLinkMonitor(health.DefaultWindow)
	}

	return &BridgeService{
		deps:            deps,
		settings:        settings,
		errHandler:      berrors.NewErrorHandler(deps.Status),
		sleep:           sleepContext,
		now:             time.Now,
		lastSummaryTime: time.Now(),
	}, nil
}

// SetSleep replaces the inter-cycle wait, used by tests
func (s *BridgeService) SetSleep(fn SleepFunc) {
	if fn != nil {
		s.sleep = fn
	}
}

// SetSink attaches a cycle sink after construction (e.g. once InfluxDB
// is reachable)
func (s *BridgeService) SetSink(sink CycleSink) {
	s.deps.Sink = sink
}

// Run executes cycles until ctx is cancelled or the link is declared
// dead. It returns ctx.Err() on cancellation and the *FatalLinkError
// otherwise.
func (s *BridgeService) Run(ctx context.Context) error {
	logger.LogInfo("🔄 Bridge loop started with interval: %v", s.settings.CycleInterval)
	if logger.IsDebugEnabled() {
		for _, spec := range s.deps.Registers.Specs() {
			logger.LogDebug("📋 0x%04X %s", registers.HoldingStart+spec.Offset, spec.Name)
		}
	}

	for {
		err := s.RunCycle(ctx)

		if err != nil && !berrors.IsRecoverable(err) {
			s.errHandler.Handle(ctx, err)
			return err
		}
		if ctx.Err() != nil {
			logger.LogDebug("🔄 Bridge loop stopped")
			return ctx.Err()
		}

		if err := s.sleep(ctx, s.settings.CycleInterval); err != nil {
			logger.LogDebug("🔄 Bridge loop stopped")
			return err
		}
	}
}

// RunCycle runs one cycle. A pending command is dispatched even when the
// read failed, but never once ctx is cancelled; it then stays in the slot.
// The returned error is the read or decode failure, if any; command
// failures are reported through the error handler only.
func (s *BridgeService) RunCycle(ctx context.Context) error {
	s.cycles++

	block, err := s.deps.Poller.PollOnce(ctx)

	var fatal *berrors.FatalLinkError
	if errors.As(err, &fatal) {
		return err
	}

	var cycleErr error
	if err != nil {
		s.recordReadError(ctx, err)
		cycleErr = err
	} else {
		s.recordReadSuccess(ctx)
		cycleErr = s.publishBlock(ctx, block)
	}

	if ctx.Err() != nil {
		if cycleErr == nil {
			cycleErr = ctx.Err()
		}
		return cycleErr
	}

	s.dispatchPending(ctx)
	s.maybeLogSummary()
	return cycleErr
}

func (s *BridgeService) publishBlock(ctx context.Context, block registers.Block) error {
	samples := s.deps.Registers.Decode(block)
	if len(samples) == 0 {
		decodeErr := berrors.NewDecodeError("decode cycle", ErrNoSamples, fmt.Sprintf("%d registers", len(block)))
		s.errHandler.Handle(ctx, decodeErr)
		return decodeErr
	}

	if logger.IsTraceEnabled() {
		for _, sample := range samples {
			logger.LogTrace("📊 %s: %s", sample.Name, telemetry.FormatValue(sample.Value))
		}
	}

	report := s.deps.Publisher.PublishAll(samples)
	s.published += report.Published
	s.publishErrors += len(report.Failed)

	if s.deps.Sink != nil {
		s.deps.Sink.WriteCycle(samples, s.deps.Registers.Counters(block), s.now())
	}
	return nil
}

func (s *BridgeService) dispatchPending(ctx context.Context) {
	text, ok := s.deps.Slot.Take()
	if !ok || strings.TrimSpace(text) == "" {
		return
	}
	s.commands++
	if err := s.deps.Dispatcher.HandleText(ctx, text); err != nil {
		s.errHandler.Handle(ctx, err)
	}
}

func (s *BridgeService) recordReadError(ctx context.Context, err error) {
	s.errorReads++
	state := s.deps.Poller.Health().State()
	s.deps.Monitor.RecordError(s.now(), state)
	s.errHandler.Handle(ctx, err)

	if state == recovery.Dead && !s.linkDown {
		s.linkDown = true
		logger.LogError("🔴 Inverter marked as OFFLINE")
		if s.deps.Status != nil {
			if pubErr := s.deps.Status.PublishStatusOffline(ctx); pubErr != nil {
				logger.LogError("⚠️ Error publishing offline status: %v", pubErr)
			}
		}
	}
}

func (s *BridgeService) recordReadSuccess(ctx context.Context) {
	s.successfulReads++
	wasDegraded := s.deps.Monitor.GetLinkState() != recovery.Healthy.String()
	s.deps.Monitor.RecordSuccess(s.now())

	if wasDegraded && s.deps.Status != nil {
		if err := s.deps.Status.PublishDiagnostic(ctx, berrors.CodeOK, "Serial link restored"); err != nil {
			logger.LogError("⚠️ Error publishing recovery diagnostic: %v", err)
		}
	}
}

func (s *BridgeService) maybeLogSummary() {
	interval := s.settings.SummaryInterval
	if interval <= 0 || s.now().Sub(s.lastSummaryTime) < interval {
		return
	}
	ok, failed, published := s.GetPerformanceStats()
	logger.LogInfo("📊 Summary - Cycles: %d, Reads: %d ok / %d failed, Published: %d, Publish errors: %d, Commands: %d, Link: %s",
		s.cycles, ok, failed, published, s.publishErrors, s.commands,
		s.deps.Monitor.GetLinkState())
	s.lastSummaryTime = s.now()
	s.cycles, s.successfulReads, s.errorReads = 0, 0, 0
	s.published, s.publishErrors, s.commands = 0, 0, 0
}

// GetPerformanceStats returns counters accumulated since the last summary
func (s *BridgeService) GetPerformanceStats() (successfulReads, errorReads, published int) {
	return s.successfulReads, s.errorReads, s.published
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
