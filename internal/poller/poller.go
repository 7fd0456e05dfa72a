// Package poller reads the inverter's holding block and applies linear
// backoff between failed reads until the serial link is declared dead.
package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/metrics"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/recovery"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
)

// Reader abstracts the device read the poller depends on
type Reader interface {
	ReadHolding() (registers.Block, error)
}

// Config is the runtime config the poller needs
type Config struct {
	SlaveID     uint8
	Ceiling     int           // consecutive failures before the link is dead
	BackoffUnit time.Duration // wait after the k-th failure is k × BackoffUnit
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller performs one holding-block read per call and owns the link health
type Poller struct {
	cfg     Config
	reader  Reader
	metrics metrics.MetricsCollector
	sleep   SleepFunc

	mu      sync.Mutex
	health  *recovery.LinkHealth
	lastErr error
}

// New creates a poller with immutable config
func New(cfg Config, reader Reader) (*Poller, error) {
	if reader == nil {
		return nil, errors.New("poller: reader required")
	}
	if cfg.Ceiling <= 0 {
		return nil, errors.New("poller: ceiling must be > 0")
	}
	if cfg.BackoffUnit < 0 {
		return nil, errors.New("poller: backoff unit must be >= 0")
	}
	return &Poller{
		cfg:     cfg,
		reader:  reader,
		metrics: metrics.NewNullMetrics(),
		sleep:   sleepContext,
		health:  recovery.NewLinkHealth(cfg.Ceiling),
	}, nil
}

// SetMetrics installs a metrics collector
func (p *Poller) SetMetrics(m metrics.MetricsCollector) {
	if m != nil {
		p.metrics = m
	}
}

// SetSleep replaces the backoff wait, used by tests
func (p *Poller) SetSleep(fn SleepFunc) {
	if fn != nil {
		p.sleep = fn
	}
}

// PollOnce performs exactly one read attempt.
//
// On success the failure count is reset. On failure the count grows, the
// poller waits failures × BackoffUnit and returns a *TransportError. Once
// the ceiling is reached no further reads are attempted and every call
// returns a *FatalLinkError.
func (p *Poller) PollOnce(ctx context.Context) (registers.Block, error) {
	p.mu.Lock()
	if p.health.State() == recovery.Dead {
		failures, last := p.health.ConsecutiveFailures, p.lastErr
		p.mu.Unlock()
		return nil, berrors.NewFatalLinkError(failures, last)
	}
	p.mu.Unlock()

	start := time.Now()
	block, err := p.reader.ReadHolding()
	p.metrics.ObserveModbusReadDuration(time.Since(start))

	if err == nil {
		p.recordSuccess()
		return block, nil
	}

	transportErr := p.asTransportError(err)
	backoff, state, failures := p.recordFailure(transportErr)

	if state == recovery.Dead {
		down := p.Health().GetTimeSinceFirstFailure().Round(time.Second)
		logger.LogError("🔴 Serial link dead after %d consecutive failures over %v: %v", failures, down, err)
		return nil, transportErr
	}

	logger.LogWarn("⚠️ Read failed (%d/%d), retrying in %v: %v", failures, p.cfg.Ceiling, backoff, err)
	if sleepErr := p.sleep(ctx, backoff); sleepErr != nil {
		logger.LogDebug("Backoff interrupted: %v", sleepErr)
	}
	return nil, transportErr
}

// Health returns a snapshot of the link health
func (p *Poller) Health() recovery.LinkHealth {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.health.Snapshot()
}

func (p *Poller) recordSuccess() {
	p.mu.Lock()
	recovered := p.health.ConsecutiveFailures > 0
	p.health.RecordSuccess()
	p.lastErr = nil
	p.mu.Unlock()

	if recovered {
		logger.LogInfo("🟢 Serial link recovered")
	}
	p.metrics.IncrementModbusReads()
	p.metrics.SetConsecutiveFailures(0)
	p.metrics.SetLinkState(recovery.Healthy.String())
}

func (p *Poller) recordFailure(err error) (time.Duration, recovery.LinkState, int) {
	p.mu.Lock()
	p.lastErr = err
	backoff := p.health.RecordFailure(p.cfg.BackoffUnit)
	state := p.health.State()
	failures := p.health.ConsecutiveFailures
	p.mu.Unlock()

	p.metrics.IncrementModbusErrors()
	p.metrics.SetConsecutiveFailures(failures)
	p.metrics.SetLinkState(state.String())
	return backoff, state, failures
}

func (p *Poller) asTransportError(err error) *berrors.TransportError {
	var transportErr *berrors.TransportError
	if errors.As(err, &transportErr) {
		return transportErr
	}
	return berrors.NewTransportError("read holding registers", err, p.cfg.SlaveID, 0x03, registers.HoldingStart)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
