package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/command"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/config"
	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/health"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/poller"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/recovery"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/telemetry"
)

type pollResult struct {
	block registers.Block
	err   error
}

type fakePoller struct {
	results []pollResult
	calls   int
	state   recovery.LinkState
}

func (f *fakePoller) PollOnce(ctx context.Context) (registers.Block, error) {
	r := f.results[f.calls%len(f.results)]
	f.calls++
	if r.err != nil && f.state == recovery.Healthy {
		f.state = recovery.Degraded
	}
	if r.err == nil {
		f.state = recovery.Healthy
	}
	return r.block, r.err
}

func (f *fakePoller) Health() recovery.LinkHealth {
	h := recovery.NewLinkHealth(3)
	switch f.state {
	case recovery.Degraded:
		h.ConsecutiveFailures = 1
	case recovery.Dead:
		h.ConsecutiveFailures = 3
	}
	return *h
}

type fakeBus struct {
	mu   sync.Mutex
	sent map[string]string
}

func (f *fakeBus) Publish(topic, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string]string{}
	}
	f.sent[topic] = payload
	return nil
}

type fakeDevice struct {
	calls []string
	err   error
}

func (d *fakeDevice) SetAuto() error           { d.calls = append(d.calls, "AUTO"); return d.err }
func (d *fakeDevice) SetCharge(w int) error    { d.calls = append(d.calls, "CHARGE"); return d.err }
func (d *fakeDevice) SetDischarge(w int) error { d.calls = append(d.calls, "DISCHARGE"); return d.err }
func (d *fakeDevice) SetStandby() error        { d.calls = append(d.calls, "STANDBY"); return d.err }

type fakeStatus struct {
	online, offline int
	diagnostics     []int
}

func (f *fakeStatus) PublishStatusOnline(ctx context.Context) error  { f.online++; return nil }
func (f *fakeStatus) PublishStatusOffline(ctx context.Context) error { f.offline++; return nil }
func (f *fakeStatus) PublishDiagnostic(ctx context.Context, code int, message string) error {
	f.diagnostics = append(f.diagnostics, code)
	return nil
}

type fakeSink struct {
	cycles   int
	counters []registers.Counter
}

func (f *fakeSink) WriteCycle(samples []registers.Sample, counters []registers.Counter, at time.Time) {
	f.cycles++
	f.counters = counters
}

type harness struct {
	poller *fakePoller
	bus    *fakeBus
	device *fakeDevice
	status *fakeStatus
	sink   *fakeSink
	slot   *command.Slot
	bridge *BridgeService
}

func testMap(t *testing.T) *registers.Map {
	t.Helper()
	m, err := registers.NewMap(
		registers.RegisterSpec{Offset: 13, Name: "batt_power", Encoding: registers.Signed16, Scale: 10},
		registers.RegisterSpec{Offset: 16, Name: "batt_soc", Encoding: registers.Unsigned16, Scale: 1},
		registers.RegisterSpec{Offset: 28, Name: "total_pv_gen_HB", Encoding: registers.Unsigned16, Scale: registers.HighWordScale},
		registers.RegisterSpec{Offset: 29, Name: "total_pv_gen_LB", Encoding: registers.Unsigned16, Scale: 1},
	)
	if err != nil {
		t.Fatalf("failed to build map: %v", err)
	}
	return m
}

func newHarness(t *testing.T, results ...pollResult) *harness {
	t.Helper()
	h := &harness{
		poller: &fakePoller{results: results},
		bus:    &fakeBus{},
		device: &fakeDevice{},
		status: &fakeStatus{},
		sink:   &fakeSink{},
		slot:   &command.Slot{},
	}
	bridge, err := NewBridgeService(BridgeDeps{
		Poller:     h.poller,
		Registers:  testMap(t),
		Publisher:  telemetry.New(h.bus, "sensors/sofar/", nil),
		Dispatcher: command.NewDispatcher(h.device, nil, nil),
		Slot:       h.slot,
		Monitor:    health.NewLinkMonitor(10),
		Status:     h.status,
		Sink:       h.sink,
	}, config.PollingSettings{CycleInterval: time.Second, SummaryInterval: 30 * time.Second})
	if err != nil {
		t.Fatalf("NewBridgeService failed: %v", err)
	}
	bridge.SetSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() })
	h.bridge = bridge
	return h
}

func TestNewBridgeServiceValidation(t *testing.T) {
	if _, err := NewBridgeService(BridgeDeps{}, config.PollingSettings{}); err == nil {
		t.Error("Expected error for missing poller")
	}
}

func TestRunCyclePublishesDecodedSamples(t *testing.T) {
	h := newHarness(t, pollResult{block: registers.Block{13: 65500, 16: 7500, 28: 1, 29: 10}})

	if err := h.bridge.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}

	if h.bus.sent["sensors/sofar/batt_soc"] != "7500" {
		t.Errorf("Expected batt_soc 7500, got %q", h.bus.sent["sensors/sofar/batt_soc"])
	}
	if h.bus.sent["sensors/sofar/batt_power"] != "-360" {
		t.Errorf("Expected batt_power -360, got %q", h.bus.sent["sensors/sofar/batt_power"])
	}
	if h.bus.sent["sensors/sofar/total_pv_gen_HB"] != "65535" {
		t.Errorf("Expected raw high half 65535, got %q", h.bus.sent["sensors/sofar/total_pv_gen_HB"])
	}
	if h.sink.cycles != 1 || len(h.sink.counters) != 1 || h.sink.counters[0].Value != 65546 {
		t.Errorf("Expected sink to receive recombined counter, got %+v", h.sink.counters)
	}
	ok, failed, published := h.bridge.GetPerformanceStats()
	if ok != 1 || failed != 0 || published != 4 {
		t.Errorf("Expected stats 1/0/4, got %d/%d/%d", ok, failed, published)
	}
}

func TestRunCycleEmptyDecodeIsDecodeError(t *testing.T) {
	h := newHarness(t, pollResult{block: registers.Block{99: 1}})

	err := h.bridge.RunCycle(context.Background())

	var decodeErr *berrors.DecodeError
	if !errors.As(err, &decodeErr) || !errors.Is(err, ErrNoSamples) {
		t.Fatalf("Expected DecodeError wrapping ErrNoSamples, got %v", err)
	}
	if len(h.bus.sent) != 0 || h.sink.cycles != 0 {
		t.Error("Expected publish pass to be skipped")
	}
}

func TestRunCycleDispatchesAfterFailedRead(t *testing.T) {
	readErr := berrors.NewTransportError("read holding registers", errors.New("timeout"), 1, 0x03, 0x0200)
	h := newHarness(t, pollResult{err: readErr})

	h.slot.Put("CHARGE, 500")
	h.slot.Put("DISCHARGE, 1500")

	err := h.bridge.RunCycle(context.Background())
	var transportErr *berrors.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if len(h.device.calls) != 1 || h.device.calls[0] != "DISCHARGE" {
		t.Errorf("Expected only the latest command to run, got %v", h.device.calls)
	}
	if len(h.status.diagnostics) == 0 || h.status.diagnostics[0] != berrors.CodeTransport {
		t.Errorf("Expected transport diagnostic, got %v", h.status.diagnostics)
	}
}

func TestRunDoesNotDispatchAfterCancel(t *testing.T) {
	readErr := berrors.NewTransportError("read holding registers", errors.New("timeout"), 1, 0x03, 0x0200)
	h := newHarness(t, pollResult{err: readErr})
	h.slot.Put("CHARGE, 1500")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.bridge.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if len(h.device.calls) != 0 {
		t.Errorf("Expected no device calls after cancellation, got %v", h.device.calls)
	}
	if text, pending := h.slot.Take(); !pending || text != "CHARGE, 1500" {
		t.Errorf("Expected command to stay in the slot, got %q pending=%v", text, pending)
	}
}

func TestRunCycleCommandFailuresDoNotFailCycle(t *testing.T) {
	tests := []struct {
		name    string
		command string
		devErr  error
		code    int
	}{
		{"unknown keyword", "BOOST", nil, berrors.CodeDecode},
		{"missing power", "CHARGE", nil, berrors.CodeDecode},
		{"device failure", "AUTO", errors.New("no response"), berrors.CodeDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, pollResult{block: registers.Block{16: 50}})
			h.device.err = tt.devErr
			h.slot.Put(tt.command)

			if err := h.bridge.RunCycle(context.Background()); err != nil {
				t.Errorf("Expected cycle to succeed, got %v", err)
			}
			if len(h.status.diagnostics) != 1 || h.status.diagnostics[0] != tt.code {
				t.Errorf("Expected diagnostic %d, got %v", tt.code, h.status.diagnostics)
			}
		})
	}
}

func TestRunCycleIgnoresBlankCommand(t *testing.T) {
	h := newHarness(t, pollResult{block: registers.Block{16: 50}})
	h.slot.Put("   ")

	if err := h.bridge.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle failed: %v", err)
	}
	if len(h.device.calls) != 0 || len(h.status.diagnostics) != 0 {
		t.Errorf("Expected blank command to be ignored, got calls %v diagnostics %v", h.device.calls, h.status.diagnostics)
	}
	if _, pending := h.slot.Take(); pending {
		t.Error("Expected blank command to be drained")
	}
}

func TestRecoveryPublishesDiagnostic(t *testing.T) {
	h := newHarness(t,
		pollResult{err: errors.New("crc mismatch")},
		pollResult{block: registers.Block{16: 50}},
	)

	h.bridge.RunCycle(context.Background())
	h.status.diagnostics = nil
	if err := h.bridge.RunCycle(context.Background()); err != nil {
		t.Fatalf("Expected recovery, got %v", err)
	}
	if len(h.status.diagnostics) != 1 || h.status.diagnostics[0] != berrors.CodeOK {
		t.Errorf("Expected recovery diagnostic, got %v", h.status.diagnostics)
	}
}

type failingReader struct{ reads int }

func (r *failingReader) ReadHolding() (registers.Block, error) {
	r.reads++
	return nil, errors.New("no response")
}

func TestRunStopsOnDeadLink(t *testing.T) {
	reader := &failingReader{}
	p, err := poller.New(poller.Config{SlaveID: 1, Ceiling: 3, BackoffUnit: time.Second}, reader)
	if err != nil {
		t.Fatalf("poller.New failed: %v", err)
	}
	p.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })

	status := &fakeStatus{}
	monitor := health.NewLinkMonitor(10)
	bridge, err := NewBridgeService(BridgeDeps{
		Poller:     p,
		Registers:  testMap(t),
		Publisher:  telemetry.New(&fakeBus{}, "sensors/sofar/", nil),
		Dispatcher: command.NewDispatcher(&fakeDevice{}, nil, nil),
		Slot:       &command.Slot{},
		Monitor:    monitor,
		Status:     status,
	}, config.PollingSettings{CycleInterval: time.Second})
	if err != nil {
		t.Fatalf("NewBridgeService failed: %v", err)
	}
	bridge.SetSleep(func(ctx context.Context, d time.Duration) error { return nil })

	err = bridge.Run(context.Background())

	var fatal *berrors.FatalLinkError
	if !errors.As(err, &fatal) {
		t.Fatalf("Expected FatalLinkError, got %v", err)
	}
	if reader.reads != 3 {
		t.Errorf("Expected 3 reads before giving up, got %d", reader.reads)
	}
	if status.offline != 1 {
		t.Errorf("Expected one offline status, got %d", status.offline)
	}
	if monitor.IsOnline() {
		t.Error("Expected monitor to report the link offline")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, pollResult{block: registers.Block{16: 50}})
	ctx, cancel := context.WithCancel(context.Background())

	cycles := 0
	h.bridge.SetSleep(func(ctx context.Context, d time.Duration) error {
		cycles++
		if cycles == 2 {
			cancel()
		}
		return ctx.Err()
	})

	if err := h.bridge.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if h.poller.calls != 2 {
		t.Errorf("Expected 2 cycles, got %d", h.poller.calls)
	}
}

func TestSummaryResetsCounters(t *testing.T) {
	h := newHarness(t, pollResult{block: registers.Block{16: 50}})
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	h.bridge.now = func() time.Time { return now }
	h.bridge.lastSummaryTime = start

	h.bridge.RunCycle(context.Background())
	if ok, _, _ := h.bridge.GetPerformanceStats(); ok != 1 {
		t.Fatalf("Expected 1 successful read, got %d", ok)
	}

	now = start.Add(31 * time.Second)
	h.bridge.RunCycle(context.Background())
	if ok, failed, published := h.bridge.GetPerformanceStats(); ok != 0 || failed != 0 || published != 0 {
		t.Errorf("Expected counters reset after summary, got %d/%d/%d", ok, failed, published)
	}
}
