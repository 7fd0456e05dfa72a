package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/recovery"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
)

type fakeReader struct {
	results []error // nil entries succeed
	calls   int
}

func (f *fakeReader) ReadHolding() (registers.Block, error) {
	i := f.calls
	f.calls++
	if i < len(f.results) && f.results[i] != nil {
		return nil, f.results[i]
	}
	return registers.Block{16: 75}, nil
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func failures(n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = errors.New("timeout")
	}
	return out
}

func newTestPoller(t *testing.T, reader Reader) (*Poller, *sleepRecorder) {
	t.Helper()
	p, err := New(Config{SlaveID: 1, Ceiling: recovery.DefaultCeiling, BackoffUnit: 10 * time.Second}, reader)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	rec := &sleepRecorder{}
	p.SetSleep(rec.sleep)
	return p, rec
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		reader Reader
	}{
		{"nil reader", Config{Ceiling: 10}, nil},
		{"zero ceiling", Config{Ceiling: 0}, &fakeReader{}},
		{"negative unit", Config{Ceiling: 10, BackoffUnit: -time.Second}, &fakeReader{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, tt.reader); err == nil {
				t.Error("Expected validation error, got nil")
			}
		})
	}
}

func TestPollOnce_Success(t *testing.T) {
	p, rec := newTestPoller(t, &fakeReader{})

	block, err := p.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce err=%v", err)
	}
	if block[16] != 75 {
		t.Errorf("Expected block to be returned, got %v", block)
	}
	if len(rec.waits) != 0 {
		t.Errorf("Expected no backoff, got %v", rec.waits)
	}
	if p.Health().State() != recovery.Healthy {
		t.Errorf("Expected healthy link, got %s", p.Health().State())
	}
}

func TestPollOnce_RecoversAfterTwoFailures(t *testing.T) {
	p, rec := newTestPoller(t, &fakeReader{results: failures(2)})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.PollOnce(ctx)
		var transportErr *berrors.TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("Attempt %d: expected TransportError, got %v", i+1, err)
		}
	}
	if p.Health().State() != recovery.Degraded {
		t.Errorf("Expected degraded link, got %s", p.Health().State())
	}

	if _, err := p.PollOnce(ctx); err != nil {
		t.Fatalf("Expected third read to succeed, got %v", err)
	}

	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if len(rec.waits) != len(want) {
		t.Fatalf("Expected waits %v, got %v", want, rec.waits)
	}
	for i := range want {
		if rec.waits[i] != want[i] {
			t.Errorf("Wait %d: expected %v, got %v", i, want[i], rec.waits[i])
		}
	}
	if h := p.Health(); h.ConsecutiveFailures != 0 || h.State() != recovery.Healthy {
		t.Errorf("Expected reset health, got %+v", h)
	}
}

func TestPollOnce_CeilingIsFatal(t *testing.T) {
	reader := &fakeReader{results: failures(20)}
	p, rec := newTestPoller(t, reader)
	ctx := context.Background()

	for i := 1; i <= recovery.DefaultCeiling; i++ {
		_, err := p.PollOnce(ctx)
		var fatal *berrors.FatalLinkError
		if errors.As(err, &fatal) {
			t.Fatalf("Attempt %d: unexpected fatal error", i)
		}
	}

	// nine waits: the tenth failure kills the link without sleeping
	if len(rec.waits) != recovery.DefaultCeiling-1 {
		t.Errorf("Expected %d waits, got %d", recovery.DefaultCeiling-1, len(rec.waits))
	}
	if last := rec.waits[len(rec.waits)-1]; last != 90*time.Second {
		t.Errorf("Expected last wait 90s, got %v", last)
	}
	if p.Health().State() != recovery.Dead {
		t.Fatalf("Expected dead link, got %s", p.Health().State())
	}

	calls := reader.calls
	_, err := p.PollOnce(ctx)
	var fatal *berrors.FatalLinkError
	if !errors.As(err, &fatal) {
		t.Fatalf("Expected FatalLinkError, got %v", err)
	}
	if fatal.Failures != recovery.DefaultCeiling {
		t.Errorf("Expected %d failures, got %d", recovery.DefaultCeiling, fatal.Failures)
	}
	if reader.calls != calls {
		t.Error("Expected no read attempt once the link is dead")
	}
	if berrors.IsRecoverable(err) {
		t.Error("Expected fatal link error to be unrecoverable")
	}
}

func TestPollOnce_KeepsTypedTransportError(t *testing.T) {
	orig := berrors.NewTransportError("read", errors.New("crc mismatch"), 1, 0x03, 0x0200)
	p, _ := newTestPoller(t, &fakeReader{results: []error{orig}})

	_, err := p.PollOnce(context.Background())
	var transportErr *berrors.TransportError
	if !errors.As(err, &transportErr) || transportErr != orig {
		t.Errorf("Expected wrapped TransportError, got %v", err)
	}
}

func TestPollOnce_DecodeFailureCountsAsReadFailure(t *testing.T) {
	decodeErr := berrors.NewDecodeError("decode register block", errors.New("odd length"), "")
	p, _ := newTestPoller(t, &fakeReader{results: []error{decodeErr}})

	_, err := p.PollOnce(context.Background())
	var transportErr *berrors.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	var wrapped *berrors.DecodeError
	if !errors.As(err, &wrapped) {
		t.Error("Expected DecodeError to remain in the chain")
	}
	if p.Health().ConsecutiveFailures != 1 {
		t.Errorf("Expected 1 failure, got %d", p.Health().ConsecutiveFailures)
	}
}

func TestSleepContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("Expected nil for zero wait, got %v", err)
	}
}
