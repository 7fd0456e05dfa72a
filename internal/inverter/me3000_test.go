package inverter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
)

// fakePort answers each written request with the frame returned by respond
type fakePort struct {
	written [][]byte
	respond func(req []byte) []byte
	buf     bytes.Buffer
	closed  bool
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.written = append(f.written, append([]byte(nil), p...))
	if f.respond != nil {
		f.buf.Write(f.respond(p))
	}
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	if f.buf.Len() == 0 {
		return 0, errors.New("serial: timeout")
	}
	return f.buf.Read(p)
}

func (f *fakePort) Close() error {
	f.closed = true
	return nil
}

// frame builds a valid RTU frame for slave 1
func frame(t *testing.T, fc byte, data []byte) []byte {
	t.Helper()
	h := modbus.NewRTUClientHandler("")
	h.SlaveId = 1
	adu, err := h.Encode(&modbus.ProtocolDataUnit{FunctionCode: fc, Data: data})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return adu
}

func registerPayload(values []uint16) []byte {
	out := make([]byte, 1+len(values)*2)
	out[0] = byte(len(values) * 2)
	for i, v := range values {
		binary.BigEndian.PutUint16(out[1+i*2:], v)
	}
	return out
}

func newTestDevice(t *testing.T, port *fakePort) (*ME3000, *int) {
	t.Helper()
	opens := 0
	open := func(c *serial.Config) (io.ReadWriteCloser, error) {
		opens++
		if c.Address != "/dev/ttyTEST" || c.BaudRate != 9600 {
			t.Errorf("Unexpected serial config %+v", c)
		}
		return port, nil
	}
	d := New(Config{
		Port:     "/dev/ttyTEST",
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		SlaveID:  1,
		Timeout:  time.Second,
	}, open)
	return d, &opens
}

func TestReadHolding(t *testing.T) {
	values := make([]uint16, 69)
	values[16] = 7500
	values[13] = 65500

	port := &fakePort{}
	port.respond = func(req []byte) []byte {
		return frame(t, 0x03, registerPayload(values))
	}
	d, _ := newTestDevice(t, port)

	block, err := d.ReadHolding()
	if err != nil {
		t.Fatalf("ReadHolding failed: %v", err)
	}
	if len(block) != 69 {
		t.Errorf("Expected 69 registers, got %d", len(block))
	}
	if block[16] != 7500 || block[13] != 65500 {
		t.Errorf("Unexpected block values: 16=%d 13=%d", block[16], block[13])
	}

	req := port.written[0]
	if req[0] != 1 || req[1] != 0x03 {
		t.Errorf("Expected fc 0x03 request to slave 1, got % X", req)
	}
	if addr := binary.BigEndian.Uint16(req[2:]); addr != 0x0200 {
		t.Errorf("Expected start address 0x0200, got 0x%04X", addr)
	}
	if qty := binary.BigEndian.Uint16(req[4:]); qty != 69 {
		t.Errorf("Expected quantity 69, got %d", qty)
	}
}

func TestReadInput(t *testing.T) {
	port := &fakePort{}
	port.respond = func(req []byte) []byte {
		return frame(t, 0x04, registerPayload(make([]uint16, InputQuantity)))
	}
	d, _ := newTestDevice(t, port)

	block, err := d.ReadInput()
	if err != nil {
		t.Fatalf("ReadInput failed: %v", err)
	}
	if len(block) != InputQuantity {
		t.Errorf("Expected %d registers, got %d", InputQuantity, len(block))
	}
	if addr := binary.BigEndian.Uint16(port.written[0][2:]); addr != InputStart {
		t.Errorf("Expected start address 0x%04X, got 0x%04X", InputStart, addr)
	}
}

func TestInverterStateAndBattery(t *testing.T) {
	port := &fakePort{}
	port.respond = func(req []byte) []byte {
		if binary.BigEndian.Uint16(req[2:]) == RegBatteryPercent {
			return frame(t, 0x03, registerPayload([]uint16{87}))
		}
		return frame(t, 0x03, registerPayload([]uint16{4}))
	}
	d, _ := newTestDevice(t, port)

	v, name, err := d.InverterState()
	if err != nil {
		t.Fatalf("InverterState failed: %v", err)
	}
	if v != 4 || name != "DISCHARGE" {
		t.Errorf("Expected 4/DISCHARGE, got %d/%s", v, name)
	}

	pct, err := d.BatteryPercentage()
	if err != nil {
		t.Fatalf("BatteryPercentage failed: %v", err)
	}
	if pct != 87 {
		t.Errorf("Expected 87, got %d", pct)
	}
}

func TestStateName(t *testing.T) {
	if StateName(7) != "PERM FAULT" {
		t.Errorf("Expected PERM FAULT, got %s", StateName(7))
	}
	if StateName(42) != "UNKNOWN(42)" {
		t.Errorf("Expected UNKNOWN(42), got %s", StateName(42))
	}
}

func TestPassiveWrites(t *testing.T) {
	tests := []struct {
		name  string
		call  func(d *ME3000) error
		addr  uint16
		value int16
	}{
		{"auto", func(d *ME3000) error { return d.SetAuto() }, RegAuto, 0},
		{"standby", func(d *ME3000) error { return d.SetStandby() }, RegStandby, 0x5555},
		{"charge", func(d *ME3000) error { return d.SetCharge(2000) }, RegCharge, 2000},
		{"discharge", func(d *ME3000) error { return d.SetDischarge(1500) }, RegDischarge, 1500},
		{"negative", func(d *ME3000) error { return d.SetCharge(-100) }, RegCharge, -100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port := &fakePort{}
			port.respond = func(req []byte) []byte {
				return frame(t, FuncWritePassive, []byte{0x02, 0x00, 0x00})
			}
			d, _ := newTestDevice(t, port)

			if err := tt.call(d); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			req := port.written[0]
			if len(req) != 8 {
				t.Fatalf("Expected 8-byte request, got % X", req)
			}
			if req[1] != FuncWritePassive {
				t.Errorf("Expected fc 0x42, got 0x%02X", req[1])
			}
			if addr := binary.BigEndian.Uint16(req[2:]); addr != tt.addr {
				t.Errorf("Expected address 0x%04X, got 0x%04X", tt.addr, addr)
			}
			if value := int16(binary.BigEndian.Uint16(req[4:])); value != tt.value {
				t.Errorf("Expected value %d, got %d", tt.value, value)
			}
		})
	}
}

func TestPassiveWriteOutOfRangeNeverSends(t *testing.T) {
	port := &fakePort{}
	d, opens := newTestDevice(t, port)

	for _, watts := range []int{40000, -40000} {
		err := d.SetCharge(watts)
		var devErr *berrors.DeviceCommandError
		if !errors.As(err, &devErr) {
			t.Errorf("Expected DeviceCommandError for %d, got %v", watts, err)
		}
	}
	if len(port.written) != 0 || *opens != 0 {
		t.Error("Expected no I/O for out-of-range power")
	}
}

func TestPassiveWriteException(t *testing.T) {
	port := &fakePort{}
	port.respond = func(req []byte) []byte {
		return frame(t, FuncWritePassive|0x80, []byte{0x02})
	}
	d, _ := newTestDevice(t, port)

	err := d.SetDischarge(1000)
	var devErr *berrors.DeviceCommandError
	if !errors.As(err, &devErr) {
		t.Fatalf("Expected DeviceCommandError, got %v", err)
	}
	var modbusErr *modbus.ModbusError
	if !errors.As(err, &modbusErr) || modbusErr.ExceptionCode != 2 {
		t.Errorf("Expected modbus exception 2 in chain, got %v", err)
	}
}

func TestTimeoutIsTransportErrorAndReopens(t *testing.T) {
	port := &fakePort{} // never answers
	d, opens := newTestDevice(t, port)

	_, err := d.ReadHolding()
	var transportErr *berrors.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if transportErr.FunctionCode != 0x03 || transportErr.Address != 0x0200 {
		t.Errorf("Unexpected error context: %+v", transportErr)
	}
	if !port.closed {
		t.Error("Expected port to be closed after a failed exchange")
	}

	_, _ = d.ReadHolding()
	if *opens != 2 {
		t.Errorf("Expected port to be reopened, opened %d times", *opens)
	}
}

func TestCorruptCRCIsTransportError(t *testing.T) {
	port := &fakePort{}
	port.respond = func(req []byte) []byte {
		f := frame(t, 0x03, registerPayload([]uint16{1}))
		f[len(f)-1] ^= 0xFF
		return f
	}
	d, _ := newTestDevice(t, port)

	_, err := d.BatteryPercentage()
	var transportErr *berrors.TransportError
	if !errors.As(err, &transportErr) {
		t.Errorf("Expected TransportError, got %v", err)
	}
}
