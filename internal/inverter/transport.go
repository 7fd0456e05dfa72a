package inverter

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/goburrow/serial"
)

const (
	rtuHeaderSize    = 3 // slave id, function code, byte count or exception code
	rtuCRCSize       = 2
	exceptionBit     = 0x80
	maxRTUFrameBytes = 256
)

// PortOpener opens the serial port; serial.Open in production
type PortOpener func(c *serial.Config) (io.ReadWriteCloser, error)

func openSerial(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(c)
}

// rtuTransport implements modbus.Transporter for the inverter's RTU link.
// Every response the inverter sends (fc 0x03, 0x04 and the passive-mode
// fc 0x42) carries a byte count after the function code, so frames are
// read by length rather than by inter-frame silence. The port is opened
// on first use and dropped after any I/O error so the next request
// reopens it.
type rtuTransport struct {
	mu     sync.Mutex
	config serial.Config
	open   PortOpener
	port   io.ReadWriteCloser
}

func newRTUTransport(config serial.Config, open PortOpener) *rtuTransport {
	if open == nil {
		open = openSerial
	}
	return &rtuTransport{config: config, open: open}
}

// Connect opens the port if it is not already open
func (t *rtuTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connect()
}

func (t *rtuTransport) connect() error {
	if t.port != nil {
		return nil
	}
	port, err := t.open(&t.config)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.config.Address, err)
	}
	t.port = port
	return nil
}

// Close closes the port
func (t *rtuTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.close()
}

func (t *rtuTransport) close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}

// Send writes one request ADU and reads back one response ADU
func (t *rtuTransport) Send(aduRequest []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connect(); err != nil {
		return nil, err
	}

	resp, err := t.roundTrip(aduRequest)
	if err != nil {
		if closeErr := t.close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}
	return resp, nil
}

func (t *rtuTransport) roundTrip(aduRequest []byte) ([]byte, error) {
	if _, err := t.port.Write(aduRequest); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	frame := make([]byte, rtuHeaderSize, maxRTUFrameBytes)
	if _, err := io.ReadFull(t.port, frame); err != nil {
		return nil, fmt.Errorf("read response header: %w", err)
	}

	remaining := rtuCRCSize
	if frame[1]&exceptionBit == 0 {
		remaining += int(frame[2])
	}
	if len(frame)+remaining > maxRTUFrameBytes {
		return nil, fmt.Errorf("response length %d exceeds RTU frame size", len(frame)+remaining)
	}

	frame = frame[:len(frame)+remaining]
	if _, err := io.ReadFull(t.port, frame[rtuHeaderSize:]); err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return frame, nil
}
