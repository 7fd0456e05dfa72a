// Package inverter drives a Sofar ME3000SP storage inverter over Modbus RTU,
// including the vendor passive-mode function code used to force charge,
// discharge, standby and auto operation.
package inverter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/goburrow/serial"

	berrors "github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/errors"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/logger"
	"github.com/Rural-Electric-Systems/Sofar-Inverter-MODBUS-to-MQTT/internal/registers"
)

// Passive-mode protocol constants
const (
	FuncWritePassive = 0x42

	RegStandby   = 0x0100
	RegDischarge = 0x0101
	RegCharge    = 0x0102
	RegAuto      = 0x0103

	StandbyValue = 0x5555
)

// Other registers read outside the main telemetry block
const (
	RegState          = 0x0200
	RegBatteryPercent = 0x0210

	InputStart    = 0x10B0
	InputQuantity = 13
)

const (
	funcReadHolding = 0x03
	funcReadInput   = 0x04
)

// States indexed by the value of RegState
var States = []string{"WAIT", "CHECK CHARGE", "CHARGE", "CHECK DISCHARGE",
	"DISCHARGE", "EPS", "FAULT", "PERM FAULT"}

// StateName returns the name of an inverter state value
func StateName(v uint16) string {
	if int(v) < len(States) {
		return States[v]
	}
	return fmt.Sprintf("UNKNOWN(%d)", v)
}

// Config is the serial link configuration
type Config struct {
	Port     string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	SlaveID  uint8
	Timeout  time.Duration
}

// ME3000 is a Sofar ME3000SP reached over one serial port. Requests are
// serialized; the driver is safe for concurrent use.
type ME3000 struct {
	mu        sync.Mutex
	slaveID   uint8
	handler   *modbus.RTUClientHandler
	transport *rtuTransport
	client    modbus.Client
}

// New creates the driver; the port is opened on first use. open may be
// nil to use the real serial port.
func New(cfg Config, open PortOpener) *ME3000 {
	// framing and CRC only; I/O goes through rtuTransport
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.SlaveId = cfg.SlaveID

	transport := newRTUTransport(serial.Config{
		Address:  cfg.Port,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}, open)

	return &ME3000{
		slaveID:   cfg.SlaveID,
		handler:   handler,
		transport: transport,
		client:    modbus.NewClient2(handler, transport),
	}
}

// Connect opens the serial port
func (d *ME3000) Connect() error {
	if err := d.transport.Connect(); err != nil {
		return berrors.NewTransportError("connect", err, d.slaveID, 0, 0)
	}
	return nil
}

// Close closes the serial port
func (d *ME3000) Close() error {
	return d.transport.Close()
}

// ReadHolding reads the telemetry block starting at RegState
func (d *ME3000) ReadHolding() (registers.Block, error) {
	return d.readBlock(funcReadHolding, registers.HoldingStart, registers.HoldingQuantity)
}

// ReadInput reads the input register block
func (d *ME3000) ReadInput() (registers.Block, error) {
	return d.readBlock(funcReadInput, InputStart, InputQuantity)
}

// InverterState returns the raw state value and its name
func (d *ME3000) InverterState() (uint16, string, error) {
	v, err := d.readSingle(RegState)
	if err != nil {
		return 0, "", err
	}
	return v, StateName(v), nil
}

// BatteryPercentage returns the battery state of charge
func (d *ME3000) BatteryPercentage() (uint16, error) {
	return d.readSingle(RegBatteryPercent)
}

func (d *ME3000) readSingle(addr uint16) (uint16, error) {
	block, err := d.readBlock(funcReadHolding, addr, 1)
	if err != nil {
		return 0, err
	}
	return block[0], nil
}

func (d *ME3000) readBlock(fc uint8, addr, qty uint16) (registers.Block, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var (
		data []byte
		err  error
	)
	if fc == funcReadInput {
		data, err = d.client.ReadInputRegisters(addr, qty)
	} else {
		data, err = d.client.ReadHoldingRegisters(addr, qty)
	}
	if err != nil {
		return nil, berrors.NewTransportError("read registers", err, d.slaveID, fc, addr)
	}

	block, err := registers.BlockFromBytes(data)
	if err != nil {
		return nil, berrors.NewTransportError("read registers", err, d.slaveID, fc, addr)
	}
	return block, nil
}

// SetAuto returns the inverter to its own charge/discharge logic
func (d *ME3000) SetAuto() error {
	return d.writePassive("AUTO", RegAuto, 0)
}

// SetStandby stops charging and discharging
func (d *ME3000) SetStandby() error {
	return d.writePassive("STANDBY", RegStandby, StandbyValue)
}

// SetCharge forces the battery to charge at watts
func (d *ME3000) SetCharge(watts int) error {
	return d.writePassive("CHARGE", RegCharge, watts)
}

// SetDischarge forces the battery to discharge at watts
func (d *ME3000) SetDischarge(watts int) error {
	return d.writePassive("DISCHARGE", RegDischarge, watts)
}

// writePassive sends fc 0x42: address (2 bytes) + signed value (2 bytes).
// The response carries a byte count of 2 and a status word.
func (d *ME3000) writePassive(name string, addr uint16, value int) error {
	if value < math.MinInt16 || value > math.MaxInt16 {
		return berrors.NewDeviceCommandError(name,
			fmt.Errorf("value %d does not fit a signed 16-bit register", value))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:], addr)
	binary.BigEndian.PutUint16(data[2:], uint16(int16(value)))

	request := &modbus.ProtocolDataUnit{FunctionCode: FuncWritePassive, Data: data}
	aduRequest, err := d.handler.Encode(request)
	if err != nil {
		return berrors.NewTransportError("encode passive write", err, d.slaveID, FuncWritePassive, addr)
	}

	aduResponse, err := d.transport.Send(aduRequest)
	if err != nil {
		return berrors.NewTransportError("passive write", err, d.slaveID, FuncWritePassive, addr)
	}
	if err := d.handler.Verify(aduRequest, aduResponse); err != nil {
		return berrors.NewTransportError("passive write", err, d.slaveID, FuncWritePassive, addr)
	}
	response, err := d.handler.Decode(aduResponse)
	if err != nil {
		return berrors.NewTransportError("passive write", err, d.slaveID, FuncWritePassive, addr)
	}

	if response.FunctionCode != FuncWritePassive {
		code := byte(0)
		if len(response.Data) > 0 {
			code = response.Data[0]
		}
		return berrors.NewDeviceCommandError(name,
			&modbus.ModbusError{FunctionCode: response.FunctionCode, ExceptionCode: code})
	}
	if len(response.Data) != 3 || response.Data[0] != 2 {
		return berrors.NewTransportError("passive write", errors.New("malformed passive write response"),
			d.slaveID, FuncWritePassive, addr)
	}

	status := binary.BigEndian.Uint16(response.Data[1:])
	logger.LogDebug("🔧 Passive write %s (0x%04X = %d) acknowledged, status 0x%04X", name, addr, value, status)
	return nil
}
