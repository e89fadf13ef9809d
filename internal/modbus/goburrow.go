package modbus

import (
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

type goburrowBus struct {
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

func newGoburrowBus(cfg SerialConfig) *goburrowBus {
	handler := modbus.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = cfg.DataBits
	handler.Parity = cfg.Parity
	handler.StopBits = cfg.StopBits
	handler.SlaveId = cfg.SlaveID
	handler.Timeout = cfg.Timeout

	return &goburrowBus{
		handler: handler,
		client:  modbus.NewClient(handler),
	}
}

func goburrowError(err error) error {
	if err == nil {
		return nil
	}
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		// the reply carries the request function with the exception bit set
		return &ExceptionError{Function: mbErr.FunctionCode &^ 0x80, Code: mbErr.ExceptionCode, Err: err}
	}
	return err
}

// unpackReply rejects replies that carry fewer bytes than quantity bits need.
// goburrow only checks the byte count field against the payload.
func unpackReply(data []byte, quantity uint16) ([]bool, error) {
	if len(data) < (int(quantity)+7)/8 {
		return nil, fmt.Errorf("%w: got %d bytes for %d bits", ErrEmptyResponse, len(data), quantity)
	}
	return UnpackBits(data, int(quantity)), nil
}

func (b *goburrowBus) Open() error {
	return b.handler.Connect()
}

func (b *goburrowBus) Close() error {
	return b.handler.Close()
}

func (b *goburrowBus) SetUnitID(id uint8) error {
	b.handler.SlaveId = id
	return nil
}

func (b *goburrowBus) ReadCoils(addr, quantity uint16) ([]bool, error) {
	data, err := b.client.ReadCoils(addr, quantity)
	if err != nil {
		return nil, goburrowError(err)
	}
	return unpackReply(data, quantity)
}

func (b *goburrowBus) ReadDiscreteInputs(addr, quantity uint16) ([]bool, error) {
	data, err := b.client.ReadDiscreteInputs(addr, quantity)
	if err != nil {
		return nil, goburrowError(err)
	}
	return unpackReply(data, quantity)
}

func (b *goburrowBus) ReadHoldingRegisters(addr, quantity uint16) ([]uint16, error) {
	data, err := b.client.ReadHoldingRegisters(addr, quantity)
	if err != nil {
		return nil, goburrowError(err)
	}
	return UnpackRegisters(data), nil
}

func (b *goburrowBus) WriteCoil(addr uint16, value bool) error {
	v := coilOff
	if value {
		v = coilOn
	}
	_, err := b.client.WriteSingleCoil(addr, v)
	return goburrowError(err)
}

func (b *goburrowBus) WriteRegister(addr, value uint16) error {
	_, err := b.client.WriteSingleRegister(addr, value)
	return goburrowError(err)
}
