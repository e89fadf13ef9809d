package modbus

import (
	"errors"
	"fmt"
	"strings"

	"github.com/simonvetter/modbus"
)

type simonvetterBus struct {
	client *modbus.ModbusClient
}

var simonvetterExceptions = []struct {
	err  error
	code byte
}{
	{modbus.ErrIllegalFunction, 0x01},
	{modbus.ErrIllegalDataAddress, 0x02},
	{modbus.ErrIllegalDataValue, 0x03},
	{modbus.ErrServerDeviceFailure, 0x04},
	{modbus.ErrAcknowledge, 0x05},
	{modbus.ErrServerDeviceBusy, 0x06},
	{modbus.ErrMemoryParityError, 0x08},
	{modbus.ErrGWPathUnavailable, 0x0A},
	{modbus.ErrGWTargetFailedToRespond, 0x0B},
}

func newSimonvetterBus(cfg SerialConfig) (*simonvetterBus, error) {
	parity, err := simonvetterParity(cfg.Parity)
	if err != nil {
		return nil, err
	}

	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      "rtu://" + cfg.Port,
		Speed:    uint(cfg.BaudRate),
		DataBits: uint(cfg.DataBits),
		Parity:   parity,
		StopBits: uint(cfg.StopBits),
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create modbus client: %w", err)
	}

	if cfg.SlaveID != 0 {
		if err := client.SetUnitId(cfg.SlaveID); err != nil {
			return nil, err
		}
	}

	return &simonvetterBus{client: client}, nil
}

func simonvetterParity(parity string) (uint, error) {
	switch strings.ToUpper(parity) {
	case "", "N":
		return modbus.PARITY_NONE, nil
	case "E":
		return modbus.PARITY_EVEN, nil
	case "O":
		return modbus.PARITY_ODD, nil
	default:
		return 0, fmt.Errorf("invalid parity %q", parity)
	}
}

func simonvetterError(function byte, err error) error {
	if err == nil {
		return nil
	}
	for _, ex := range simonvetterExceptions {
		if errors.Is(err, ex.err) {
			return &ExceptionError{Function: function, Code: ex.code, Err: err}
		}
	}
	return err
}

func (b *simonvetterBus) Open() error {
	return b.client.Open()
}

func (b *simonvetterBus) Close() error {
	return b.client.Close()
}

func (b *simonvetterBus) SetUnitID(id uint8) error {
	return b.client.SetUnitId(id)
}

func (b *simonvetterBus) ReadCoils(addr, quantity uint16) ([]bool, error) {
	bits, err := b.client.ReadCoils(addr, quantity)
	return bits, simonvetterError(FuncReadCoils, err)
}

func (b *simonvetterBus) ReadDiscreteInputs(addr, quantity uint16) ([]bool, error) {
	bits, err := b.client.ReadDiscreteInputs(addr, quantity)
	return bits, simonvetterError(FuncReadDiscreteInputs, err)
}

func (b *simonvetterBus) ReadHoldingRegisters(addr, quantity uint16) ([]uint16, error) {
	regs, err := b.client.ReadRegisters(addr, quantity, modbus.HOLDING_REGISTER)
	return regs, simonvetterError(FuncReadHoldingRegisters, err)
}

func (b *simonvetterBus) WriteCoil(addr uint16, value bool) error {
	return simonvetterError(FuncWriteSingleCoil, b.client.WriteCoil(addr, value))
}

func (b *simonvetterBus) WriteRegister(addr, value uint16) error {
	return simonvetterError(FuncWriteSingleRegister, b.client.WriteRegister(addr, value))
}
