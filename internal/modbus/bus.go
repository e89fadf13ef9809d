package modbus

import (
	"errors"
	"fmt"
	"time"
)

// Bus is one Modbus RTU backend bound to a serial line.
type Bus interface {
	Open() error
	Close() error
	SetUnitID(id uint8) error
	ReadCoils(addr, quantity uint16) ([]bool, error)
	ReadDiscreteInputs(addr, quantity uint16) ([]bool, error)
	ReadHoldingRegisters(addr, quantity uint16) ([]uint16, error)
	WriteCoil(addr uint16, value bool) error
	WriteRegister(addr, value uint16) error
}

type Driver string

const (
	DriverSimonvetter Driver = "simonvetter"
	DriverGoburrow    Driver = "goburrow"
)

type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   string // N, E or O
	StopBits int
	Timeout  time.Duration
	SlaveID  uint8
}

// Function codes used by the bridge.
const (
	FuncReadCoils            byte = 0x01
	FuncReadDiscreteInputs   byte = 0x02
	FuncReadHoldingRegisters byte = 0x03
	FuncWriteSingleCoil      byte = 0x05
	FuncWriteSingleRegister  byte = 0x06
)

func NewBus(driver Driver, cfg SerialConfig) (Bus, error) {
	switch driver {
	case DriverSimonvetter, "":
		return newSimonvetterBus(cfg)
	case DriverGoburrow:
		return newGoburrowBus(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported modbus driver %q", driver)
	}
}

// ExceptionError is a Modbus exception response returned by the slave.
// Exceptions mean the line works, so they are never retried.
type ExceptionError struct {
	Function byte
	Code     byte
	Err      error
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception 0x%02X on function 0x%02X: %v", e.Code, e.Function, e.Err)
}

func (e *ExceptionError) Unwrap() error {
	return e.Err
}

func IsException(err error) bool {
	var ex *ExceptionError
	return errors.As(err, &ex)
}
