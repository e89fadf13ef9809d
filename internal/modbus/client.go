package modbus

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultBulkCount covers a full automaton output block (Q + Y).
const DefaultBulkCount = 16

var (
	ErrEmptyResponse = errors.New("empty response")
	ErrBitPosition   = errors.New("bit position out of range")
)

type ClientConfig struct {
	Name   string
	Driver Driver
	Serial SerialConfig
	Logger *zap.Logger
}

// Client serialises access to one RTU line. A transport failure closes and
// reopens the line and retries the operation once.
type Client struct {
	bus       Bus
	mu        sync.Mutex
	name      string
	port      string
	slaveID   uint8
	connected bool
	logger    *zap.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	bus, err := NewBus(cfg.Driver, cfg.Serial)
	if err != nil {
		return nil, err
	}
	return NewClientWithBus(bus, cfg), nil
}

func NewClientWithBus(bus Bus, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	slaveID := cfg.Serial.SlaveID
	if slaveID == 0 {
		slaveID = 1
	}

	c := &Client{
		bus:     bus,
		name:    cfg.Name,
		port:    cfg.Serial.Port,
		slaveID: slaveID,
		logger:  logger.With(zap.String("device", cfg.Name), zap.String("port", cfg.Serial.Port)),
	}
	c.logger.Debug("modbus client initialized", zap.String("driver", string(cfg.Driver)))
	return c
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) SlaveID() uint8 {
	return c.slaveID
}

func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		c.logger.Debug("already connected")
		return nil
	}
	return c.open()
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}

	err := c.bus.Close()
	c.connected = false
	if err != nil {
		c.logger.Error("error closing connection", zap.Error(err))
		return err
	}
	c.logger.Info("disconnected")
	return nil
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) WriteCoil(addr uint16, state bool, unit uint8) error {
	c.logger.Debug("writing coil", zap.String("address", hex(addr)), zap.Bool("state", state))

	err := c.do("write coil", unit, func(b Bus) error {
		return b.WriteCoil(addr, state)
	})
	if err != nil {
		return fmt.Errorf("failed to write coil %s: %w", hex(addr), err)
	}

	c.logger.Info("wrote coil", zap.String("address", hex(addr)), zap.Bool("state", state))
	return nil
}

func (c *Client) ReadCoil(addr uint16, unit uint8) (bool, error) {
	bits, err := c.readBits("coil", Bus.ReadCoils, addr, 1, unit)
	if err != nil {
		return false, err
	}
	return bits[0], nil
}

// ReadBit reads addr as a coil (FC01) and falls back to a discrete input
// (FC02) when the coil read fails.
func (c *Client) ReadBit(addr uint16, unit uint8) (bool, error) {
	state, err := c.ReadCoil(addr, unit)
	if err == nil {
		return state, nil
	}

	c.logger.Debug("coil read failed, trying discrete input",
		zap.String("address", hex(addr)), zap.Error(err))

	bits, diErr := c.readBits("discrete input", Bus.ReadDiscreteInputs, addr, 1, unit)
	if diErr != nil {
		return false, fmt.Errorf("failed to read bit %s: %w", hex(addr), errors.Join(err, diErr))
	}
	return bits[0], nil
}

func (c *Client) ReadCoilsBulk(addr, count uint16, unit uint8) ([]bool, error) {
	if count == 0 {
		count = DefaultBulkCount
	}
	return c.readBits("coils", Bus.ReadCoils, addr, count, unit)
}

func (c *Client) WriteRegister(addr, value uint16, unit uint8) error {
	c.logger.Debug("writing register", zap.String("address", hex(addr)), zap.Uint16("value", value))

	err := c.do("write register", unit, func(b Bus) error {
		return b.WriteRegister(addr, value)
	})
	if err != nil {
		return fmt.Errorf("failed to write register %s: %w", hex(addr), err)
	}

	c.logger.Info("wrote register", zap.String("address", hex(addr)), zap.Uint16("value", value))
	return nil
}

// ReadRegister reads one holding register. A response without registers
// reads as zero.
func (c *Client) ReadRegister(addr uint16, unit uint8) (uint16, error) {
	var regs []uint16
	err := c.do("read register", unit, func(b Bus) error {
		var err error
		regs, err = b.ReadHoldingRegisters(addr, 1)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read register %s: %w", hex(addr), err)
	}
	if len(regs) == 0 {
		return 0, nil
	}

	c.logger.Debug("read register", zap.String("address", hex(addr)), zap.Uint16("value", regs[0]))
	return regs[0], nil
}

// ReadRegisterBit extracts bit pos of the status register at addr.
func (c *Client) ReadRegisterBit(addr uint16, pos uint, unit uint8) (bool, error) {
	if pos >= RegisterBits {
		return false, fmt.Errorf("%w: %d", ErrBitPosition, pos)
	}
	value, err := c.ReadRegister(addr, unit)
	if err != nil {
		return false, err
	}
	return Bit(value, pos), nil
}

func (c *Client) readBits(kind string, read func(Bus, uint16, uint16) ([]bool, error), addr, count uint16, unit uint8) ([]bool, error) {
	var bits []bool
	err := c.do("read "+kind, unit, func(b Bus) error {
		var err error
		bits, err = read(b, addr, count)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", kind, hex(addr), err)
	}
	if len(bits) < int(count) {
		return nil, fmt.Errorf("failed to read %s %s: %w", kind, hex(addr), ErrEmptyResponse)
	}

	c.logger.Debug("read bits", zap.String("kind", kind), zap.String("address", hex(addr)), zap.Bools("bits", bits[:count]))
	return bits[:count], nil
}

func (c *Client) do(op string, unit uint8, fn func(Bus) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		c.logger.Warn("client not connected, attempting to reconnect")
		if err := c.open(); err != nil {
			return err
		}
	}

	err := c.attempt(unit, fn)
	if err == nil || IsException(err) {
		return err
	}

	c.logger.Warn("transport error, reopening line", zap.String("op", op), zap.Error(err))
	if rerr := c.reopen(); rerr != nil {
		return errors.Join(err, rerr)
	}
	return c.attempt(unit, fn)
}

func (c *Client) attempt(unit uint8, fn func(Bus) error) error {
	if err := c.bus.SetUnitID(c.unit(unit)); err != nil {
		return err
	}
	return fn(c.bus)
}

func (c *Client) unit(unit uint8) uint8 {
	if unit == 0 {
		return c.slaveID
	}
	return unit
}

func (c *Client) open() error {
	if err := c.bus.Open(); err != nil {
		c.logger.Error("failed to connect, check device and port", zap.Error(err))
		return fmt.Errorf("failed to connect to %s: %w", c.port, err)
	}
	c.connected = true
	c.logger.Info("connected", zap.Uint8("slave_id", c.slaveID))
	return nil
}

func (c *Client) reopen() error {
	if c.connected {
		_ = c.bus.Close()
		c.connected = false
	}
	return c.open()
}

func hex(addr uint16) string {
	return fmt.Sprintf("0x%04X", addr)
}
