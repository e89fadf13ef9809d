package modbus

import (
	"errors"
	"testing"

	goburrow "github.com/goburrow/modbus"
	simonvetter "github.com/simonvetter/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBit(t *testing.T) {
	assert.True(t, Bit(0x0001, 0))
	assert.False(t, Bit(0x0001, 1))
	assert.True(t, Bit(0x8000, 15))
	assert.False(t, Bit(0xFFFF, 16))
}

func TestSetBit(t *testing.T) {
	assert.Equal(t, uint16(0x0004), SetBit(0, 2, true))
	assert.Equal(t, uint16(0xFFFB), SetBit(0xFFFF, 2, false))
	assert.Equal(t, uint16(0x1234), SetBit(0x1234, 20, true))
}

func TestUnpackBits(t *testing.T) {
	bits := UnpackBits([]byte{0b0000_0101, 0b1000_0000}, 16)

	assert.Equal(t, true, bits[0])
	assert.Equal(t, false, bits[1])
	assert.Equal(t, true, bits[2])
	assert.Equal(t, true, bits[15])

	short := UnpackBits([]byte{0xFF}, 10)
	assert.Equal(t, []bool{true, true, true, true, true, true, true, true, false, false}, short)
}

func TestUnpackRegisters(t *testing.T) {
	assert.Equal(t, []uint16{0x0102, 0xFF00}, UnpackRegisters([]byte{0x01, 0x02, 0xFF, 0x00}))
	assert.Empty(t, UnpackRegisters([]byte{0x01}))
}

func TestExceptionMapping(t *testing.T) {
	err := goburrowError(&goburrow.ModbusError{FunctionCode: 0x81, ExceptionCode: 0x02})
	var ex *ExceptionError
	if assert.ErrorAs(t, err, &ex) {
		assert.Equal(t, byte(0x02), ex.Code)
		assert.Equal(t, FuncReadCoils, ex.Function)
	}

	err = simonvetterError(FuncWriteSingleCoil, simonvetter.ErrIllegalDataAddress)
	if assert.ErrorAs(t, err, &ex) {
		assert.Equal(t, byte(0x02), ex.Code)
		assert.Equal(t, FuncWriteSingleCoil, ex.Function)
		assert.Contains(t, ex.Error(), "function 0x05")
	}

	assert.False(t, IsException(simonvetterError(FuncReadCoils, simonvetter.ErrRequestTimedOut)))
	assert.False(t, IsException(goburrowError(errors.New("serial: timeout"))))
	assert.Nil(t, goburrowError(nil))
}

func TestUnpackReplyRejectsShortData(t *testing.T) {
	_, err := unpackReply([]byte{}, 16)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = unpackReply([]byte{0xFF}, 9)
	assert.ErrorIs(t, err, ErrEmptyResponse)

	bits, err := unpackReply([]byte{0x01, 0x01}, 9)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false, false, false, false, false, true}, bits)
}

func TestSimonvetterParity(t *testing.T) {
	p, err := simonvetterParity("n")
	assert.NoError(t, err)
	assert.Equal(t, simonvetter.PARITY_NONE, p)

	p, err = simonvetterParity("E")
	assert.NoError(t, err)
	assert.Equal(t, simonvetter.PARITY_EVEN, p)

	_, err = simonvetterParity("X")
	assert.Error(t, err)
}

func TestNewBusUnknownDriver(t *testing.T) {
	_, err := NewBus("pymodbus", SerialConfig{Port: "/dev/ttyUSB0"})
	assert.Error(t, err)
}
