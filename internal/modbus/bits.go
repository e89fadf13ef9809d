package modbus

// RegisterBits is the width of one holding register.
const RegisterBits = 16

// Bit reports bit pos of value, 0 being the least significant.
func Bit(value uint16, pos uint) bool {
	if pos >= RegisterBits {
		return false
	}
	return value&(1<<pos) != 0
}

func SetBit(value uint16, pos uint, on bool) uint16 {
	if pos >= RegisterBits {
		return value
	}
	if on {
		return value | 1<<pos
	}
	return value &^ (1 << pos)
}

// UnpackBits expands packed coil/input bytes, LSB first.
func UnpackBits(data []byte, count int) []bool {
	out := make([]bool, count)
	for i := 0; i < count; i++ {
		byteIdx := i / 8
		if byteIdx >= len(data) {
			break
		}
		out[i] = data[byteIdx]&(1<<(i%8)) != 0
	}
	return out
}

// UnpackRegisters decodes big-endian register words.
func UnpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
