package imo

// IMO Ismart SMT-CD-T20 register map.
// Outputs are addressed as coils; the same addresses answer FC01 reads.

const (
	Manufacturer = "IMO"
	Model        = "SMT-CD-T20"
)

const (
	CoilRelay1 uint16 = 0x0551
	CoilRelay2 uint16 = 0x0552
	CoilRelay3 uint16 = 0x0553
	CoilRelay4 uint16 = 0x0554
)

const (
	DefaultIcon      = "mdi:electric-switch"
	DefaultLightIcon = DefaultIcon
)

// DefaultRelays is used when no relay is configured.
func DefaultRelays() []RelayConfig {
	return []RelayConfig{
		{Name: "Relay 1", Address: CoilRelay1},
		{Name: "Relay 2", Address: CoilRelay2},
		{Name: "Relay 3", Address: CoilRelay3},
		{Name: "Relay 4", Address: CoilRelay4},
	}
}
