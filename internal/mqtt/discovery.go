package mqtt

import (
	"imo-relay/internal/imo"

	"github.com/carlmjohnson/versioninfo"
)

type DiscoveryConfig struct {
	Device           DiscoveryDevice `json:"device"`
	Name             string          `json:"name"`
	UniqueID         string          `json:"unique_id"`
	ObjectID         string          `json:"object_id,omitempty"`
	StateTopic       string          `json:"state_topic"`
	CommandTopic     string          `json:"command_topic,omitempty"`
	Availability     []Availability  `json:"availability,omitempty"`
	AvailabilityMode string          `json:"availability_mode,omitempty"`
	DeviceClass      string          `json:"device_class,omitempty"`
	EntityCategory   string          `json:"entity_category,omitempty"`
	Icon             string          `json:"icon,omitempty"`
	PayloadOn        string          `json:"payload_on,omitempty"`
	PayloadOff       string          `json:"payload_off,omitempty"`
	StateOn          string          `json:"state_on,omitempty"`
	StateOff         string          `json:"state_off,omitempty"`
}

type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
}

type Availability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}

func discoveryDevice(t Topics, name string) DiscoveryDevice {
	return DiscoveryDevice{
		Identifiers:  []string{t.Base},
		Name:         name,
		Manufacturer: imo.Manufacturer,
		Model:        imo.Model,
		Version:      versioninfo.Short(),
	}
}

// SwitchDiscovery describes one relay or light as a Home Assistant switch.
// It is available only while both the bridge and the automaton are.
func SwitchDiscovery(t Topics, deviceName string, e imo.Entity) DiscoveryConfig {
	return DiscoveryConfig{
		Device:       discoveryDevice(t, deviceName),
		Name:         e.Name(),
		UniqueID:     e.UniqueID(),
		ObjectID:     e.UniqueID(),
		StateTopic:   t.SwitchState(e.ID()),
		CommandTopic: t.SwitchCommand(e.ID()),
		Availability: []Availability{
			{Topic: t.BridgeState(), PayloadAvailable: PayloadOnline, PayloadNotAvailable: PayloadOffline},
			{Topic: t.DeviceState(), PayloadAvailable: PayloadOnline, PayloadNotAvailable: PayloadOffline},
		},
		AvailabilityMode: "all",
		DeviceClass:      e.DeviceClass(),
		Icon:             e.Icon(),
		PayloadOn:        PayloadOn,
		PayloadOff:       PayloadOff,
		StateOn:          PayloadOn,
		StateOff:         PayloadOff,
	}
}

func ConnectivityDiscovery(t Topics, deviceName string) DiscoveryConfig {
	return DiscoveryConfig{
		Device:     discoveryDevice(t, deviceName),
		Name:       "Automaton",
		UniqueID:   t.Base + "_device_online",
		StateTopic: t.DeviceState(),
		Availability: []Availability{
			{Topic: t.BridgeState(), PayloadAvailable: PayloadOnline, PayloadNotAvailable: PayloadOffline},
		},
		DeviceClass:    "connectivity",
		EntityCategory: "diagnostic",
		PayloadOn:      PayloadOnline,
		PayloadOff:     PayloadOffline,
	}
}
