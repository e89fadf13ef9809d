package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
	PayloadOn      = "ON"
	PayloadOff     = "OFF"
)

// Topics builds every topic the bridge uses under one base topic.
type Topics struct {
	Base            string
	DiscoveryPrefix string
	commandRegexp   *regexp.Regexp
}

func NewTopics(base, discoveryPrefix string) Topics {
	return Topics{
		Base:            base,
		DiscoveryPrefix: discoveryPrefix,
		commandRegexp:   regexp.MustCompile(fmt.Sprintf("^%s/switch/([a-zA-Z0-9_]+)/set$", regexp.QuoteMeta(base))),
	}
}

func (t Topics) BridgeState() string {
	return fmt.Sprintf("%s/bridge/state", t.Base)
}

func (t Topics) DeviceState() string {
	return fmt.Sprintf("%s/device/state", t.Base)
}

func (t Topics) SwitchState(id string) string {
	return fmt.Sprintf("%s/switch/%s/state", t.Base, id)
}

func (t Topics) SwitchCommand(id string) string {
	return fmt.Sprintf("%s/switch/%s/set", t.Base, id)
}

func (t Topics) CommandWildcard() string {
	return fmt.Sprintf("%s/switch/+/set", t.Base)
}

func (t Topics) WriteCoilService() string {
	return fmt.Sprintf("%s/service/write_coil", t.Base)
}

func (t Topics) SwitchDiscovery(id string) string {
	return fmt.Sprintf("%s/switch/%s/%s/config", t.DiscoveryPrefix, t.Base, id)
}

func (t Topics) ConnectivityDiscovery() string {
	return fmt.Sprintf("%s/binary_sensor/%s/device_online/config", t.DiscoveryPrefix, t.Base)
}

// ParseCommand extracts the entity id of a switch command topic.
func (t Topics) ParseCommand(topic string) (string, bool) {
	matches := t.commandRegexp.FindStringSubmatch(topic)
	if len(matches) != 2 {
		return "", false
	}
	return matches[1], true
}

func ParseSwitchPayload(payload []byte) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(string(payload))) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("invalid switch payload %q", payload)
	}
}

type WriteCoilRequest struct {
	Address uint16 `json:"address"`
	State   bool   `json:"state"`
}

func ParseWriteCoil(payload []byte) (WriteCoilRequest, error) {
	var raw struct {
		Address *int  `json:"address"`
		State   *bool `json:"state"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return WriteCoilRequest{}, fmt.Errorf("invalid write_coil payload: %w", err)
	}
	if raw.Address == nil || raw.State == nil {
		return WriteCoilRequest{}, errors.New("write_coil requires address and state")
	}
	if *raw.Address < 0 || *raw.Address > 0xFFFF {
		return WriteCoilRequest{}, fmt.Errorf("write_coil address %d out of range", *raw.Address)
	}
	return WriteCoilRequest{Address: uint16(*raw.Address), State: *raw.State}, nil
}

func statePayload(on bool) string {
	if on {
		return PayloadOn
	}
	return PayloadOff
}

func availabilityPayload(online bool) string {
	if online {
		return PayloadOnline
	}
	return PayloadOffline
}
