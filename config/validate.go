package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	maxAddress = 0xFFFF
	maxSlaveID = 247
)

var topicPattern = regexp.MustCompile("^[a-z0-9_]+$")

// CheckMQTTTopic lowercases a topic segment and rejects anything but
// letters, digits and underscores.
func CheckMQTTTopic(topic string) (string, error) {
	lower := strings.ToLower(topic)
	if !topicPattern.MatchString(lower) {
		return "", fmt.Errorf("invalid topic %q: can only contain letters, numbers and underscores", topic)
	}
	return lower, nil
}

func (c *Config) Normalize() error {
	c.Device.Parity = strings.ToUpper(strings.TrimSpace(c.Device.Parity))
	c.Device.Driver = strings.ToLower(strings.TrimSpace(c.Device.Driver))
	for i := range c.Lights {
		c.Lights[i].Mode = strings.ToLower(strings.TrimSpace(c.Lights[i].Mode))
	}

	base, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return fmt.Errorf("mqtt.base_topic: %w", err)
	}
	c.MQTT.BaseTopic = base

	prefix, err := CheckMQTTTopic(c.MQTT.DiscoveryPrefix)
	if err != nil {
		return fmt.Errorf("mqtt.discovery_prefix: %w", err)
	}
	c.MQTT.DiscoveryPrefix = prefix
	return nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	d := c.Device
	if d.Port == "" {
		add("device.port is required")
	}
	if d.BaudRate <= 0 {
		add("device.baudrate must be > 0")
	}
	if d.ByteSize < 5 || d.ByteSize > 8 {
		add("device.bytesize must be between 5 and 8")
	}
	switch d.Parity {
	case "N", "E", "O":
	default:
		add("device.parity must be N, E or O")
	}
	if d.StopBits != 1 && d.StopBits != 2 {
		add("device.stopbits must be 1 or 2")
	}
	if d.Timeout <= 0 {
		add("device.timeout must be > 0")
	}
	if d.SlaveID < 1 || d.SlaveID > maxSlaveID {
		add("device.slave_id must be between 1 and %d, got %d", maxSlaveID, d.SlaveID)
	}
	switch d.Driver {
	case "simonvetter", "goburrow":
	default:
		add("device.driver must be simonvetter or goburrow")
	}

	if c.Poll.Interval < 500*time.Millisecond {
		add("poll.interval should be >= 500ms")
	}

	// integers are decoded wide so out-of-range values fail here instead of wrapping
	checkAddress := func(field string, addr *int) {
		if addr != nil && (*addr < 0 || *addr > maxAddress) {
			add("%s must be between 0 and 0xFFFF, got %d", field, *addr)
		}
	}
	checkUnit := func(field string, id int) {
		if id < 0 || id > maxSlaveID {
			add("%s must be between 0 and %d, got %d", field, maxSlaveID, id)
		}
	}

	for i, r := range c.Relays {
		if r.Name == "" {
			add("relays[%d].name is required", i)
		}
		if r.Address == nil {
			add("relays[%d].address is required", i)
		}
		checkAddress(fmt.Sprintf("relays[%d].address", i), r.Address)
		checkAddress(fmt.Sprintf("relays[%d].read_address", i), r.ReadAddress)
		checkUnit(fmt.Sprintf("relays[%d].device_id", i), r.DeviceID)
		if r.DeviceClass != "" && r.DeviceClass != "switch" && r.DeviceClass != "outlet" {
			add("relays[%d].device_class must be switch or outlet", i)
		}
	}

	for i, l := range c.Lights {
		if l.Name == "" {
			add("lights[%d].name is required", i)
		}
		if l.CoilAddress == nil {
			add("lights[%d].coil_address is required", i)
		}
		checkAddress(fmt.Sprintf("lights[%d].coil_address", i), l.CoilAddress)
		checkAddress(fmt.Sprintf("lights[%d].read_address", i), l.ReadAddress)
		checkUnit(fmt.Sprintf("lights[%d].device_id", i), l.DeviceID)
		if l.Position != nil && (*l.Position < 0 || *l.Position > 15) {
			add("lights[%d].position must be between 0 and 15", i)
		}
		if l.Mode != "" && l.Mode != "pulse" && l.Mode != "direct" {
			add("lights[%d].mode must be pulse or direct", i)
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		add("mqtt.broker is required when mqtt is enabled")
	}
	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		add("api.port must be between 1 and 65535")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		add("database.path is required when the database is enabled")
	}

	return errors.Join(errs...)
}
