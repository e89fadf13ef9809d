package config

import (
	"gopkg.in/yaml.v3"
)

const redacted = "*redacted*"

// Dump renders the effective configuration as YAML with secrets redacted.
func Dump(cfg *Config) ([]byte, error) {
	safe := *cfg
	if safe.MQTT.Username != "" {
		safe.MQTT.Username = redacted
	}
	if safe.MQTT.Password != "" {
		safe.MQTT.Password = redacted
	}
	return yaml.Marshal(&safe)
}

func (d DeviceConfig) MarshalYAML() (interface{}, error) {
	type plain DeviceConfig
	return struct {
		plain   `yaml:",inline"`
		Timeout string `yaml:"timeout"`
	}{plain(d), d.Timeout.String()}, nil
}

func (p PollConfig) MarshalYAML() (interface{}, error) {
	type plain PollConfig
	return struct {
		plain    `yaml:",inline"`
		Interval string `yaml:"interval"`
	}{plain(p), p.Interval.String()}, nil
}

func (d DatabaseConfig) MarshalYAML() (interface{}, error) {
	type plain DatabaseConfig
	return struct {
		plain     `yaml:",inline"`
		Retention string `yaml:"retention"`
	}{plain(d), d.Retention.String()}, nil
}
