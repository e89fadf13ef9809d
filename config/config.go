package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel string         `mapstructure:"log_level" yaml:"log_level"`
	Device   DeviceConfig   `mapstructure:"device" yaml:"device"`
	Poll     PollConfig     `mapstructure:"poll" yaml:"poll"`
	Relays   []RelayConfig  `mapstructure:"relays" yaml:"relays"`
	Lights   []LightConfig  `mapstructure:"lights" yaml:"lights"`
	MQTT     MQTTConfig     `mapstructure:"mqtt" yaml:"mqtt"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
}

type DeviceConfig struct {
	Name     string        `mapstructure:"name" yaml:"name"`
	Port     string        `mapstructure:"port" yaml:"port"`
	BaudRate int           `mapstructure:"baudrate" yaml:"baudrate"`
	ByteSize int           `mapstructure:"bytesize" yaml:"bytesize"`
	Parity   string        `mapstructure:"parity" yaml:"parity"`
	StopBits int           `mapstructure:"stopbits" yaml:"stopbits"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"-"`
	SlaveID  int           `mapstructure:"slave_id" yaml:"slave_id"`
	Driver   string        `mapstructure:"driver" yaml:"driver"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"-"`
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
}

type RelayConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Address     *int   `mapstructure:"address" yaml:"address"`
	ReadAddress *int   `mapstructure:"read_address" yaml:"read_address,omitempty"`
	Icon        string `mapstructure:"icon" yaml:"icon,omitempty"`
	DeviceClass string `mapstructure:"device_class" yaml:"device_class,omitempty"`
	DeviceID    int    `mapstructure:"device_id" yaml:"device_id,omitempty"`
}

type LightConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	DeviceID    int    `mapstructure:"device_id" yaml:"device_id,omitempty"`
	CoilAddress *int   `mapstructure:"coil_address" yaml:"coil_address"`
	ReadAddress *int   `mapstructure:"read_address" yaml:"read_address,omitempty"`
	Position    *int   `mapstructure:"position" yaml:"position,omitempty"`
	Icon        string `mapstructure:"icon" yaml:"icon,omitempty"`
	Mode        string `mapstructure:"mode" yaml:"mode,omitempty"`
}

type MQTTConfig struct {
	Enabled         bool   `mapstructure:"enabled" yaml:"enabled"`
	Broker          string `mapstructure:"broker" yaml:"broker"`
	ClientID        string `mapstructure:"client_id" yaml:"client_id"`
	Username        string `mapstructure:"username" yaml:"username,omitempty"`
	Password        string `mapstructure:"password" yaml:"password,omitempty"`
	BaseTopic       string `mapstructure:"base_topic" yaml:"base_topic"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix" yaml:"discovery_prefix"`
}

type APIConfig struct {
	Port    int  `mapstructure:"port" yaml:"port"`
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type DatabaseConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	Path      string        `mapstructure:"path" yaml:"path"`
	Retention time.Duration `mapstructure:"retention" yaml:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("device.name", "IMO Relay")
	v.SetDefault("device.port", "")
	v.SetDefault("device.baudrate", 38400)
	v.SetDefault("device.bytesize", 8)
	v.SetDefault("device.parity", "N")
	v.SetDefault("device.stopbits", 1)
	v.SetDefault("device.timeout", "3s")
	v.SetDefault("device.slave_id", 1)
	v.SetDefault("device.driver", "simonvetter")
	v.SetDefault("poll.interval", "2s")
	v.SetDefault("poll.enabled", true)
	v.SetDefault("mqtt.enabled", true)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "imo-relay")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.base_topic", "imo_relay")
	v.SetDefault("mqtt.discovery_prefix", "homeassistant")
	v.SetDefault("api.port", 8046)
	v.SetDefault("api.enabled", true)
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "./imo-relay.db")
	v.SetDefault("database.retention", "720h")
}

// Load reads configPath (or ./config.yaml, /etc/imo-relay/config.yaml),
// applies IMO_* environment overrides and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/imo-relay")
	}

	v.SetEnvPrefix("imo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ZapLevel() zapcore.Level {
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
