package main

import (
	"fmt"

	"imo-relay/config"
	"imo-relay/internal/imo"
	"imo-relay/internal/modbus"

	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.ZapLevel())
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func clientConfig(cfg *config.Config, logger *zap.Logger) modbus.ClientConfig {
	return modbus.ClientConfig{
		Name:   cfg.Device.Name,
		Driver: modbus.Driver(cfg.Device.Driver),
		Serial: modbus.SerialConfig{
			Port:     cfg.Device.Port,
			BaudRate: cfg.Device.BaudRate,
			DataBits: cfg.Device.ByteSize,
			Parity:   cfg.Device.Parity,
			StopBits: cfg.Device.StopBits,
			Timeout:  cfg.Device.Timeout,
			SlaveID:  uint8(cfg.Device.SlaveID),
		},
		Logger: logger.Named("modbus"),
	}
}

func deviceConfig(cfg *config.Config) imo.Config {
	out := imo.Config{Name: cfg.Device.Name}
	for _, r := range cfg.Relays {
		out.Relays = append(out.Relays, imo.RelayConfig{
			Name:        r.Name,
			Address:     uint16(*r.Address),
			ReadAddress: address(r.ReadAddress),
			Icon:        r.Icon,
			DeviceClass: r.DeviceClass,
			DeviceID:    uint8(r.DeviceID),
		})
	}
	for _, l := range cfg.Lights {
		out.Lights = append(out.Lights, imo.LightConfig{
			Name:        l.Name,
			DeviceID:    uint8(l.DeviceID),
			CoilAddress: uint16(*l.CoilAddress),
			ReadAddress: address(l.ReadAddress),
			Position:    position(l.Position),
			Icon:        l.Icon,
			Mode:        imo.LightMode(l.Mode),
		})
	}
	return out
}

// address converts a value config.Validate has already range checked.
func address(v *int) *uint16 {
	if v == nil {
		return nil
	}
	a := uint16(*v)
	return &a
}

func position(v *int) *uint {
	if v == nil {
		return nil
	}
	p := uint(*v)
	return &p
}

// setup loads the configuration and builds the logger, the Modbus client and
// the device model shared by every command.
func setup() (*config.Config, *zap.Logger, *modbus.Client, *imo.Device, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}

	client, err := modbus.NewClient(clientConfig(cfg, logger))
	if err != nil {
		return nil, nil, nil, nil, err
	}

	device, err := imo.NewDevice(client, deviceConfig(cfg), logger.Named("device"))
	if err != nil {
		client.Close()
		return nil, nil, nil, nil, err
	}
	return cfg, logger, client, device, nil
}
