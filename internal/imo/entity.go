package imo

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Client is the subset of the Modbus client the entities need.
type Client interface {
	Connect() error
	WriteCoil(addr uint16, state bool, unit uint8) error
	ReadBit(addr uint16, unit uint8) (bool, error)
	ReadRegisterBit(addr uint16, pos uint, unit uint8) (bool, error)
	ReadCoilsBulk(addr, count uint16, unit uint8) ([]bool, error)
}

type Kind string

const (
	KindRelay Kind = "relay"
	KindLight Kind = "light"
)

type Entity interface {
	ID() string
	UniqueID() string
	Name() string
	Kind() Kind
	Icon() string
	DeviceClass() string
	// IsOn returns nil while the state is unknown.
	IsOn() *bool
	TurnOn() error
	TurnOff() error
	Update() error
}

type RelayConfig struct {
	Name        string
	Address     uint16
	ReadAddress *uint16
	Icon        string
	DeviceClass string
	DeviceID    uint8
}

type Relay struct {
	client      Client
	logger      *zap.Logger
	id          string
	name        string
	address     uint16
	readAddress uint16
	unit        uint8
	icon        string
	deviceClass string

	mu    sync.RWMutex
	state *bool
}

func NewRelay(client Client, id string, cfg RelayConfig, logger *zap.Logger) *Relay {
	readAddress := cfg.Address
	if cfg.ReadAddress != nil {
		readAddress = *cfg.ReadAddress
	}
	icon := cfg.Icon
	if icon == "" {
		icon = DefaultIcon
	}
	deviceClass := cfg.DeviceClass
	if deviceClass == "" {
		deviceClass = "switch"
	}

	return &Relay{
		client:      client,
		logger:      logger.With(zap.String("entity", id)),
		id:          id,
		name:        cfg.Name,
		address:     cfg.Address,
		readAddress: readAddress,
		unit:        cfg.DeviceID,
		icon:        icon,
		deviceClass: deviceClass,
	}
}

func (r *Relay) ID() string          { return r.id }
func (r *Relay) UniqueID() string    { return "imo_relay_" + r.id }
func (r *Relay) Name() string        { return r.name }
func (r *Relay) Kind() Kind          { return KindRelay }
func (r *Relay) Icon() string        { return r.icon }
func (r *Relay) DeviceClass() string { return r.deviceClass }

func (r *Relay) IsOn() *bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyState(r.state)
}

func (r *Relay) TurnOn() error {
	return r.set(true)
}

func (r *Relay) TurnOff() error {
	return r.set(false)
}

func (r *Relay) set(on bool) error {
	if err := r.client.WriteCoil(r.address, on, r.unit); err != nil {
		r.logger.Error("failed to switch relay", zap.Bool("on", on), zap.Error(err))
		return fmt.Errorf("failed to turn %s %s: %w", onOff(on), r.name, err)
	}

	r.mu.Lock()
	r.state = &on
	r.mu.Unlock()

	r.logger.Info("relay switched", zap.String("name", r.name), zap.String("state", onOff(on)))
	return nil
}

// Update keeps the previous state when the read fails.
func (r *Relay) Update() error {
	state, err := r.client.ReadBit(r.readAddress, r.unit)
	if err != nil {
		r.logger.Warn("failed to read relay state", zap.Error(err))
		return err
	}

	r.mu.Lock()
	r.state = &state
	r.mu.Unlock()
	return nil
}

type LightMode string

const (
	// LightModePulse drives an impulse relay: every command is a rising edge
	// on the coil, so the write is skipped when the state already matches.
	LightModePulse  LightMode = "pulse"
	LightModeDirect LightMode = "direct"
)

type LightConfig struct {
	Name        string
	DeviceID    uint8
	CoilAddress uint16
	ReadAddress *uint16
	Position    *uint
	Icon        string
	Mode        LightMode
}

type Light struct {
	client      Client
	logger      *zap.Logger
	id          string
	name        string
	coilAddress uint16
	readAddress uint16
	position    *uint
	unit        uint8
	icon        string
	mode        LightMode

	// serializes commands so a pulse is never sent twice for one request
	cmdMu sync.Mutex

	mu    sync.RWMutex
	state bool
	// pending is the state a sent pulse should produce, until the next read
	pending *bool
}

func NewLight(client Client, id string, cfg LightConfig, logger *zap.Logger) *Light {
	readAddress := cfg.CoilAddress
	if cfg.ReadAddress != nil {
		readAddress = *cfg.ReadAddress
	}
	icon := cfg.Icon
	if icon == "" {
		icon = DefaultLightIcon
	}
	mode := cfg.Mode
	if mode == "" {
		mode = LightModePulse
	}

	return &Light{
		client:      client,
		logger:      logger.With(zap.String("entity", id)),
		id:          id,
		name:        cfg.Name,
		coilAddress: cfg.CoilAddress,
		readAddress: readAddress,
		position:    cfg.Position,
		unit:        cfg.DeviceID,
		icon:        icon,
		mode:        mode,
	}
}

func (l *Light) ID() string          { return l.id }
func (l *Light) UniqueID() string    { return "imo_light_" + l.id }
func (l *Light) Name() string        { return l.name }
func (l *Light) Kind() Kind          { return KindLight }
func (l *Light) Icon() string        { return l.icon }
func (l *Light) DeviceClass() string { return "" }
func (l *Light) Mode() LightMode     { return l.mode }

func (l *Light) IsOn() *bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	state := l.state
	return &state
}

func (l *Light) TurnOn() error {
	return l.set(true)
}

func (l *Light) TurnOff() error {
	return l.set(false)
}

// set sends the command only; the state comes from the next Update.
func (l *Light) set(on bool) error {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()

	value := on
	if l.mode == LightModePulse {
		l.mu.RLock()
		current := l.state
		if l.pending != nil {
			current = *l.pending
		}
		l.mu.RUnlock()
		if current == on {
			l.logger.Debug("light already in requested state", zap.String("state", onOff(on)))
			return nil
		}
		value = true
	}

	if err := l.client.WriteCoil(l.coilAddress, value, l.unit); err != nil {
		l.logger.Error("failed to switch light", zap.Bool("on", on), zap.Error(err))
		return fmt.Errorf("failed to turn %s %s: %w", onOff(on), l.name, err)
	}
	if l.mode == LightModePulse {
		l.mu.Lock()
		l.pending = &on
		l.mu.Unlock()
	}

	l.logger.Info("light command sent", zap.String("name", l.name), zap.String("state", onOff(on)))
	return nil
}

func (l *Light) Update() error {
	var (
		state bool
		err   error
	)
	if l.position != nil {
		state, err = l.client.ReadRegisterBit(l.readAddress, *l.position, l.unit)
	} else {
		state, err = l.client.ReadBit(l.readAddress, l.unit)
	}
	if err != nil {
		l.logger.Warn("could not read light state", zap.Error(err))
		return err
	}

	l.mu.Lock()
	l.state = state
	l.pending = nil
	l.mu.Unlock()
	return nil
}

func copyState(state *bool) *bool {
	if state == nil {
		return nil
	}
	v := *state
	return &v
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
