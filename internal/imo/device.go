package imo

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var ErrUnknownEntity = errors.New("unknown entity")

type Config struct {
	Name   string
	Relays []RelayConfig
	Lights []LightConfig
}

type Device struct {
	name     string
	client   Client
	entities []Entity
	byID     map[string]Entity
	logger   *zap.Logger
}

type EntityState struct {
	ID       string `json:"id"`
	UniqueID string `json:"unique_id"`
	Name     string `json:"name"`
	Kind     Kind   `json:"kind"`
	State    *bool  `json:"state"`
	Error    string `json:"error,omitempty"`
}

type Snapshot struct {
	Timestamp time.Time     `json:"timestamp"`
	Online    bool          `json:"online"`
	Errors    int           `json:"errors"`
	Entities  []EntityState `json:"entities"`
}

func NewDevice(client Client, cfg Config, logger *zap.Logger) (*Device, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	relays := cfg.Relays
	if len(relays) == 0 {
		relays = DefaultRelays()
	}

	d := &Device{
		name:   cfg.Name,
		client: client,
		byID:   make(map[string]Entity),
		logger: logger,
	}

	for i, rc := range relays {
		d.add(NewRelay(client, fmt.Sprintf("relay_%d", i+1), rc, logger))
	}
	for i, lc := range cfg.Lights {
		if lc.Position != nil && *lc.Position > 15 {
			return nil, fmt.Errorf("light %q: position %d out of range 0-15", lc.Name, *lc.Position)
		}
		if lc.Mode != "" && lc.Mode != LightModePulse && lc.Mode != LightModeDirect {
			return nil, fmt.Errorf("light %q: unknown mode %q", lc.Name, lc.Mode)
		}
		d.add(NewLight(client, fmt.Sprintf("light_%d", i+1), lc, logger))
	}

	return d, nil
}

func (d *Device) add(e Entity) {
	d.entities = append(d.entities, e)
	d.byID[e.ID()] = e
}

func (d *Device) Name() string {
	return d.name
}

func (d *Device) Entities() []Entity {
	return d.entities
}

func (d *Device) Entity(id string) (Entity, error) {
	e, ok := d.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, id)
	}
	return e, nil
}

// Refresh updates every entity. The device is online when the line opens
// and at least one read succeeds.
func (d *Device) Refresh() *Snapshot {
	snap := &Snapshot{
		Timestamp: time.Now(),
		Entities:  make([]EntityState, 0, len(d.entities)),
	}

	connErr := d.client.Connect()
	if connErr != nil {
		d.logger.Error("failed to connect to device", zap.Error(connErr))
	}

	for _, e := range d.entities {
		st := EntityState{
			ID:       e.ID(),
			UniqueID: e.UniqueID(),
			Name:     e.Name(),
			Kind:     e.Kind(),
		}
		var err error
		if connErr != nil {
			err = connErr
		} else {
			err = e.Update()
		}
		if err != nil {
			snap.Errors++
			st.Error = err.Error()
		}
		st.State = e.IsOn()
		snap.Entities = append(snap.Entities, st)
	}

	snap.Online = connErr == nil && (len(d.entities) == 0 || snap.Errors < len(d.entities))
	return snap
}

// WriteCoil implements the write_coil service on the default unit.
func (d *Device) WriteCoil(addr uint16, state bool) error {
	return d.client.WriteCoil(addr, state, 0)
}

func (d *Device) ReadBlock(addr, count uint16) ([]bool, error) {
	return d.client.ReadCoilsBulk(addr, count, 0)
}

// TestConnection opens the line and reads the first entity.
func (d *Device) TestConnection() error {
	if err := d.client.Connect(); err != nil {
		return err
	}
	if len(d.entities) == 0 {
		return nil
	}
	if err := d.entities[0].Update(); err != nil {
		return fmt.Errorf("failed to read from device: %w", err)
	}
	return nil
}

func (s *Snapshot) Find(id string) (EntityState, bool) {
	if s == nil {
		return EntityState{}, false
	}
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return EntityState{}, false
}

// Changes lists entities with a known state that differs from prev.
// Every known state counts as changed when prev is nil.
func (s *Snapshot) Changes(prev *Snapshot) []EntityState {
	var out []EntityState
	for _, e := range s.Entities {
		if e.State == nil {
			continue
		}
		old, ok := prev.Find(e.ID)
		if ok && old.State != nil && *old.State == *e.State {
			continue
		}
		out = append(out, e)
	}
	return out
}
