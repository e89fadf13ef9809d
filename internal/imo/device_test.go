package imo

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type write struct {
	addr  uint16
	state bool
	unit  uint8
}

type fakeClient struct {
	connectErr error
	readErr    error
	writeErr   error

	bits      map[uint16]bool
	registers map[uint16]uint16
	writes    []write
	bitReads  []uint16
	regReads  []uint16
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		bits:      map[uint16]bool{},
		registers: map[uint16]uint16{},
	}
}

func (f *fakeClient) Connect() error {
	return f.connectErr
}

func (f *fakeClient) WriteCoil(addr uint16, state bool, unit uint8) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, write{addr: addr, state: state, unit: unit})
	return nil
}

func (f *fakeClient) ReadBit(addr uint16, unit uint8) (bool, error) {
	f.bitReads = append(f.bitReads, addr)
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.bits[addr], nil
}

func (f *fakeClient) ReadRegisterBit(addr uint16, pos uint, unit uint8) (bool, error) {
	f.regReads = append(f.regReads, addr)
	if f.readErr != nil {
		return false, f.readErr
	}
	return f.registers[addr]&(1<<pos) != 0, nil
}

func (f *fakeClient) ReadCoilsBulk(addr, count uint16, unit uint8) ([]bool, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make([]bool, count)
	for i := range out {
		out[i] = f.bits[addr+uint16(i)]
	}
	return out, nil
}

func ptr[T any](v T) *T {
	return &v
}

func TestDefaultRelays(t *testing.T) {
	d, err := NewDevice(newFakeClient(), Config{Name: "IMO Relay"}, zap.NewNop())
	require.NoError(t, err)

	require.Len(t, d.Entities(), 4)
	r, err := d.Entity("relay_3")
	require.NoError(t, err)
	assert.Equal(t, "Relay 3", r.Name())
	assert.Equal(t, "imo_relay_relay_3", r.UniqueID())
	assert.Equal(t, DefaultIcon, r.Icon())
	assert.Nil(t, r.IsOn())

	_, err = d.Entity("relay_9")
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestRelayTurnOnUpdatesState(t *testing.T) {
	client := newFakeClient()
	r := NewRelay(client, "relay_1", RelayConfig{Name: "Pump", Address: CoilRelay1, DeviceID: 2}, zap.NewNop())

	require.NoError(t, r.TurnOn())
	require.NotNil(t, r.IsOn())
	assert.True(t, *r.IsOn())
	assert.Equal(t, []write{{addr: CoilRelay1, state: true, unit: 2}}, client.writes)

	require.NoError(t, r.TurnOff())
	assert.False(t, *r.IsOn())
}

func TestRelayFailedWriteKeepsState(t *testing.T) {
	client := newFakeClient()
	client.writeErr = errors.New("timeout")
	r := NewRelay(client, "relay_1", RelayConfig{Name: "Pump", Address: CoilRelay1}, zap.NewNop())

	assert.Error(t, r.TurnOn())
	assert.Nil(t, r.IsOn())
}

func TestRelayUpdateUsesReadAddress(t *testing.T) {
	client := newFakeClient()
	client.bits[0x0011] = true
	r := NewRelay(client, "relay_1", RelayConfig{Name: "Pump", Address: CoilRelay1, ReadAddress: ptr(uint16(0x0011))}, zap.NewNop())

	require.NoError(t, r.Update())
	assert.Equal(t, []uint16{0x0011}, client.bitReads)
	assert.True(t, *r.IsOn())

	client.readErr = errors.New("timeout")
	assert.Error(t, r.Update())
	assert.True(t, *r.IsOn(), "previous state kept")
}

func TestLightDefaultsOff(t *testing.T) {
	l := NewLight(newFakeClient(), "light_1", LightConfig{Name: "Hall", CoilAddress: 0x0600}, zap.NewNop())

	require.NotNil(t, l.IsOn())
	assert.False(t, *l.IsOn())
	assert.Equal(t, LightModePulse, l.Mode())
	assert.Equal(t, "mdi:electric-switch", l.Icon())
}

func TestLightPulseMode(t *testing.T) {
	client := newFakeClient()
	l := NewLight(client, "light_1", LightConfig{Name: "Hall", CoilAddress: 0x0600, DeviceID: 4}, zap.NewNop())

	require.NoError(t, l.TurnOff())
	assert.Empty(t, client.writes, "already off")

	require.NoError(t, l.TurnOn())
	assert.Equal(t, []write{{addr: 0x0600, state: true, unit: 4}}, client.writes)
	assert.False(t, *l.IsOn(), "state only changes on update")

	client.bits[0x0600] = true
	require.NoError(t, l.Update())
	require.NoError(t, l.TurnOff())
	assert.Equal(t, write{addr: 0x0600, state: true, unit: 4}, client.writes[1])
}

// slowClient holds every write long enough for concurrent commands to overlap.
type slowClient struct {
	*fakeClient
	mu     sync.Mutex
	pulses int
}

func (s *slowClient) WriteCoil(addr uint16, state bool, unit uint8) error {
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulses++
	return nil
}

func TestLightPulseSentOncePerChange(t *testing.T) {
	client := &slowClient{fakeClient: newFakeClient()}
	l := NewLight(client, "light_1", LightConfig{Name: "Hall", CoilAddress: 0x0600}, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.TurnOn())
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, client.pulses)

	// a repeated command before the next read is still a no-op
	require.NoError(t, l.TurnOn())
	assert.Equal(t, 1, client.pulses)

	// the read shows the pulse was lost, so the command is sent again
	require.NoError(t, l.Update())
	require.NoError(t, l.TurnOn())
	assert.Equal(t, 2, client.pulses)
}

func TestLightDirectMode(t *testing.T) {
	client := newFakeClient()
	l := NewLight(client, "light_1", LightConfig{Name: "Hall", CoilAddress: 0x0600, Mode: LightModeDirect}, zap.NewNop())

	require.NoError(t, l.TurnOff())
	require.NoError(t, l.TurnOn())
	assert.Equal(t, []write{{addr: 0x0600, state: false}, {addr: 0x0600, state: true}}, client.writes)
}

func TestLightUpdateFromStatusRegister(t *testing.T) {
	client := newFakeClient()
	client.registers[0x0700] = 1 << 5
	l := NewLight(client, "light_1", LightConfig{
		Name:        "Hall",
		CoilAddress: 0x0600,
		ReadAddress: ptr(uint16(0x0700)),
		Position:    ptr(uint(5)),
	}, zap.NewNop())

	require.NoError(t, l.Update())
	assert.True(t, *l.IsOn())
	assert.Equal(t, []uint16{0x0700}, client.regReads)
	assert.Empty(t, client.bitReads)
}

func TestNewDeviceRejectsBadLights(t *testing.T) {
	_, err := NewDevice(newFakeClient(), Config{Lights: []LightConfig{{Name: "x", Position: ptr(uint(16))}}}, nil)
	assert.Error(t, err)

	_, err = NewDevice(newFakeClient(), Config{Lights: []LightConfig{{Name: "x", Mode: "toggle"}}}, nil)
	assert.Error(t, err)
}

func TestRefresh(t *testing.T) {
	client := newFakeClient()
	client.bits[CoilRelay2] = true
	d, err := NewDevice(client, Config{
		Lights: []LightConfig{{Name: "Hall", CoilAddress: 0x0600}},
	}, nil)
	require.NoError(t, err)

	snap := d.Refresh()
	assert.True(t, snap.Online)
	assert.Zero(t, snap.Errors)
	require.Len(t, snap.Entities, 5)

	st, ok := snap.Find("relay_2")
	require.True(t, ok)
	assert.True(t, *st.State)
	assert.Equal(t, KindRelay, st.Kind)

	st, ok = snap.Find("light_1")
	require.True(t, ok)
	assert.Equal(t, KindLight, st.Kind)
	assert.False(t, *st.State)
}

func TestRefreshOffline(t *testing.T) {
	client := newFakeClient()
	client.connectErr = errors.New("no such device")
	d, err := NewDevice(client, Config{}, nil)
	require.NoError(t, err)

	snap := d.Refresh()
	assert.False(t, snap.Online)
	assert.Equal(t, 4, snap.Errors)
	assert.Nil(t, snap.Entities[0].State)
	assert.NotEmpty(t, snap.Entities[0].Error)

	client.connectErr = nil
	client.readErr = errors.New("timeout")
	snap = d.Refresh()
	assert.False(t, snap.Online)
}

func TestSnapshotChanges(t *testing.T) {
	on, off := true, false
	prev := &Snapshot{Entities: []EntityState{
		{ID: "relay_1", State: &on},
		{ID: "relay_2", State: &off},
		{ID: "relay_3"},
	}}
	cur := &Snapshot{Entities: []EntityState{
		{ID: "relay_1", State: &on},
		{ID: "relay_2", State: &on},
		{ID: "relay_3", State: &off},
		{ID: "relay_4"},
	}}

	changes := cur.Changes(prev)
	require.Len(t, changes, 2)
	assert.Equal(t, "relay_2", changes[0].ID)
	assert.Equal(t, "relay_3", changes[1].ID)

	assert.Len(t, cur.Changes(nil), 3)
}

func TestWriteCoilService(t *testing.T) {
	client := newFakeClient()
	d, err := NewDevice(client, Config{}, nil)
	require.NoError(t, err)

	require.NoError(t, d.WriteCoil(0x0555, true))
	assert.Equal(t, []write{{addr: 0x0555, state: true}}, client.writes)

	client.bits[0x0551] = true
	bits, err := d.ReadBlock(0x0551, 4)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, false}, bits)
}
