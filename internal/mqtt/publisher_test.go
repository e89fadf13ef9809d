package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"imo-relay/internal/imo"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                       { return true }
func (t doneToken) WaitTimeout(_ time.Duration) bool { return true }
func (t doneToken) Error() error                     { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	payload  string
	retained bool
}

type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	published  []published
	subscribed map[string]mqtt.MessageHandler
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s string
	switch v := payload.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	}
	f.published = append(f.published, published{topic: topic, payload: s, retained: retained})
	return doneToken{}
}

func (f *fakeClient) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribed == nil {
		f.subscribed = map[string]mqtt.MessageHandler{}
	}
	f.subscribed[topic] = callback
	return doneToken{}
}

func (f *fakeClient) find(topic string) (published, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.published {
		if p.topic == topic {
			return p, true
		}
	}
	return published{}, false
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload string
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return []byte(m.payload) }

type nopClient struct{}

func (nopClient) Connect() error                                    { return nil }
func (nopClient) WriteCoil(uint16, bool, uint8) error               { return nil }
func (nopClient) ReadBit(uint16, uint8) (bool, error)               { return false, nil }
func (nopClient) ReadRegisterBit(uint16, uint, uint8) (bool, error) { return false, nil }
func (nopClient) ReadCoilsBulk(_, count uint16, _ uint8) ([]bool, error) {
	return make([]bool, count), nil
}

type command struct {
	id string
	on bool
}

type fakeController struct {
	commands []command
	coils    []WriteCoilRequest
	snap     *imo.Snapshot
	err      error
}

func (f *fakeController) Command(id string, on bool) error {
	f.commands = append(f.commands, command{id: id, on: on})
	return f.err
}

func (f *fakeController) WriteCoil(addr uint16, state bool) error {
	f.coils = append(f.coils, WriteCoilRequest{Address: addr, State: state})
	return f.err
}

func (f *fakeController) GetLatestData() *imo.Snapshot {
	return f.snap
}

func newTestPublisher(t *testing.T) (*Publisher, *fakeClient) {
	t.Helper()
	device, err := imo.NewDevice(nopClient{}, imo.Config{
		Name:   "IMO Relay",
		Lights: []imo.LightConfig{{Name: "Hall", CoilAddress: 0x0600}},
	}, nil)
	require.NoError(t, err)

	fc := &fakeClient{}
	return &Publisher{
		client:  fc,
		topics:  NewTopics("imo_relay", "homeassistant"),
		device:  device,
		enabled: true,
		logger:  zap.NewNop(),
	}, fc
}

func TestPublishHomeAssistantDiscovery(t *testing.T) {
	p, fc := newTestPublisher(t)

	require.NoError(t, p.PublishHomeAssistantDiscovery())
	assert.Len(t, fc.published, 6)

	msg, ok := fc.find("homeassistant/switch/imo_relay/relay_1/config")
	require.True(t, ok)
	assert.True(t, msg.retained)

	var cfg DiscoveryConfig
	require.NoError(t, json.Unmarshal([]byte(msg.payload), &cfg))
	assert.Equal(t, "Relay 1", cfg.Name)
	assert.Equal(t, "imo_relay_relay_1", cfg.UniqueID)
	assert.Equal(t, "imo_relay/switch/relay_1/state", cfg.StateTopic)
	assert.Equal(t, "imo_relay/switch/relay_1/set", cfg.CommandTopic)
	assert.Equal(t, "switch", cfg.DeviceClass)
	assert.Equal(t, imo.Model, cfg.Device.Model)
	assert.Equal(t, []string{"imo_relay"}, cfg.Device.Identifiers)
	require.Len(t, cfg.Availability, 2)
	assert.Equal(t, "all", cfg.AvailabilityMode)

	_, ok = fc.find("homeassistant/switch/imo_relay/light_1/config")
	assert.True(t, ok)
	_, ok = fc.find("homeassistant/binary_sensor/imo_relay/device_online/config")
	assert.True(t, ok)
}

func TestPublishState(t *testing.T) {
	p, fc := newTestPublisher(t)
	on, off := true, false

	require.NoError(t, p.PublishState([]imo.EntityState{
		{ID: "relay_1", State: &on},
		{ID: "relay_2", State: &off},
		{ID: "relay_3"},
	}))
	require.NoError(t, p.PublishAvailability(false))

	require.Len(t, fc.published, 3)
	assert.Equal(t, published{topic: "imo_relay/switch/relay_1/state", payload: "ON", retained: true}, fc.published[0])
	assert.Equal(t, published{topic: "imo_relay/switch/relay_2/state", payload: "OFF", retained: true}, fc.published[1])
	assert.Equal(t, published{topic: "imo_relay/device/state", payload: "offline", retained: true}, fc.published[2])
}

func TestOnConnectSubscribesAndRepublishes(t *testing.T) {
	p, fc := newTestPublisher(t)
	on := true
	ctrl := &fakeController{snap: &imo.Snapshot{
		Online:   true,
		Entities: []imo.EntityState{{ID: "relay_4", State: &on}},
	}}
	p.controller = ctrl

	p.onConnect(fc)

	msg, ok := fc.find("imo_relay/bridge/state")
	require.True(t, ok)
	assert.Equal(t, PayloadOnline, msg.payload)

	msg, ok = fc.find("imo_relay/switch/relay_4/state")
	require.True(t, ok)
	assert.Equal(t, "ON", msg.payload)

	require.Contains(t, fc.subscribed, "imo_relay/switch/+/set")
	require.Contains(t, fc.subscribed, "imo_relay/service/write_coil")

	fc.subscribed["imo_relay/switch/+/set"](fc, fakeMessage{topic: "imo_relay/switch/relay_2/set", payload: "on"})
	fc.subscribed["imo_relay/switch/+/set"](fc, fakeMessage{topic: "imo_relay/switch/relay_2/set", payload: "maybe"})
	fc.subscribed["imo_relay/service/write_coil"](fc, fakeMessage{payload: `{"address": 1365, "state": false}`})
	fc.subscribed["imo_relay/service/write_coil"](fc, fakeMessage{payload: `{"address": 1365}`})

	assert.Equal(t, []command{{id: "relay_2", on: true}}, ctrl.commands)
	assert.Equal(t, []WriteCoilRequest{{Address: 0x0555, State: false}}, ctrl.coils)
}

func TestCommandErrorIsSwallowed(t *testing.T) {
	p, fc := newTestPublisher(t)
	ctrl := &fakeController{err: errors.New("timeout")}
	p.controller = ctrl

	p.handleCommand(fc, fakeMessage{topic: "imo_relay/switch/relay_1/set", payload: "OFF"})
	assert.Len(t, ctrl.commands, 1)
}

func TestDisabledPublisher(t *testing.T) {
	p := NewPublisher(PublisherConfig{Enabled: false, BaseTopic: "imo_relay", DiscoveryPrefix: "homeassistant"})

	assert.NoError(t, p.Connect(&fakeController{}))
	assert.NoError(t, p.PublishHomeAssistantDiscovery())
	assert.NoError(t, p.PublishState(nil))
	assert.NoError(t, p.PublishAvailability(true))
	assert.False(t, p.IsConnected())
	p.Close()
}

func TestHandlersRunOutOfOrder(t *testing.T) {
	p := NewPublisher(PublisherConfig{
		Enabled:         true,
		Broker:          "tcp://localhost:1883",
		ClientID:        "imo-relay-test",
		BaseTopic:       "imo_relay",
		DiscoveryPrefix: "homeassistant",
	})

	opts := p.client.OptionsReader()
	assert.False(t, opts.Order())
	assert.True(t, opts.WillEnabled())
	assert.Equal(t, "imo_relay/bridge/state", opts.WillTopic())
}
