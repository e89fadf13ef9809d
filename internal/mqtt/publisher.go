package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"imo-relay/internal/imo"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const publishTimeout = 5 * time.Second

// Controller executes the commands received over MQTT.
type Controller interface {
	Command(id string, on bool) error
	WriteCoil(addr uint16, state bool) error
	GetLatestData() *imo.Snapshot
}

type Publisher struct {
	client  mqtt.Client
	topics  Topics
	device  *imo.Device
	enabled bool
	logger  *zap.Logger

	mu         sync.RWMutex
	controller Controller
}

type PublisherConfig struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	BaseTopic       string
	DiscoveryPrefix string
	Enabled         bool
	Device          *imo.Device
	Logger          *zap.Logger
}

func NewPublisher(cfg PublisherConfig) *Publisher {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Publisher{
		topics:  NewTopics(cfg.BaseTopic, cfg.DiscoveryPrefix),
		device:  cfg.Device,
		enabled: cfg.Enabled,
		logger:  logger,
	}
	if !cfg.Enabled {
		return p
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		// handlers run Modbus I/O and publish, so they must not block the router
		SetOrderMatters(false).
		SetWill(p.topics.BridgeState(), PayloadOffline, 1, true).
		SetConnectionLostHandler(func(c mqtt.Client, err error) {
			logger.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(p.onConnect)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	p.client = mqtt.NewClient(opts)
	return p
}

// Connect attaches the controller and connects to the broker. Discovery,
// subscriptions and retained states are (re)sent on every connection.
func (p *Publisher) Connect(controller Controller) error {
	p.mu.Lock()
	p.controller = controller
	p.mu.Unlock()

	if !p.enabled {
		return nil
	}

	token := p.client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("mqtt connect still pending, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

func (p *Publisher) onConnect(c mqtt.Client) {
	p.logger.Info("mqtt connected")

	p.publish(p.topics.BridgeState(), PayloadOnline, true)
	if err := p.PublishHomeAssistantDiscovery(); err != nil {
		p.logger.Error("failed to publish discovery", zap.Error(err))
	}
	p.subscribe()

	p.mu.RLock()
	controller := p.controller
	p.mu.RUnlock()
	if controller == nil {
		return
	}
	if snap := controller.GetLatestData(); snap != nil {
		p.PublishAvailability(snap.Online)
		p.PublishState(snap.Entities)
	}
}

func (p *Publisher) subscribe() {
	subs := map[string]mqtt.MessageHandler{
		p.topics.CommandWildcard():  p.handleCommand,
		p.topics.WriteCoilService(): p.handleWriteCoil,
	}
	for topic, handler := range subs {
		token := p.client.Subscribe(topic, 1, handler)
		if !token.WaitTimeout(publishTimeout) {
			p.logger.Error("mqtt subscribe timed out", zap.String("topic", topic))
			continue
		}
		if err := token.Error(); err != nil {
			p.logger.Error("mqtt subscribe failed", zap.String("topic", topic), zap.Error(err))
		}
	}
}

func (p *Publisher) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	id, ok := p.topics.ParseCommand(msg.Topic())
	if !ok {
		p.logger.Warn("ignoring command on unexpected topic", zap.String("topic", msg.Topic()))
		return
	}
	on, err := ParseSwitchPayload(msg.Payload())
	if err != nil {
		p.logger.Warn("ignoring command", zap.String("entity", id), zap.Error(err))
		return
	}

	p.mu.RLock()
	controller := p.controller
	p.mu.RUnlock()
	if controller == nil {
		return
	}

	if err := controller.Command(id, on); err != nil {
		p.logger.Error("command failed", zap.String("entity", id), zap.Bool("on", on), zap.Error(err))
	}
}

func (p *Publisher) handleWriteCoil(_ mqtt.Client, msg mqtt.Message) {
	req, err := ParseWriteCoil(msg.Payload())
	if err != nil {
		p.logger.Warn("ignoring write_coil call", zap.Error(err))
		return
	}

	p.mu.RLock()
	controller := p.controller
	p.mu.RUnlock()
	if controller == nil {
		return
	}

	if err := controller.WriteCoil(req.Address, req.State); err != nil {
		p.logger.Error("write_coil failed", zap.Uint16("address", req.Address), zap.Error(err))
	}
}

func (p *Publisher) PublishHomeAssistantDiscovery() error {
	if !p.enabled || p.device == nil {
		return nil
	}

	configs := map[string]DiscoveryConfig{
		p.topics.ConnectivityDiscovery(): ConnectivityDiscovery(p.topics, p.device.Name()),
	}
	for _, e := range p.device.Entities() {
		configs[p.topics.SwitchDiscovery(e.ID())] = SwitchDiscovery(p.topics, p.device.Name(), e)
	}

	for topic, cfg := range configs {
		payload, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal discovery for %s: %w", topic, err)
		}
		p.publish(topic, payload, true)
	}
	return nil
}

// PublishState publishes the retained state of every entity with a known state.
func (p *Publisher) PublishState(states []imo.EntityState) error {
	if !p.enabled {
		return nil
	}
	for _, st := range states {
		if st.State == nil {
			continue
		}
		if err := p.publish(p.topics.SwitchState(st.ID), statePayload(*st.State), true); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) PublishAvailability(online bool) error {
	if !p.enabled {
		return nil
	}
	return p.publish(p.topics.DeviceState(), availabilityPayload(online), true)
}

func (p *Publisher) publish(topic string, payload interface{}, retained bool) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Error("mqtt publish timed out", zap.String("topic", topic))
		return fmt.Errorf("publish to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		p.logger.Error("failed to publish", zap.String("topic", topic), zap.Error(err))
		return err
	}
	return nil
}

func (p *Publisher) IsConnected() bool {
	if !p.enabled {
		return false
	}
	return p.client.IsConnected()
}

func (p *Publisher) Close() {
	if !p.enabled || p.client == nil {
		return
	}
	if p.client.IsConnected() {
		p.publish(p.topics.BridgeState(), PayloadOffline, true)
	}
	p.client.Disconnect(1000)
}
