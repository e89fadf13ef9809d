package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"imo-relay/internal/imo"
	"imo-relay/internal/metrics"
	"imo-relay/internal/storage"

	"go.uber.org/zap"
)

const cleanupInterval = time.Hour

var ErrNotInitialized = errors.New("collector not initialized")

// Store persists state transitions.
type Store interface {
	SaveChanges(changes []storage.StateChange) error
	CleanOldChanges(olderThan time.Duration) (int64, error)
}

// Publisher pushes entity states and device availability to the bus.
type Publisher interface {
	PublishState(states []imo.EntityState) error
	PublishAvailability(online bool) error
}

type Collector struct {
	device    *imo.Device
	store     Store
	publisher Publisher
	metrics   *metrics.Metrics
	interval  time.Duration
	enabled   bool
	retention time.Duration
	logger    *zap.Logger

	// serializes poll cycles so change detection sees a consistent previous snapshot
	collectMu sync.Mutex

	mu           sync.RWMutex
	latestData   *imo.Snapshot
	isCollecting bool
}

type CollectorConfig struct {
	Device    *imo.Device
	Store     Store
	Publisher Publisher
	Metrics   *metrics.Metrics
	Interval  time.Duration
	Enabled   bool
	Retention time.Duration
	Logger    *zap.Logger
}

func NewCollector(cfg CollectorConfig) *Collector {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		device:    cfg.Device,
		store:     cfg.Store,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
		interval:  cfg.Interval,
		enabled:   cfg.Enabled,
		retention: cfg.Retention,
		logger:    logger,
	}
}

// Start polls the device until ctx is done. A disabled collector returns at once.
func (c *Collector) Start(ctx context.Context) error {
	if !c.enabled {
		c.logger.Info("collector is disabled")
		return nil
	}
	if c.device == nil {
		return ErrNotInitialized
	}

	c.mu.Lock()
	c.isCollecting = true
	c.mu.Unlock()

	c.logger.Info("starting collector", zap.Duration("interval", c.interval))

	c.collect(storage.SourcePoll)
	c.cleanup()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("collector stopped")
			c.mu.Lock()
			c.isCollecting = false
			c.mu.Unlock()
			return nil
		case <-ticker.C:
			c.collect(storage.SourcePoll)
		case <-cleanup.C:
			c.cleanup()
		}
	}
}

// CollectOnce runs a single poll cycle and returns its snapshot.
func (c *Collector) CollectOnce() (*imo.Snapshot, error) {
	if c.device == nil {
		return nil, ErrNotInitialized
	}
	return c.collect(storage.SourcePoll), nil
}

func (c *Collector) collect(source string) *imo.Snapshot {
	c.collectMu.Lock()
	defer c.collectMu.Unlock()

	start := time.Now()
	snap := c.device.Refresh()
	c.metrics.ObserveSnapshot(snap, time.Since(start))

	c.mu.Lock()
	prev := c.latestData
	c.latestData = snap
	c.mu.Unlock()

	if prev == nil || prev.Online != snap.Online {
		if snap.Online {
			c.logger.Info("device online", zap.String("device", c.device.Name()))
		} else {
			c.logger.Warn("device offline", zap.String("device", c.device.Name()), zap.Int("errors", snap.Errors))
		}
		if c.publisher != nil {
			if err := c.publisher.PublishAvailability(snap.Online); err != nil {
				c.logger.Error("failed to publish availability", zap.Error(err))
			}
		}
	}

	changes := snap.Changes(prev)
	if len(changes) == 0 {
		return snap
	}

	for _, ch := range changes {
		c.logger.Info("state changed",
			zap.String("entity", ch.ID),
			zap.Bool("on", *ch.State),
			zap.String("source", source))
	}

	if c.store != nil {
		if err := c.store.SaveChanges(toRecords(snap.Timestamp, changes, source)); err != nil {
			c.logger.Error("failed to save state changes", zap.Error(err))
		}
	}

	if c.publisher != nil {
		if err := c.publisher.PublishState(changes); err != nil {
			c.logger.Error("failed to publish state", zap.Error(err))
		}
	}

	return snap
}

func toRecords(ts time.Time, changes []imo.EntityState, source string) []storage.StateChange {
	records := make([]storage.StateChange, 0, len(changes))
	for _, ch := range changes {
		records = append(records, storage.StateChange{
			Timestamp: ts,
			EntityID:  ch.ID,
			Name:      ch.Name,
			Kind:      string(ch.Kind),
			State:     *ch.State,
			Source:    source,
		})
	}
	return records
}

func (c *Collector) cleanup() {
	if c.store == nil || c.retention <= 0 {
		return
	}
	n, err := c.store.CleanOldChanges(c.retention)
	if err != nil {
		c.logger.Error("failed to clean old state changes", zap.Error(err))
		return
	}
	if n > 0 {
		c.logger.Info("cleaned old state changes", zap.Int64("deleted", n))
	}
}

// Command switches one entity and refreshes the states right after.
func (c *Collector) Command(id string, on bool) error {
	if c.device == nil {
		return ErrNotInitialized
	}
	e, err := c.device.Entity(id)
	if err != nil {
		return err
	}

	if on {
		err = e.TurnOn()
	} else {
		err = e.TurnOff()
	}
	c.metrics.ObserveCommand(err)
	if err != nil {
		return err
	}

	c.logger.Info("command executed", zap.String("entity", id), zap.Bool("on", on))
	c.collect(storage.SourceCommand)
	return nil
}

// WriteCoil writes a raw coil on the configured slave. The coil may back a
// configured entity, so the states are refreshed afterwards.
func (c *Collector) WriteCoil(addr uint16, state bool) error {
	if c.device == nil {
		return ErrNotInitialized
	}
	err := c.device.WriteCoil(addr, state)
	c.metrics.ObserveCommand(err)
	if err != nil {
		return err
	}
	c.logger.Info("coil written", zap.Uint16("address", addr), zap.Bool("state", state))
	c.collect(storage.SourceCommand)
	return nil
}

func (c *Collector) ReadCoils(addr, count uint16) ([]bool, error) {
	if c.device == nil {
		return nil, ErrNotInitialized
	}
	return c.device.ReadBlock(addr, count)
}

func (c *Collector) GetLatestData() *imo.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestData
}

func (c *Collector) IsCollecting() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isCollecting
}
