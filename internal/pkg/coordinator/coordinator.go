// Package coordinator schedules refreshes of every registered device and
// serves the last known good reading when a refresh fails.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

var (
	ErrUnknownDevice = errors.New("unknown device")
	ErrDuplicate     = errors.New("device already registered")
)

type fetcher interface {
	Fetch(ctx context.Context) (iotrix.Reading, error)
	SetToken(token string)
	Close() error
}

type cache interface {
	WriteReading(ctx context.Context, r iotrix.Reading) error
	LatestReading(ctx context.Context, deviceID string) (*iotrix.Reading, error)
}

type publisher interface {
	RegisterDevice(ctx context.Context, device *model.Device) error
	PublishReading(ctx context.Context, device *model.Device, reading iotrix.Reading) error
}

type entry struct {
	device   *model.Device
	fetcher  fetcher
	interval time.Duration

	// fetchMu serializes fetches of the device; mu guards the fields below.
	fetchMu sync.Mutex
	mu      sync.Mutex
	current *iotrix.Reading
	lastErr error
}

func (e *entry) set(current *iotrix.Reading, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if current != nil {
		e.current = current
	}
	e.lastErr = err
}

func (e *entry) snapshot() (*iotrix.Reading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.lastErr
}

// DeviceInfo summarizes the state of a registered device.
type DeviceInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"token_status,omitempty"`
	FetchedAt time.Time `json:"fetched_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

type Coordinator struct {
	cache     cache
	publisher publisher
	logger    *zap.Logger

	mu      sync.RWMutex
	devices map[string]*entry

	closeOnce sync.Once
}

func New(cache cache, publisher publisher) *Coordinator {
	return &Coordinator{
		cache:     cache,
		publisher: publisher,
		logger:    zap.L(),
		devices:   make(map[string]*entry),
	}
}

func (c *Coordinator) Register(deviceID string, f fetcher, interval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[deviceID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, deviceID)
	}
	c.devices[deviceID] = &entry{
		device:   model.NewDevice(deviceID),
		fetcher:  f,
		interval: interval,
	}
	return nil
}

func (c *Coordinator) get(deviceID string) (*entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	return e, nil
}

// Refresh fetches a fresh reading. When the fetch fails with an auth, api or
// network error and a previous reading exists, that reading is returned
// tagged expired or stale instead of the error.
func (c *Coordinator) Refresh(ctx context.Context, deviceID string) (iotrix.Reading, error) {
	e, err := c.get(deviceID)
	if err != nil {
		return iotrix.Reading{}, err
	}
	e.fetchMu.Lock()
	defer e.fetchMu.Unlock()

	reading, err := e.fetcher.Fetch(ctx)
	if err == nil {
		e.set(&reading, nil)
		if err := c.cache.WriteReading(ctx, reading); err != nil {
			c.logger.Error("failed to cache reading", zap.String("device_id", deviceID), zap.Error(err))
		}
		c.publish(ctx, e, reading)
		return reading, nil
	}
	e.set(nil, err)

	status, ok := fallbackStatus(err)
	if !ok {
		return iotrix.Reading{}, err
	}
	cached, cacheErr := c.lastKnownGood(ctx, e)
	if cacheErr != nil {
		c.logger.Error("failed to load cached reading", zap.String("device_id", deviceID), zap.Error(cacheErr))
	}
	if cached == nil {
		return iotrix.Reading{}, err
	}

	fallback := cached.WithStatus(status)
	e.set(&fallback, err)
	c.logger.Warn("refresh failed, serving cached reading",
		zap.String("device_id", deviceID),
		zap.String("token_status", status),
		zap.Time("fetched_at", fallback.FetchedAt),
		zap.Error(err),
	)
	c.publish(ctx, e, fallback)
	return fallback, nil
}

func (c *Coordinator) publish(ctx context.Context, e *entry, reading iotrix.Reading) {
	if err := c.publisher.PublishReading(ctx, e.device, reading); err != nil {
		c.logger.Error("failed to publish reading", zap.String("device_id", e.device.ID), zap.Error(err))
	}
}

func (c *Coordinator) lastKnownGood(ctx context.Context, e *entry) (*iotrix.Reading, error) {
	if current, _ := e.snapshot(); current != nil {
		return current, nil
	}
	return c.cache.LatestReading(ctx, e.device.ID)
}

// fallbackStatus reports which status a cached reading gets for err, or
// false when err must reach the caller.
func fallbackStatus(err error) (string, bool) {
	var apiErr *iotrix.APIError
	switch {
	case errors.Is(err, iotrix.ErrConfiguration):
		return "", false
	case errors.Is(err, iotrix.ErrAuthExpired),
		errors.Is(err, iotrix.ErrAuth),
		errors.Is(err, iotrix.ErrQrExpired),
		errors.Is(err, iotrix.ErrQrTimeout),
		errors.Is(err, iotrix.ErrQrCode):
		return iotrix.StatusExpired, true
	case errors.Is(err, iotrix.ErrNetwork), errors.As(err, &apiErr):
		return iotrix.StatusStale, true
	}
	return "", false
}

// Latest returns the reading currently served for deviceID.
func (c *Coordinator) Latest(deviceID string) (iotrix.Reading, bool) {
	e, err := c.get(deviceID)
	if err != nil {
		return iotrix.Reading{}, false
	}
	current, _ := e.snapshot()
	if current == nil {
		return iotrix.Reading{}, false
	}
	return *current, true
}

// SetToken hands a token obtained elsewhere, e.g. by the setup wizard, to
// the device's fetcher.
func (c *Coordinator) SetToken(deviceID, token string) error {
	e, err := c.get(deviceID)
	if err != nil {
		return err
	}
	e.fetcher.SetToken(token)
	return nil
}

func (c *Coordinator) Devices() []DeviceInfo {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.devices))
	for _, e := range c.devices {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	out := make([]DeviceInfo, 0, len(entries))
	for _, e := range entries {
		current, lastErr := e.snapshot()
		info := DeviceInfo{ID: e.device.ID, Name: e.device.Name}
		if current != nil {
			info.Status, info.FetchedAt = current.Status, current.FetchedAt
		}
		if lastErr != nil {
			info.LastError = lastErr.Error()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run registers every device with the publishers, refreshes each once and
// then on its interval until ctx is done. Fetchers are closed on return.
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.Close()

	c.mu.RLock()
	entries := make([]*entry, 0, len(c.devices))
	for _, e := range c.devices {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	cr := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	for _, e := range entries {
		id := e.device.ID
		if err := c.publisher.RegisterDevice(ctx, e.device); err != nil {
			c.logger.Error("failed to register device", zap.String("device_id", id), zap.Error(err))
		}
		c.prime(ctx, e)
		c.refreshLogged(ctx, id)

		if _, err := cr.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
			c.refreshLogged(ctx, id)
		}); err != nil {
			return err
		}
	}

	cr.Start()
	<-ctx.Done()
	<-cr.Stop().Done()
	c.logger.Info("coordinator stopped")
	return nil
}

// prime loads the persisted reading so it can be served before the first
// successful refresh.
func (c *Coordinator) prime(ctx context.Context, e *entry) {
	if current, _ := e.snapshot(); current != nil {
		return
	}
	cached, err := c.cache.LatestReading(ctx, e.device.ID)
	if err != nil {
		c.logger.Error("failed to load cached reading", zap.String("device_id", e.device.ID), zap.Error(err))
		return
	}
	if cached != nil {
		e.set(cached, nil)
	}
}

func (c *Coordinator) refreshLogged(ctx context.Context, deviceID string) {
	reading, err := c.Refresh(ctx, deviceID)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("refresh failed", zap.String("device_id", deviceID), zap.Error(err))
		}
		return
	}
	c.logger.Debug("refreshed device", zap.String("device_id", deviceID), zap.String("token_status", reading.Status))
}

// Close closes every fetcher. Only the first call has an effect.
func (c *Coordinator) Close() error {
	var errs []error
	c.closeOnce.Do(func() {
		c.mu.RLock()
		defer c.mu.RUnlock()
		for id, e := range c.devices {
			if err := e.fetcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", id, err))
			}
		}
	})
	return errors.Join(errs...)
}
