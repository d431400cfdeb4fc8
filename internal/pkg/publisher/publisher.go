package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

var ErrAlreadyRegistered = errors.New("publisher already registered")

type sink interface {
	// Write stores or forwards the changed sensor values.
	Write(ctx context.Context, data []model.Property) error
	RegisterDevice(ctx context.Context, device *model.Device) error
}

// Publisher fans sensor values out to every registered sink, skipping values
// that did not change since the last publish.
type Publisher struct {
	mu      sync.RWMutex
	sinks   map[string]sink
	sensors sync.Map
	logger  *zap.Logger
}

func New() *Publisher {
	return &Publisher{
		sinks:  make(map[string]sink),
		logger: zap.L(),
	}
}

func (p *Publisher) RegisterPublisher(name string, s sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sinks[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	p.sinks[name] = s
	return nil
}

func (p *Publisher) RegisterDevice(ctx context.Context, device *model.Device) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name, s := range p.sinks {
		if err := s.RegisterDevice(ctx, device); err != nil {
			p.logger.Error("failed to register device", zap.Error(err), zap.String("publisher", name))
			continue
		}
		p.logger.Debug("registered device", zap.String("device", device.ID), zap.String("publisher", name))
	}
	return nil
}

// PublishReading converts reading into one property per sensor and writes
// the changed ones.
func (p *Publisher) PublishReading(ctx context.Context, device *model.Device, reading iotrix.Reading) error {
	identifier := device.Identifier()
	values := reading.Values()

	data := make([]model.Property, 0, len(model.Sensors))
	for _, sensor := range model.Sensors {
		val := reading.Status
		if !sensor.Text {
			val = strconv.FormatFloat(values[sensor.Field], 'f', 4, 64)
		}
		if !p.changed(identifier, sensor.Slug(), val) {
			continue
		}
		data = append(data, model.Property{
			TimeStamp:  reading.FetchedAt,
			Unit:       string(sensor.Unit),
			Value:      val,
			Identifier: identifier,
			Slug:       sensor.Slug(),
		})
	}
	if len(data) == 0 {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	written := 0
	for name, s := range p.sinks {
		if err := s.Write(ctx, data); err != nil {
			p.logger.Error("failed to publish data", zap.Error(err), zap.String("publisher", name))
			continue
		}
		written++
		p.logger.Debug("updated sensors", zap.Int("count", len(data)), zap.String("publisher", name))
	}
	// Values no sink accepted are retried on the next reading.
	if written > 0 {
		for _, prop := range data {
			p.remember(prop.Identifier, prop.Slug, prop.Value)
		}
	}
	return nil
}

func sensorKey(identifier, slug string) string {
	return fmt.Sprintf("%s_%s", identifier, slug)
}

func (p *Publisher) changed(identifier, slug, newValue string) bool {
	oldValue, exists := p.sensors.Load(sensorKey(identifier, slug))
	return !exists || !strings.EqualFold(newValue, oldValue.(string))
}

func (p *Publisher) remember(identifier, slug, value string) {
	if _, loaded := p.sensors.Swap(sensorKey(identifier, slug), value); !loaded {
		p.logger.Info("configured sensor", zap.String("device", identifier), zap.String("sensor", slug), zap.String("value", value))
	}
}
