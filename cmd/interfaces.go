package cmd

import (
	"context"
	"time"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

// Fetcher is what the coordinator needs from an iotrix fetcher.
type Fetcher interface {
	Fetch(ctx context.Context) (iotrix.Reading, error)
	SetToken(token string)
	Close() error
}

// Store is the postgres sink and last known good cache.
type Store interface {
	Write(ctx context.Context, data []model.Property) error
	RegisterDevice(ctx context.Context, device *model.Device) error
	WriteReading(ctx context.Context, r iotrix.Reading) error
	LatestReading(ctx context.Context, deviceID string) (*iotrix.Reading, error)
	GetProperties(ctx context.Context, identifier, slug string, from, to *time.Time) (model.Properties, error)
	GetLatestProperties(ctx context.Context, identifier string) (model.Properties, error)
	Cleanup(ctx context.Context) error
	Close() error
}

// MqttPublisher is the Home Assistant MQTT sink.
type MqttPublisher interface {
	Write(ctx context.Context, data []model.Property) error
	RegisterDevice(ctx context.Context, device *model.Device) error
	PublishQrCode(device *model.Device, code iotrix.QrCode) error
	Close() error
}
