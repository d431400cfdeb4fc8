package cmd

import (
	"context"
	"sync"
	"time"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

// MockFetcher is a mock implementation of the Fetcher interface.
type MockFetcher struct {
	FetchFunc func(ctx context.Context) (iotrix.Reading, error)

	mu     sync.Mutex
	token  string
	closed int
}

func (m *MockFetcher) Fetch(ctx context.Context) (iotrix.Reading, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return iotrix.Reading{}, nil
}

func (m *MockFetcher) SetToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
}

func (m *MockFetcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return nil
}

func (m *MockFetcher) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockStore is a mock implementation of the Store interface.
type MockStore struct {
	CleanupFunc func(ctx context.Context) error

	mu         sync.Mutex
	readings   []iotrix.Reading
	properties []model.Property
	devices    []string
	cleanups   int
	closed     bool
}

func (m *MockStore) Write(_ context.Context, data []model.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties = append(m.properties, data...)
	return nil
}

func (m *MockStore) RegisterDevice(_ context.Context, device *model.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, device.ID)
	return nil
}

func (m *MockStore) WriteReading(_ context.Context, r iotrix.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings = append(m.readings, r)
	return nil
}

func (m *MockStore) LatestReading(_ context.Context, _ string) (*iotrix.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.readings) == 0 {
		return nil, nil
	}
	r := m.readings[len(m.readings)-1]
	return &r, nil
}

func (m *MockStore) GetProperties(_ context.Context, identifier, slug string, _, _ *time.Time) (model.Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out model.Properties
	for _, p := range m.properties {
		if p.Identifier == identifier && p.Slug == slug {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockStore) GetLatestProperties(_ context.Context, identifier string) (model.Properties, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out model.Properties
	for _, p := range m.properties {
		if p.Identifier == identifier {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MockStore) Cleanup(ctx context.Context) error {
	m.mu.Lock()
	m.cleanups++
	m.mu.Unlock()
	if m.CleanupFunc != nil {
		return m.CleanupFunc(ctx)
	}
	return nil
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MockMqtt is a mock implementation of the MqttPublisher interface.
type MockMqtt struct {
	mu         sync.Mutex
	properties []model.Property
	devices    []string
	qrCodes    []iotrix.QrCode
	closed     bool
}

func (m *MockMqtt) Write(_ context.Context, data []model.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.properties = append(m.properties, data...)
	return nil
}

func (m *MockMqtt) RegisterDevice(_ context.Context, device *model.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = append(m.devices, device.ID)
	return nil
}

func (m *MockMqtt) PublishQrCode(_ *model.Device, code iotrix.QrCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qrCodes = append(m.qrCodes, code)
	return nil
}

func (m *MockMqtt) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
