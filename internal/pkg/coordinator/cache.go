package coordinator

import (
	"context"
	"sync"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
)

// MemoryCache keeps the last known good reading per device in memory. It is
// used when no database is configured.
type MemoryCache struct {
	mu       sync.Mutex
	readings map[string]iotrix.Reading
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{readings: make(map[string]iotrix.Reading)}
}

func (m *MemoryCache) WriteReading(_ context.Context, r iotrix.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[r.DeviceID] = r
	return nil
}

func (m *MemoryCache) LatestReading(_ context.Context, deviceID string) (*iotrix.Reading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.readings[deviceID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}
