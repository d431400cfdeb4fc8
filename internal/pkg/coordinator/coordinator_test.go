package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

type MockFetcher struct {
	FetchFunc func(ctx context.Context) (iotrix.Reading, error)
	token     string
	closed    int
}

func (m *MockFetcher) Fetch(ctx context.Context) (iotrix.Reading, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return iotrix.Reading{}, nil
}
func (m *MockFetcher) SetToken(token string) { m.token = token }
func (m *MockFetcher) Close() error           { m.closed++; return nil }

type MockPublisher struct {
	registered []string
	published  []iotrix.Reading
}

func (m *MockPublisher) RegisterDevice(_ context.Context, device *model.Device) error {
	m.registered = append(m.registered, device.ID)
	return nil
}

func (m *MockPublisher) PublishReading(_ context.Context, _ *model.Device, reading iotrix.Reading) error {
	m.published = append(m.published, reading)
	return nil
}

var at = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func sequence(steps ...any) func(context.Context) (iotrix.Reading, error) {
	i := 0
	return func(context.Context) (iotrix.Reading, error) {
		step := steps[i]
		if i < len(steps)-1 {
			i++
		}
		switch v := step.(type) {
		case iotrix.Reading:
			return v, nil
		case error:
			return iotrix.Reading{}, v
		}
		panic(fmt.Sprintf("unexpected step %T", step))
	}
}

func TestRegister_Duplicate(t *testing.T) {
	c := New(NewMemoryCache(), &MockPublisher{})
	require.NoError(t, c.Register("dev-1", &MockFetcher{}, time.Minute))
	assert.ErrorIs(t, c.Register("dev-1", &MockFetcher{}, time.Minute), ErrDuplicate)
}

func TestRefresh_UnknownDevice(t *testing.T) {
	c := New(NewMemoryCache(), &MockPublisher{})
	_, err := c.Refresh(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestRefresh_Fallback(t *testing.T) {
	good := iotrix.Reading{DeviceID: "dev-1", PVPower: 900, Status: iotrix.StatusValid, FetchedAt: at}

	tests := []struct {
		name       string
		err        error
		wantStatus string
		wantErr    bool
	}{
		{name: "auth expired", err: fmt.Errorf("fetch: %w", iotrix.ErrAuthExpired), wantStatus: iotrix.StatusExpired},
		{name: "login failed", err: iotrix.ErrAuth, wantStatus: iotrix.StatusExpired},
		{name: "qr timeout", err: iotrix.ErrQrTimeout, wantStatus: iotrix.StatusExpired},
		{name: "api error", err: &iotrix.APIError{StatusCode: 500, Endpoint: "device data"}, wantStatus: iotrix.StatusStale},
		{name: "network", err: fmt.Errorf("get: %w: %w", iotrix.ErrNetwork, errors.New("refused")), wantStatus: iotrix.StatusStale},
		{name: "configuration", err: iotrix.ErrConfiguration, wantErr: true},
		{name: "cancelled", err: context.Canceled, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &MockPublisher{}
			c := New(NewMemoryCache(), pub)
			require.NoError(t, c.Register("dev-1", &MockFetcher{FetchFunc: sequence(good, tt.err)}, time.Minute))

			first, err := c.Refresh(context.Background(), "dev-1")
			require.NoError(t, err)
			assert.Equal(t, good, first)

			second, err := c.Refresh(context.Background(), "dev-1")
			if tt.wantErr {
				assert.ErrorIs(t, err, tt.err)
				latest, ok := c.Latest("dev-1")
				require.True(t, ok)
				assert.Equal(t, iotrix.StatusValid, latest.Status)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, good.WithStatus(tt.wantStatus), second)
			assert.Equal(t, []iotrix.Reading{good, second}, pub.published)

			devices := c.Devices()
			require.Len(t, devices, 1)
			assert.Equal(t, tt.wantStatus, devices[0].Status)
			assert.NotEmpty(t, devices[0].LastError)
		})
	}
}

func TestRefresh_FallbackFromPersistedCache(t *testing.T) {
	cache := NewMemoryCache()
	persisted := iotrix.Reading{DeviceID: "dev-1", DailyGeneration: 12.5, Status: iotrix.StatusValid, FetchedAt: at}
	require.NoError(t, cache.WriteReading(context.Background(), persisted))

	c := New(cache, &MockPublisher{})
	require.NoError(t, c.Register("dev-1", &MockFetcher{FetchFunc: sequence(iotrix.ErrAuthExpired)}, time.Minute))

	reading, err := c.Refresh(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 12.5, reading.DailyGeneration)
	assert.Equal(t, iotrix.StatusExpired, reading.Status)

	cached, err := cache.LatestReading(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, iotrix.StatusValid, cached.Status)
}

func TestRefresh_NoCacheSurfacesError(t *testing.T) {
	pub := &MockPublisher{}
	c := New(NewMemoryCache(), pub)
	require.NoError(t, c.Register("dev-1", &MockFetcher{FetchFunc: sequence(iotrix.ErrAuthExpired)}, time.Minute))

	_, err := c.Refresh(context.Background(), "dev-1")
	assert.ErrorIs(t, err, iotrix.ErrAuthExpired)
	assert.Empty(t, pub.published)

	_, ok := c.Latest("dev-1")
	assert.False(t, ok)
}

func TestSetToken(t *testing.T) {
	c := New(NewMemoryCache(), &MockPublisher{})
	f := &MockFetcher{}
	require.NoError(t, c.Register("dev-1", f, time.Minute))

	require.NoError(t, c.SetToken("dev-1", "wizard-token"))
	assert.Equal(t, "wizard-token", f.token)
	assert.ErrorIs(t, c.SetToken("dev-2", "x"), ErrUnknownDevice)
}

func TestRun(t *testing.T) {
	cache := NewMemoryCache()
	pub := &MockPublisher{}
	c := New(cache, pub)

	fetched := make(chan struct{}, 1)
	f := &MockFetcher{FetchFunc: func(context.Context) (iotrix.Reading, error) {
		select {
		case fetched <- struct{}{}:
		default:
		}
		return iotrix.Reading{DeviceID: "dev-1", Status: iotrix.StatusValid, FetchedAt: at}, nil
	}}
	require.NoError(t, c.Register("dev-1", f, time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("initial refresh did not happen")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.Equal(t, []string{"dev-1"}, pub.registered)
	assert.Equal(t, 1, f.closed)
	assert.NoError(t, c.Close())
	assert.Equal(t, 1, f.closed)

	cached, err := cache.LatestReading(context.Background(), "dev-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
}
