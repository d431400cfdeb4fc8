package publisher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

type MockSink struct {
	WriteFunc          func(ctx context.Context, data []model.Property) error
	RegisterDeviceFunc func(ctx context.Context, device *model.Device) error
	written            [][]model.Property
}

func (m *MockSink) Write(ctx context.Context, data []model.Property) error {
	m.written = append(m.written, data)
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, data)
	}
	return nil
}

func (m *MockSink) RegisterDevice(ctx context.Context, device *model.Device) error {
	if m.RegisterDeviceFunc != nil {
		return m.RegisterDeviceFunc(ctx, device)
	}
	return nil
}

func TestRegisterPublisher_Duplicate(t *testing.T) {
	p := New()
	require.NoError(t, p.RegisterPublisher("mqtt", &MockSink{}))
	assert.ErrorIs(t, p.RegisterPublisher("mqtt", &MockSink{}), ErrAlreadyRegistered)
}

func TestPublishReading(t *testing.T) {
	p := New()
	sink := &MockSink{}
	require.NoError(t, p.RegisterPublisher("test", sink))

	device := model.NewDevice("dev-1")
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	reading := iotrix.Reading{DeviceID: "dev-1", PVPower: 1500, BatterySoc: 55.5, Status: iotrix.StatusValid, FetchedAt: at}

	require.NoError(t, p.PublishReading(context.Background(), device, reading))
	require.Len(t, sink.written, 1)

	bySlug := lo.KeyBy(sink.written[0], func(p model.Property) string { return p.Slug })
	require.Len(t, bySlug, len(model.Sensors))
	assert.Equal(t, model.Property{
		TimeStamp:  at,
		Unit:       "W",
		Value:      "1500.0000",
		Identifier: "iotrix_dev_1",
		Slug:       "pv_power",
	}, bySlug["pv_power"])
	assert.Equal(t, "55.5000", bySlug["battery_soc"].Value)
	assert.Equal(t, "0.0000", bySlug["voltage"].Value)
	assert.Equal(t, "valid", bySlug["token_status"].Value)
	assert.Empty(t, bySlug["token_status"].Unit)

	// unchanged values are skipped, only the status flips
	require.NoError(t, p.PublishReading(context.Background(), device, reading.WithStatus(iotrix.StatusStale)))
	require.Len(t, sink.written, 2)
	require.Len(t, sink.written[1], 1)
	assert.Equal(t, "stale", sink.written[1][0].Value)

	require.NoError(t, p.PublishReading(context.Background(), device, reading.WithStatus(iotrix.StatusStale)))
	assert.Len(t, sink.written, 2)
}

func TestPublishReading_SinkErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	original := zap.L()
	zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(func() { zap.ReplaceGlobals(original) })

	p := New()
	failing := &MockSink{WriteFunc: func(context.Context, []model.Property) error { return errors.New("broker down") }}
	ok := &MockSink{}
	require.NoError(t, p.RegisterPublisher("failing", failing))
	require.NoError(t, p.RegisterPublisher("ok", ok))

	err := p.PublishReading(context.Background(), model.NewDevice("dev-1"), iotrix.Reading{Status: iotrix.StatusValid})
	require.NoError(t, err)

	assert.Len(t, ok.written, 1)
	require.Equal(t, 1, logs.FilterMessage("failed to publish data").Len())
	assert.Equal(t, "failing", logs.All()[0].ContextMap()["publisher"])
}

func TestReadingFieldsMatchSensors(t *testing.T) {
	values := iotrix.Reading{}.Values()
	for _, s := range model.Sensors {
		if s.Text {
			continue
		}
		_, ok := values[s.Field]
		assert.True(t, ok, s.Field)
	}
}

func TestPublishReading_RetriesAfterFailedWrite(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	sink := &MockSink{WriteFunc: func(context.Context, []model.Property) error {
		if fail.Load() {
			return errors.New("broker down")
		}
		return nil
	}}
	p := New()
	require.NoError(t, p.RegisterPublisher("mqtt", sink))

	device := model.NewDevice("dev-1")
	reading := iotrix.Reading{DeviceID: "dev-1", PVPower: 900, Status: iotrix.StatusValid}

	require.NoError(t, p.PublishReading(context.Background(), device, reading))
	require.Len(t, sink.written, 1)

	fail.Store(false)
	require.NoError(t, p.PublishReading(context.Background(), device, reading))
	require.Len(t, sink.written, 2)
	assert.Len(t, sink.written[1], len(model.Sensors))

	// accepted now, so the same reading is deduplicated
	require.NoError(t, p.PublishReading(context.Background(), device, reading))
	assert.Len(t, sink.written, 2)
}
