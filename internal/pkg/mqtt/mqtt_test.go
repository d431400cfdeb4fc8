package mqtt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

type fakeToken struct {
	err      error
	complete bool
}

func (t *fakeToken) Wait() bool                     { return t.complete }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type MockClient struct {
	PublishFunc func(topic string) paho_mqtt.Token
	published   []message
}

func (m *MockClient) Connect() paho_mqtt.Token { return &fakeToken{complete: true} }
func (m *MockClient) Disconnect(uint)          {}
func (m *MockClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho_mqtt.Token {
	m.published = append(m.published, message{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	if m.PublishFunc != nil {
		return m.PublishFunc(topic)
	}
	return &fakeToken{complete: true}
}

func TestRegisterDevice(t *testing.T) {
	client := &MockClient{}
	svc := New(client)
	device := model.NewDevice("dev-1")

	require.NoError(t, svc.RegisterDevice(context.Background(), device))
	require.Len(t, client.published, len(model.Sensors)+1)

	first := client.published[0]
	assert.Equal(t, "homeassistant/sensor/iotrix_dev_1/pv_power/config", first.topic)
	assert.True(t, first.retained)

	var msg model.RegisterMessage
	require.NoError(t, json.Unmarshal(first.payload, &msg))
	assert.Equal(t, "iotrix_dev_1_pv_power", msg.ID)
	assert.Equal(t, "homeassistant/sensor/iotrix_dev_1/pv_power", msg.Tilda)
	assert.Equal(t, "~/state", msg.StateTopic)
	assert.Equal(t, "W", msg.UnitOfMeasurement)
	assert.Equal(t, "measurement", msg.StateClass)
	assert.Equal(t, "Iotrix", msg.Device.Manufacturer)

	last := client.published[len(client.published)-1]
	assert.Equal(t, "homeassistant/camera/iotrix_dev_1/qrcode/config", last.topic)
	var camera model.CameraRegisterMessage
	require.NoError(t, json.Unmarshal(last.payload, &camera))
	assert.Equal(t, "homeassistant/camera/iotrix_dev_1/qrcode", camera.Topic)

	// second registration is a no-op
	require.NoError(t, svc.RegisterDevice(context.Background(), device))
	assert.Len(t, client.published, len(model.Sensors)+1)
}

func TestRegisterDevice_Timeout(t *testing.T) {
	client := &MockClient{PublishFunc: func(string) paho_mqtt.Token { return &fakeToken{} }}
	svc := New(client)

	err := svc.RegisterDevice(context.Background(), model.NewDevice("dev-1"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWrite(t *testing.T) {
	client := &MockClient{}
	svc := New(client)

	err := svc.Write(context.Background(), []model.Property{
		{Identifier: "iotrix_dev_1", Slug: "pv_power", Value: "12.0000", Unit: "W"},
		{Identifier: "iotrix_dev_1", Slug: "token_status", Value: "valid"},
	})
	require.NoError(t, err)
	require.Len(t, client.published, 2)

	assert.Equal(t, "homeassistant/sensor/iotrix_dev_1/pv_power/state", client.published[0].topic)
	assert.JSONEq(t, `{"value":"12.0000","unit_of_measurement":"W"}`, string(client.published[0].payload))
	assert.JSONEq(t, `{"value":"valid"}`, string(client.published[1].payload))
}

func TestWrite_StopsOnError(t *testing.T) {
	client := &MockClient{PublishFunc: func(string) paho_mqtt.Token {
		return &fakeToken{complete: true, err: errors.New("not connected")}
	}}
	svc := New(client)

	err := svc.Write(context.Background(), []model.Property{{Slug: "a"}, {Slug: "b"}})
	assert.EqualError(t, err, "not connected")
	assert.Len(t, client.published, 1)
}

func TestPublishQrCode(t *testing.T) {
	client := &MockClient{}
	svc := New(client)
	device := model.NewDevice("dev-1")

	require.NoError(t, svc.PublishQrCode(device, iotrix.QrCode{ID: "q", ImageURL: "https://example.com/qr.png"}))
	assert.Empty(t, client.published)

	png := []byte{0x89, 'P', 'N', 'G'}
	code := iotrix.QrCode{ID: "q", ImageData: base64.StdEncoding.EncodeToString(png)}
	require.NoError(t, svc.PublishQrCode(device, code))
	require.Len(t, client.published, 1)
	assert.Equal(t, "homeassistant/camera/iotrix_dev_1/qrcode", client.published[0].topic)
	assert.Equal(t, png, client.published[0].payload)
	assert.True(t, client.published[0].retained)
}
