package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

func sensorTopic(identifier, slug string) string {
	return fmt.Sprintf("homeassistant/sensor/%s/%s", identifier, slug)
}

func cameraTopic(identifier string) string {
	return fmt.Sprintf("homeassistant/camera/%s/qrcode", identifier)
}

func (s *service) Write(ctx context.Context, data []model.Property) error {
	for _, d := range data {
		if err := s.PublishData(d); err != nil {
			return err
		}
	}
	return nil
}

// RegisterDevice publishes retained discovery configs for every sensor and
// the QR code camera. It is a no-op for an already registered device.
func (s *service) RegisterDevice(ctx context.Context, device *model.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.configured[device.ID]; exists {
		return nil
	}

	for _, sensor := range model.Sensors {
		topic := sensorTopic(device.Identifier(), sensor.Slug()) + "/config"
		if err := s.publishJSON(topic, 1, true, sensorRegisterMsg(device, sensor)); err != nil {
			return fmt.Errorf("register sensor %s: %w", sensor.Slug(), err)
		}
	}
	if err := s.publishJSON(cameraTopic(device.Identifier())+"/config", 1, true, cameraRegisterMsg(device)); err != nil {
		return fmt.Errorf("register qr camera: %w", err)
	}

	s.configured[device.ID] = struct{}{}
	return nil
}

func (s *service) PublishData(data model.Property) error {
	payload := map[string]string{
		"value": data.Value,
	}
	if !model.Sensors.TextSensors().HasSlug(data.Slug) {
		payload["unit_of_measurement"] = data.Unit
	}
	return s.publishJSON(sensorTopic(data.Identifier, data.Slug)+"/state", 0, false, payload)
}

// PublishQrCode pushes the QR image to the camera topic. Codes that only
// carry a URL are logged instead.
func (s *service) PublishQrCode(device *model.Device, code iotrix.QrCode) error {
	img, err := code.Image()
	if err != nil {
		return err
	}
	if len(img) == 0 {
		s.logger.Info("scan qr code to log in", zap.String("device", device.ID), zap.String("image_url", code.ImageURL))
		return nil
	}
	return s.wait(s.client.Publish(cameraTopic(device.Identifier()), 0, true, img))
}

func (s *service) publishJSON(topic string, qos byte, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.wait(s.client.Publish(topic, qos, retained, payload))
}

func registerDevice(device *model.Device) model.RegisterDevice {
	return model.RegisterDevice{
		Name:         device.Name,
		Identifiers:  []string{device.Identifier()},
		Model:        device.Model,
		Manufacturer: model.Manufacturer,
	}
}

func sensorRegisterMsg(device *model.Device, sensor model.Sensor) model.RegisterMessage {
	return model.RegisterMessage{
		Tilda:             sensorTopic(device.Identifier(), sensor.Slug()),
		Name:              sensor.Name,
		ID:                fmt.Sprintf("%s_%s", device.Identifier(), sensor.Slug()),
		StateTopic:        "~/state",
		ValueTemplate:     "{{ value_json.value }}",
		UnitOfMeasurement: string(sensor.Unit),
		DeviceClass:       sensor.DeviceClass,
		StateClass:        string(sensor.StateClass),
		Icon:              sensor.Icon,
		Device:            registerDevice(device),
	}
}

func cameraRegisterMsg(device *model.Device) model.CameraRegisterMessage {
	return model.CameraRegisterMessage{
		Name:   "Login QR Code",
		ID:     device.Identifier() + "_qrcode",
		Topic:  cameraTopic(device.Identifier()),
		Icon:   "mdi:qrcode",
		Device: registerDevice(device),
	}
}
