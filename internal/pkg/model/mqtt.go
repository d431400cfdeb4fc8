package model

type RegisterDevice struct {
	Name         string   `json:"name"`
	Identifiers  []string `json:"identifiers"`
	Model        string   `json:"model"`
	Manufacturer string   `json:"manufacturer"`
}

// RegisterMessage is a Home Assistant MQTT discovery payload for a sensor.
type RegisterMessage struct {
	Tilda             string         `json:"~"`
	Name              string         `json:"name"`
	ID                string         `json:"unique_id"`
	StateTopic        string         `json:"state_topic"`
	ValueTemplate     string         `json:"value_template"`
	UnitOfMeasurement string         `json:"unit_of_measurement,omitempty"`
	DeviceClass       string         `json:"device_class,omitempty"`
	StateClass        string         `json:"state_class,omitempty"`
	Icon              string         `json:"icon,omitempty"`
	Device            RegisterDevice `json:"device"`
}

// CameraRegisterMessage announces the QR code image as a camera entity.
type CameraRegisterMessage struct {
	Name   string         `json:"name"`
	ID     string         `json:"unique_id"`
	Topic  string         `json:"topic"`
	Icon   string         `json:"icon,omitempty"`
	Device RegisterDevice `json:"device"`
}
