package model

import (
	"strings"

	"github.com/gosimple/slug"
)

const Manufacturer = "Iotrix"

type Device struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Name  string `json:"name"`
}

// NewDevice describes the inverter behind an iotrix device id.
func NewDevice(id string) *Device {
	return &Device{
		ID:    id,
		Model: "Solar Inverter",
		Name:  "Iotrix Solar (" + id + ")",
	}
}

// Identifier is the slug used in topics and unique ids.
func (d Device) Identifier() string {
	return Slugify("iotrix " + d.ID)
}

// Slugify turns a display name into an underscore separated slug.
func Slugify(name string) string {
	return strings.Replace(slug.Make(name), "-", "_", -1)
}

type DeviceStatus struct {
	Name  string  `json:"name"`
	Slug  string  `json:"slug"`
	Value *string `json:"value"`
	Unit  string  `json:"unit"`
}
