package iotrix

import (
	"time"

	"github.com/tidwall/gjson"
)

// Reading statuses.
const (
	StatusValid   = "valid"
	StatusExpired = "expired" // last-known-good served after an auth failure
	StatusStale   = "stale"   // last-known-good served after an api or network failure
)

// Reading is one telemetry snapshot. Numeric fields missing from the vendor
// response are 0.
type Reading struct {
	DeviceID        string    `json:"device_id"`
	PVPower         float64   `json:"pv_power"`
	Voltage         float64   `json:"voltage"`
	DailyGeneration float64   `json:"daily_generation"`
	TotalGeneration float64   `json:"total_generation"`
	BatterySoc      float64   `json:"battery_soc"`
	Status          string    `json:"token_status"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Values returns the numeric fields keyed by their logical field name.
func (r Reading) Values() map[string]float64 {
	return map[string]float64{
		FieldPVPower:         r.PVPower,
		FieldVoltage:         r.Voltage,
		FieldDailyGeneration: r.DailyGeneration,
		FieldTotalGeneration: r.TotalGeneration,
		FieldBatterySoc:      r.BatterySoc,
	}
}

// WithStatus returns a copy of r carrying status.
func (r Reading) WithStatus(status string) Reading {
	r.Status = status
	return r
}

func parseReading(body []byte, aliases FieldAliases, deviceID string, now time.Time) (Reading, error) {
	if !gjson.ValidBytes(body) {
		return Reading{}, &APIError{StatusCode: 200, Endpoint: "device data", Message: "invalid json body"}
	}
	return Reading{
		DeviceID:        deviceID,
		PVPower:         aliases.Float(body, FieldPVPower),
		Voltage:         aliases.Float(body, FieldVoltage),
		DailyGeneration: aliases.Float(body, FieldDailyGeneration),
		TotalGeneration: aliases.Float(body, FieldTotalGeneration),
		BatterySoc:      aliases.Float(body, FieldBatterySoc),
		Status:          StatusValid,
		FetchedAt:       now,
	}, nil
}
