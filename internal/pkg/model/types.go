package model

import "github.com/samber/lo"

type NumericUnit string

const (
	NumericUnitPercent      NumericUnit = "%"
	NumericUnitWatt         NumericUnit = "W"
	NumericUnitKiloWattHour NumericUnit = "kWh"
	NumericUnitVolt         NumericUnit = "V"
)

type StateClass string

const (
	StateClassMeasurement     StateClass = "measurement"
	StateClassTotalIncreasing StateClass = "total_increasing"
)

// Sensor describes one entity exposed for a device. Field is the reading
// field it is taken from; text sensors carry the token status instead.
type Sensor struct {
	Field       string
	Name        string
	Unit        NumericUnit
	DeviceClass string
	StateClass  StateClass
	Icon        string
	Text        bool
}

func (s Sensor) Slug() string {
	return Slugify(s.Name)
}

type Sensorz []Sensor

var Sensors = Sensorz{
	{Field: "pv_power", Name: "PV Power", Unit: NumericUnitWatt, DeviceClass: "power", StateClass: StateClassMeasurement, Icon: "mdi:solar-power"},
	{Field: "voltage", Name: "Voltage", Unit: NumericUnitVolt, DeviceClass: "voltage", StateClass: StateClassMeasurement, Icon: "mdi:flash"},
	{Field: "daily_generation", Name: "Daily Generation", Unit: NumericUnitKiloWattHour, DeviceClass: "energy", StateClass: StateClassTotalIncreasing, Icon: "mdi:solar-power-variant"},
	{Field: "total_generation", Name: "Total Generation", Unit: NumericUnitKiloWattHour, DeviceClass: "energy", StateClass: StateClassTotalIncreasing, Icon: "mdi:counter"},
	{Field: "battery_soc", Name: "Battery SOC", Unit: NumericUnitPercent, DeviceClass: "battery", StateClass: StateClassMeasurement, Icon: "mdi:battery"},
	{Field: "token_status", Name: "Token Status", Icon: "mdi:key", Text: true},
}

func (ss Sensorz) HasSlug(slug string) bool {
	return lo.ContainsBy(ss, func(s Sensor) bool { return s.Slug() == slug })
}

// TextSensors returns the sensors whose state is not numeric.
func (ss Sensorz) TextSensors() Sensorz {
	return lo.Filter(ss, func(s Sensor, _ int) bool { return s.Text })
}
