package model

import (
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

func TestDevice_Identifier(t *testing.T) {
	d := NewDevice("INV-42.a")
	assert.Equal(t, "iotrix_inv_42_a", d.Identifier())
	assert.Equal(t, "Iotrix Solar (INV-42.a)", d.Name)
}

func TestSensors(t *testing.T) {
	slugs := lo.Map(Sensors, func(s Sensor, _ int) string { return s.Slug() })
	assert.Equal(t, []string{"pv_power", "voltage", "daily_generation", "total_generation", "battery_soc", "token_status"}, slugs)

	assert.True(t, Sensors.HasSlug("battery_soc"))
	assert.False(t, Sensors.HasSlug("grid_power"))
	assert.Len(t, Sensors.TextSensors(), 1)
	assert.Equal(t, "token_status", Sensors.TextSensors()[0].Field)
}

func TestProperties_BySlug(t *testing.T) {
	now := time.Now()
	props := Properties{
		{Slug: "pv_power", Value: "1", TimeStamp: now.Add(-time.Minute)},
		{Slug: "pv_power", Value: "2", TimeStamp: now},
		{Slug: "token_status", Value: "valid", TimeStamp: now},
	}
	latest := props.BySlug()
	assert.Len(t, latest, 2)
	assert.Equal(t, "2", latest["pv_power"].Value)

	v, ok := latest["pv_power"].Float()
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	_, ok = latest["token_status"].Float()
	assert.False(t, ok)
}
