package model

import (
	"strconv"
	"time"

	"github.com/samber/lo"
)

// Property is one stored sensor value of a device.
type Property struct {
	ID         int64     `json:"id"`
	TimeStamp  time.Time `json:"timestamp"`
	Unit       string    `json:"unit_of_measurement,omitempty"`
	Value      string    `json:"value"`
	Identifier string    `json:"identifier"`
	Slug       string    `json:"slug"`
}

// Float parses Value. Text sensors such as token_status return false.
func (p Property) Float() (float64, bool) {
	f, err := strconv.ParseFloat(p.Value, 64)
	return f, err == nil
}

type Properties []Property

// BySlug keeps the newest property per slug.
func (p Properties) BySlug() map[string]Property {
	out := lo.KeyBy(p, func(prop Property) string { return prop.Slug })
	for _, prop := range p {
		if prop.TimeStamp.After(out[prop.Slug].TimeStamp) {
			out[prop.Slug] = prop
		}
	}
	return out
}
