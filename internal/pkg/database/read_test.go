package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPropertyRange(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	from := now.Add(-6 * time.Hour)
	to := now.Add(-time.Hour)

	tests := []struct {
		name             string
		from, to         *time.Time
		wantFrom, wantTo time.Time
	}{
		{name: "both", from: &from, to: &to, wantFrom: from, wantTo: to},
		{name: "from only", from: &from, wantFrom: from, wantTo: now},
		{name: "to only", to: &to, wantFrom: to.AddDate(0, 0, -2), wantTo: to},
		{name: "neither", wantFrom: now.AddDate(0, 0, -2), wantTo: now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFrom, gotTo := propertyRange(tt.from, tt.to, now)
			assert.Equal(t, tt.wantFrom, *gotFrom)
			assert.Equal(t, tt.wantTo, *gotTo)
		})
	}
}
