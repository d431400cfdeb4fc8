package database

import (
	"context"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

func (db *Database) Write(ctx context.Context, data []model.Property) error {
	tx, err := db.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, record := range data {
		if _, err := tx.Exec(ctx, `
			INSERT INTO property (time_stamp, unit_of_measurement, value, identifier, slug)
			VALUES ($1, $2, $3, $4, $5)
		`, record.TimeStamp, record.Unit, record.Value, record.Identifier, record.Slug); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (db *Database) RegisterDevice(ctx context.Context, device *model.Device) error {
	_, err := db.conn.Exec(ctx, `
		INSERT INTO device (id, model, name)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING;`, device.ID, device.Model, device.Name)
	return err
}

// WriteReading replaces the last known good reading of the device.
func (db *Database) WriteReading(ctx context.Context, r iotrix.Reading) error {
	_, err := db.conn.Exec(ctx, `
		INSERT INTO reading (device_id, pv_power, voltage, daily_generation, total_generation, battery_soc, status, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (device_id) DO UPDATE SET
			pv_power = EXCLUDED.pv_power,
			voltage = EXCLUDED.voltage,
			daily_generation = EXCLUDED.daily_generation,
			total_generation = EXCLUDED.total_generation,
			battery_soc = EXCLUDED.battery_soc,
			status = EXCLUDED.status,
			fetched_at = EXCLUDED.fetched_at;`,
		r.DeviceID, r.PVPower, r.Voltage, r.DailyGeneration, r.TotalGeneration, r.BatterySoc, r.Status, r.FetchedAt)
	return err
}
