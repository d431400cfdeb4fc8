package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/anicoll/iotrix-integration/internal/pkg/iotrix"
	"github.com/anicoll/iotrix-integration/internal/pkg/model"
)

// LatestReading returns the last stored reading for deviceID, or nil when
// none exists.
func (db *Database) LatestReading(ctx context.Context, deviceID string) (*iotrix.Reading, error) {
	const query = `
	SELECT device_id, pv_power, voltage, daily_generation, total_generation, battery_soc, status, fetched_at
	FROM reading
	WHERE device_id = $1;
	`
	var r iotrix.Reading
	err := db.conn.QueryRow(ctx, query, deviceID).Scan(
		&r.DeviceID, &r.PVPower, &r.Voltage, &r.DailyGeneration, &r.TotalGeneration, &r.BatterySoc, &r.Status, &r.FetchedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (db *Database) GetProperties(ctx context.Context, identifier, slug string, from, to *time.Time) (model.Properties, error) {
	from, to = propertyRange(from, to, time.Now())
	const query = `
	SELECT id, time_stamp, unit_of_measurement, value, identifier, slug
	FROM property
	WHERE identifier = $1 AND slug = $2 AND time_stamp BETWEEN $3 AND $4
	ORDER BY time_stamp DESC;
	`

	rows, err := db.conn.Query(ctx, query, identifier, slug, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProperties(rows)
}

// propertyRange fills a missing bound: to defaults to now, from to two days
// before to.
func propertyRange(from, to *time.Time, now time.Time) (*time.Time, *time.Time) {
	if to == nil {
		to = &now
	}
	if from == nil {
		f := to.AddDate(0, 0, -2)
		from = &f
	}
	return from, to
}

// GetLatestProperties returns the newest value of every sensor of identifier.
func (db *Database) GetLatestProperties(ctx context.Context, identifier string) (model.Properties, error) {
	const query = `
	SELECT DISTINCT ON (slug) id, time_stamp, unit_of_measurement, value, identifier, slug
	FROM property
	WHERE identifier = $1
	ORDER BY slug, time_stamp DESC;
	`

	rows, err := db.conn.Query(ctx, query, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanProperties(rows)
}

func scanProperties(rows pgx.Rows) (model.Properties, error) {
	var properties model.Properties
	for rows.Next() {
		var property model.Property
		if err := rows.Scan(&property.ID, &property.TimeStamp, &property.Unit, &property.Value, &property.Identifier, &property.Slug); err != nil {
			return nil, err
		}
		properties = append(properties, property)
	}

	if err := rows.Err(); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return properties, nil
		}
		return nil, err
	}

	return properties, nil
}
