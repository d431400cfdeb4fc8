package database

import (
	"context"
	"time"
)

const retention = 8 * 24 * time.Hour

// Cleanup removes property history older than the retention window.
func (db *Database) Cleanup(ctx context.Context) error {
	_, err := db.conn.Exec(ctx, "DELETE FROM property WHERE time_stamp < $1", time.Now().Add(-retention))
	return err
}
