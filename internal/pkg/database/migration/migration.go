package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const pgDriverName = "postgres"

// zapLogger routes migrate's progress output through zap.
type zapLogger struct {
	logger *zap.Logger
}

func (l zapLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l zapLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}

// Migrate brings the schema in folderPath up to date and returns the
// resulting version. Running against an up to date schema is not an error.
func Migrate(dsn, folderPath string) (uint, error) {
	db, err := sql.Open(pgDriverName, dsn)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+folderPath, pgDriverName, driver)
	if err != nil {
		return 0, fmt.Errorf("migration source %s: %w", folderPath, err)
	}
	logger := zap.L().With(zap.String("folder", folderPath))
	m.Log = zapLogger{logger: logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, err
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, err
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info("database schema up to date", zap.Uint("version", version))
	return version, nil
}
