package datastore

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/logger"
)

// PostgresStore implements Interface for PostgreSQL.
type PostgresStore struct {
	DataStore
	Settings *conf.Settings
}

func postgresDSN(settings *conf.Settings) string {
	p := settings.Database.Postgres
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.Username, p.Password, p.Database, sslMode)
}

// Open connects and migrates.
func (store *PostgresStore) Open() error {
	dsn := postgresDSN(store.Settings)
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(store.Logger, slowQueryThreshold(store.Settings)))
	if err != nil {
		store.Logger.Error("failed to open Postgres database",
			logger.String("dsn", redactSensitiveInfo(dsn)),
			logger.Error(err))
		return dbError(fmt.Errorf("failed to open Postgres database: %w", err), "open",
			"host", store.Settings.Database.Postgres.Host)
	}

	store.DB = db
	store.Logger.Info("postgres database opened",
		logger.String("host", store.Settings.Database.Postgres.Host),
		logger.String("database", store.Settings.Database.Postgres.Database))
	return store.Migrate()
}
