package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/logger"
)

// SQLiteStore implements Interface for SQLite.
type SQLiteStore struct {
	DataStore
	Settings *conf.Settings
}

// Open creates the database file if needed, connects and migrates.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Database.SQLite.Path
	if path == "" {
		return validationError("sqlite path is required", "database.sqlite.path", path)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return dbError(err, "open", "path", path)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON", path)
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig(store.Logger, slowQueryThreshold(store.Settings)))
	if err != nil {
		return dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open", "path", path)
	}

	// SQLite serialises writers; one connection avoids busy errors under load.
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open", "path", path)
	}
	sqlDB.SetMaxOpenConns(1)

	store.DB = db
	store.Logger.Info("sqlite database opened", logger.String("path", path))
	return store.Migrate()
}
