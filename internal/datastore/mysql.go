package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/conf"
	"github.com/dermascan/dermascan/internal/logger"
)

// MySQLStore implements Interface for MySQL.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func mysqlDSN(settings *conf.Settings) string {
	m := settings.Database.MySQL
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		m.Username, m.Password, m.Host, m.Port, m.Database)
}

// Open connects and migrates.
func (store *MySQLStore) Open() error {
	dsn := mysqlDSN(store.Settings)
	db, err := gorm.Open(mysql.Open(dsn), gormConfig(store.Logger, slowQueryThreshold(store.Settings)))
	if err != nil {
		store.Logger.Error("failed to open MySQL database",
			logger.String("dsn", redactSensitiveInfo(dsn)),
			logger.Error(err))
		return dbError(fmt.Errorf("failed to open MySQL database: %w", err), "open",
			"host", store.Settings.Database.MySQL.Host)
	}

	store.DB = db
	store.Logger.Info("mysql database opened",
		logger.String("host", store.Settings.Database.MySQL.Host),
		logger.String("database", store.Settings.Database.MySQL.Database))
	return store.Migrate()
}
