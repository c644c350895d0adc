package datastore

import (
	"regexp"
	"time"

	"gorm.io/gorm"

	"github.com/dermascan/dermascan/internal/logger"
)

// Migrate creates or updates the patients, doctors and examinations tables.
func (ds *DataStore) Migrate() error {
	if ds.DB == nil {
		return notOpenError("migrate")
	}
	return performAutoMigration(ds.DB, ds.Logger)
}

func performAutoMigration(db *gorm.DB, log logger.Logger) error {
	start := time.Now()
	for _, model := range []struct {
		table string
		model any
	}{
		{"patients", &Patient{}},
		{"doctors", &Doctor{}},
		{"examinations", &Examination{}},
	} {
		existed := db.Migrator().HasTable(model.model)
		if err := db.AutoMigrate(model.model); err != nil {
			return dbError(err, "auto_migrate", "table", model.table)
		}
		action := "updated"
		if !existed {
			action = "created"
		}
		log.Debug("table migrated", logger.String("table", model.table), logger.String("action", action))
	}
	log.Info("database schema ready", logger.Duration("duration", time.Since(start)))
	return nil
}

func gormConfig(log logger.Logger, slow time.Duration) *gorm.Config {
	return &gorm.Config{
		Logger:         logger.NewGormLoggerAdapter(log, slow),
		TranslateError: true,
	}
}

var passwordPattern = regexp.MustCompile(`(:)[^:@/]*(@)|(password=)\S+`)

// redactSensitiveInfo masks credentials in a DSN before it is logged.
func redactSensitiveInfo(dsn string) string {
	return passwordPattern.ReplaceAllStringFunc(dsn, func(m string) string {
		switch {
		case m[0] == ':':
			return ":***@"
		default:
			return "password=***"
		}
	})
}
