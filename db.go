package main

import (
	"fmt"
	"log/slog"

	"quempaga/pkg/store"

	"gorm.io/gorm"
)

// initDB opens the configured database and, unless DB_AUTO_MIGRATE is off,
// migrates the schema. Roles are seeded either way.
func initDB(cfg Config) (*gorm.DB, error) {
	db, err := store.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := store.Setup(db, cfg.AutoMigrate); err != nil {
		return nil, fmt.Errorf("setup database: %w", err)
	}
	driver := "sqlite"
	if store.IsPostgres(cfg.DatabaseDSN) {
		driver = "postgres"
	}
	slog.Info("database ready", "driver", driver, "auto_migrate", cfg.AutoMigrate)
	return db, nil
}
