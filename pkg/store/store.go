// Package store opens the application database and keeps its schema current.
package store

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"quempaga/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to Postgres when dsn looks like a Postgres DSN and otherwise
// treats dsn as a SQLite database path.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("store: empty DSN")
	}
	cfg := &gorm.Config{
		Logger:         newLogger(os.Stdout),
		TranslateError: true,
	}
	var (
		db  *gorm.DB
		err error
	)
	if IsPostgres(dsn) {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	} else {
		db, err = gorm.Open(sqlite.Open(sqliteDSN(dsn)), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	return db, nil
}

// newLogger reports slow queries and errors. Lookups that find nothing are
// normal here (no lunch recorded yet) and stay quiet.
func newLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
	})
}

// IsPostgres reports whether dsn should be handed to the Postgres driver.
func IsPostgres(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "postgres://") ||
		strings.HasPrefix(lower, "postgresql://") ||
		strings.Contains(lower, "host=")
}

// sqliteDSN enables foreign keys and a busy timeout so concurrent inserts
// wait on the file lock instead of failing.
func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// Migrate creates or updates the tables. Roles go first so the join table can
// reference them. Each model is migrated on its own so one failure does not
// block the others; failures are logged and the first one is returned.
func Migrate(db *gorm.DB) error {
	var first error
	for _, m := range []struct {
		name  string
		model any
	}{
		{"roles", &models.Role{}},
		{"users", &models.User{}},
		{"credentials", &models.Credential{}},
		{"entries", &models.Entry{}},
	} {
		if err := db.AutoMigrate(m.model); err != nil {
			slog.Warn("migration warning", "table", m.name, "err", err)
			if first == nil {
				first = fmt.Errorf("store: migrate %s: %w", m.name, err)
			}
		}
	}
	return first
}

// SeedRoles inserts the default roles that are missing.
func SeedRoles(db *gorm.DB) error {
	for _, r := range models.DefaultRoles() {
		role := r
		if err := db.Where("name = ?", role.Name).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("store: seed role %s: %w", role.Name, err)
		}
	}
	return nil
}

// Setup runs Migrate (when migrate is true) followed by SeedRoles.
func Setup(db *gorm.DB, migrate bool) error {
	if migrate {
		if err := Migrate(db); err != nil {
			return err
		}
	}
	return SeedRoles(db)
}
