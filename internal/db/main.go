// Package db opens the canonical store and migrates its schema.
package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/AccessMirror/AccessMirror/internal/config"
	"github.com/AccessMirror/AccessMirror/internal/db/dsn"
	"github.com/AccessMirror/AccessMirror/internal/db/models"
)

// Open connects to the canonical store and migrates the mirror schema.
// TranslateError is enabled so unique-index conflicts surface as
// gorm.ErrDuplicatedKey on every engine; the upsert engine depends on that.
func Open(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.DB.GormEngine {
	case "mysql":
		dialector = gormmysql.Open(dsn.Create(cfg))
	case "postgres":
		dialector = gormpostgres.Open(dsn.Create(cfg))
	default:
		dialector = sqlite.Open(dsn.Create(cfg))
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect canonical store: %w", err)
	}

	if err = Migrate(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

// Migrate creates or updates the mirror schema.
func Migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&models.User{},
		&models.SecurityGroup{},
		&models.Membership{},
		&models.Inheritance{},
		&models.AccessRule{},
		&models.SyncRun{},
		&models.ComparisonResult{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate canonical store: %w", err)
	}

	return nil
}

// Touched holds the mirror rows whose sync stamps moved at or after an
// instant.
type Touched struct {
	Users  []models.User
	Groups []models.SecurityGroup
}

// TouchedSince returns the users and groups touched by sync runs at or
// after the given instant. Stamps reflect batch commit order, so the result
// is consistent with the run ledger.
func TouchedSince(gdb *gorm.DB, since time.Time) (Touched, error) {
	var t Touched

	err := gdb.
		Where("last_seen_in_directory_at >= ? OR last_seen_in_app_db_at >= ?", since, since).
		Order("display_name").
		Find(&t.Users).Error
	if err != nil {
		return Touched{}, err
	}

	err = gdb.
		Where("last_sync_at >= ?", since).
		Order("name").
		Find(&t.Groups).Error
	if err != nil {
		return Touched{}, err
	}

	return t, nil
}
