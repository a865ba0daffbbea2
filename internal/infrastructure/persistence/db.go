// Package persistence holds the gorm-backed SQLite store for the Memory
// Contract (C12): a durable VectorStore implementation of
// internal/domain/memory.VectorStore, keyed by config.MemoryConfig.DBPath.
// Grounded on the teacher's own NewDBConnection (gorm.Open + AutoMigrate),
// trimmed to the one dialect the gateway actually ships (sqlite —
// gorm.io/driver/postgres was never in go.mod and is dropped).
package persistence

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLiteConnection opens (creating if absent) a SQLite database at dsn
// and runs the gateway's auto-migration.
func NewSQLiteConnection(dsn string) (*gorm.DB, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&memoryRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
