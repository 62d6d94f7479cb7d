package database

import (
	"fmt"
	"sync/atomic"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens the client-local SQLite store. The reconciliation core is a
// single-writer-per-discussion system, so one connection with WAL enabled
// is enough; the worker pool serializes writers above this layer.
func Open(path string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get generic database object: %w", err)
	}
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetMaxIdleConns(4)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

var memoryDBCounter int64

// OpenInMemory opens a private named in-memory database, used by tests.
// Each call gets a fresh database; cache=shared keeps gorm's connection
// pool pointed at the same instance.
func OpenInMemory() (*gorm.DB, error) {
	n := atomic.AddInt64(&memoryDBCounter, 1)
	dsn := fmt.Sprintf("file:concordmem%d?mode=memory&cache=shared", n)
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}
