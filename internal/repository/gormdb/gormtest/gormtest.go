// Package gormtest opens throwaway SQLite-backed repositories for tests.
package gormtest

import (
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mamadbah2/broiler/internal/repository/gormdb"
)

// Open returns a migrated repository on a fresh database file. A single
// connection keeps SQLite writers serialized the way row locks would on MySQL.
func Open(t testing.TB) *gormdb.Repository {
	t.Helper()

	path := filepath.Join(t.TempDir(), "broiler.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), gormdb.Config())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sqlite pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	repo := gormdb.New(db)
	if err := repo.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}
