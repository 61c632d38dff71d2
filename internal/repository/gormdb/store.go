// Package gormdb is the relational store behind the ledger, the cycle
// lifecycle and the metrics projection. A Repository bound to a transaction is
// the unit of work threaded through every core operation.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mamadbah2/broiler/internal/config"
	"github.com/mamadbah2/broiler/internal/domain/models"
)

const connectAttempts = 5

// Repository wraps a *gorm.DB that is either the root pool or an open transaction.
type Repository struct {
	db       *gorm.DB
	onCommit *[]func()
}

// New wraps an already opened gorm handle.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Open connects to the configured database, retrying while it comes up, and
// migrates the schema.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*Repository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < connectAttempts; i++ {
		db, err = gorm.Open(dialector, Config())
		if err == nil {
			break
		}
		logger.Warn("database not ready, retrying", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("connect database after %d attempts: %w", connectAttempts, err)
	}

	repo := New(db)
	if err := repo.Migrate(); err != nil {
		return nil, err
	}
	logger.Info("database connected", zap.String("driver", cfg.Driver))
	return repo, nil
}

// Config is the gorm configuration shared by production and tests.
func Config() *gorm.Config {
	return &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	}
}

// Migrate syncs the schema.
func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.FarmerAccount{},
		&models.StockLedgerEntry{},
		&models.Cycle{},
		&models.CycleHistory{},
		&models.CycleLog{},
		&models.SaleEvent{},
		&models.SaleReport{},
		&models.SaleMetrics{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// DB exposes the underlying handle.
func (r *Repository) DB() *gorm.DB { return r.db }

// WithContext returns a repository whose queries carry ctx.
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: r.db.WithContext(ctx), onCommit: r.onCommit}
}

// Transaction runs fn inside a single database transaction. Calling it on a
// repository that is already inside a transaction nests via a savepoint.
func (r *Repository) Transaction(ctx context.Context, fn func(tx *Repository) error) error {
	var hooks []func()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Repository{db: tx, onCommit: &hooks})
	})
	if err != nil {
		return err
	}
	if r.onCommit != nil {
		*r.onCommit = append(*r.onCommit, hooks...)
		return nil
	}
	for _, hook := range hooks {
		hook()
	}
	return nil
}

// AfterCommit defers fn until the outermost transaction commits. It is
// dropped on rollback, and runs at once outside a transaction.
func (r *Repository) AfterCommit(fn func()) {
	if r.onCommit == nil {
		fn()
		return
	}
	*r.onCommit = append(*r.onCommit, fn)
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) locked() *gorm.DB {
	return r.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NotFound(entity, id)
	}
	return fmt.Errorf("load %s %s: %w", entity, id, err)
}

func refScope(ref models.CycleRef) func(*gorm.DB) *gorm.DB {
	column, id := ref.Column()
	return func(db *gorm.DB) *gorm.DB {
		return db.Where(column+" = ?", id)
	}
}
