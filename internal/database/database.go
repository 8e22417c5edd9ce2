// Package database opens the audex job store and keeps its schema current.
// SQLite, PostgreSQL and MySQL are supported through GORM.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/jmylchreest/audex/internal/config"
	"github.com/jmylchreest/audex/internal/database/migrations"
	"github.com/jmylchreest/audex/internal/observability"
)

// sqlitePragmas are appended to every SQLite DSN so each pooled connection
// gets them.
var sqlitePragmas = []string{
	"busy_timeout(30000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"foreign_keys(ON)",
}

// DB is an open job store.
type DB struct {
	*gorm.DB
	driver string
	logger *slog.Logger
}

// Options tunes how New opens the connection.
type Options struct {
	// PrepareStmt caches prepared statements. Nil options enable it.
	PrepareStmt bool
}

// PoolStats is a snapshot of the connection pool.
type PoolStats struct {
	MaxOpen      int    `json:"max_open_connections"`
	Open         int    `json:"open_connections"`
	InUse        int    `json:"in_use"`
	Idle         int    `json:"idle"`
	WaitCount    int64  `json:"wait_count"`
	WaitDuration string `json:"wait_duration"`
}

// New opens the database described by cfg. Pass nil opts for defaults.
func New(cfg config.DatabaseConfig, log *slog.Logger, opts *Options) (*DB, error) {
	if opts == nil {
		opts = &Options{PrepareStmt: true}
	}
	if log == nil {
		log = slog.Default()
	}
	log = observability.WithComponent(log, "database")

	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	gl := newGormLogger(cfg.LogLevel, log)
	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 gl,
		SkipDefaultTransaction: true,
		PrepareStmt:            opts.PrepareStmt,
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	gl.pool = sqlDB

	maxOpen, maxIdle := poolLimits(cfg)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	log.Info("database opened",
		slog.String("driver", cfg.Driver),
		slog.Int("max_open_conns", maxOpen),
		slog.Int("max_idle_conns", maxIdle),
	)
	return &DB{DB: gdb, driver: cfg.Driver, logger: log}, nil
}

// poolLimits returns the open and idle connection caps. SQLite has a single
// writer, and each connection to an in-memory database sees its own copy.
func poolLimits(cfg config.DatabaseConfig) (maxOpen, maxIdle int) {
	if cfg.Driver != "sqlite" {
		return cfg.MaxOpenConns, cfg.MaxIdleConns
	}
	if isMemoryDSN(cfg.DSN) {
		return 1, 1
	}
	return 4, 2
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func dialectorFor(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		sep := "?"
		if strings.Contains(cfg.DSN, "?") {
			sep = "&"
		}
		dsn := cfg.DSN + sep + "_pragma=" + strings.Join(sqlitePragmas, "&_pragma=")
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	case "mysql":
		return mysql.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

func (db *DB) migrator() *migrations.Migrator {
	return migrations.NewMigrator(db.DB, db.logger, migrations.AllMigrations()...)
}

// Migrate applies every pending schema migration.
func (db *DB) Migrate(ctx context.Context) error {
	n, err := db.migrator().Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if n > 0 {
		db.logger.InfoContext(ctx, "schema migrated", slog.Int("applied", n))
	}
	return nil
}

// MigrationStatus reports every known migration and whether it is applied.
func (db *DB) MigrationStatus(ctx context.Context) ([]migrations.Status, error) {
	return db.migrator().Status(ctx)
}

// Rollback undoes the most recent migration and returns its version, or ""
// when the schema is empty.
func (db *DB) Rollback(ctx context.Context) (string, error) {
	return db.migrator().Down(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping verifies the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Driver returns the database driver name.
func (db *DB) Driver() string {
	return db.driver
}

// Stats returns a snapshot of the connection pool.
func (db *DB) Stats() (PoolStats, error) {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return PoolStats{}, fmt.Errorf("getting underlying sql.DB: %w", err)
	}
	s := sqlDB.Stats()
	return PoolStats{
		MaxOpen:      s.MaxOpenConnections,
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration.String(),
	}, nil
}
