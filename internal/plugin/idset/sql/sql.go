// Package sql stores id sets as rows of a single membership table through
// GORM. Inserts ignore conflicts and deletes touch one row, so concurrent
// writers on distinct members commute.
package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/thread-service/internal/config"
	registryidset "github.com/chirino/thread-service/internal/registry/idset"
	registrymigrate "github.com/chirino/thread-service/internal/registry/migrate"
	"github.com/chirino/thread-service/internal/telemetry"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func init() {
	for _, kind := range []string{"sqlite", "postgres"} {
		registryidset.Register(registryidset.Plugin{
			Name: kind,
			Loader: func(ctx context.Context) (registryidset.Factory, error) {
				return load(ctx, kind)
			},
		})
	}
	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Migrator: &setMigrator{}})
}

// SetMember is one row per (namespace, set, member).
type SetMember struct {
	Namespace string `gorm:"primaryKey;size:255"`
	SetName   string `gorm:"primaryKey;size:255"`
	MemberID  int64  `gorm:"primaryKey;autoIncrement:false"`
}

func (SetMember) TableName() string { return "thread_set_members" }

// Dialector returns the GORM dialector for kind. An empty sqlite DSN opens a
// shared in-memory database.
func Dialector(kind, dsn string) (gorm.Dialector, error) {
	switch kind {
	case "sqlite":
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("sql sets: THREAD_SERVICE_DB_URL is required for postgres")
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("sql sets: unsupported kind %q", kind)
	}
}

func openDB(kind, dsn string) (*gorm.DB, error) {
	d, err := Dialector(kind, dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(d, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("sql sets: failed to connect to %s: %w", kind, err)
	}
	return db, nil
}

func load(ctx context.Context, kind string) (registryidset.Factory, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	db, err := openDB(kind, cfg.DBURL)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sql sets: failed to get underlying db: %w", err)
	}
	maxOpen := cfg.DBMaxOpenConns
	if kind == "sqlite" {
		// SQLite has a single writer; extra connections only add lock errors.
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(min(cfg.DBMaxIdleConns, maxOpen))
	if telemetry.DBPoolMaxConnections != nil {
		telemetry.DBPoolMaxConnections.Set(float64(maxOpen))
	}

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if telemetry.DBPoolOpenConnections != nil {
					telemetry.DBPoolOpenConnections.Set(float64(sqlDB.Stats().OpenConnections))
				}
			}
		}
	}()

	if kind == "sqlite" && cfg.DBURL == "" {
		// Nothing outlives an in-memory database, so there is no separate
		// migrate step to rely on.
		if err := Migrate(ctx, db); err != nil {
			return nil, err
		}
	}
	return NewFactory(db, cfg.ResolvedSetNamespace()), nil
}

// Migrate creates or updates the membership table.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&SetMember{}); err != nil {
		return fmt.Errorf("sql sets: migrate: %w", err)
	}
	return nil
}

type setMigrator struct{}

func (m *setMigrator) Name() string { return "sql-sets-schema" }
func (m *setMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	if cfg == nil || !cfg.DatastoreMigrateAtStart {
		return nil
	}
	if cfg.SetType != "sqlite" && cfg.SetType != "postgres" {
		return nil
	}
	if cfg.SetType == "sqlite" && cfg.DBURL == "" {
		return nil // in-memory databases migrate when loaded
	}
	log.Info("Running migration", "name", m.Name())
	db, err := openDB(cfg.SetType, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("migration: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := Migrate(ctx, db); err != nil {
		return err
	}
	log.Info("Set schema migration complete", "kind", cfg.SetType)
	return nil
}

// Factory hands out sets stored in one membership table.
type Factory struct {
	db        *gorm.DB
	namespace string
}

// NewFactory wraps an open, migrated database.
func NewFactory(db *gorm.DB, namespace string) *Factory {
	return &Factory{db: db, namespace: namespace}
}

func (f *Factory) NewSet(_ context.Context, name string) (registryidset.Set, error) {
	return &sqlSet{db: f.db, namespace: f.namespace, name: name}, nil
}

// Close releases the connection pool.
func (f *Factory) Close() error {
	sqlDB, err := f.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type sqlSet struct {
	db        *gorm.DB
	namespace string
	name      string
}

func (s *sqlSet) scoped(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&SetMember{}).
		Where("namespace = ? AND set_name = ?", s.namespace, s.name)
}

func (s *sqlSet) Add(ctx context.Context, id int64) error {
	row := SetMember{Namespace: s.namespace, SetName: s.name, MemberID: id}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
}

func (s *sqlSet) Remove(ctx context.Context, id int64) error {
	res := s.scoped(ctx).Where("member_id = ?", id).Delete(&SetMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return registryidset.ErrNotMember
	}
	return nil
}

func (s *sqlSet) Discard(ctx context.Context, id int64) error {
	return s.scoped(ctx).Where("member_id = ?", id).Delete(&SetMember{}).Error
}

func (s *sqlSet) Clear(ctx context.Context) error {
	return s.scoped(ctx).Delete(&SetMember{}).Error
}

func (s *sqlSet) Contains(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := s.scoped(ctx).Where("member_id = ?", id).Count(&n).Error
	return n > 0, err
}

func (s *sqlSet) Len(ctx context.Context) (int, error) {
	var n int64
	err := s.scoped(ctx).Count(&n).Error
	return int(n), err
}

func (s *sqlSet) IDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.scoped(ctx).Order("member_id").Pluck("member_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

var (
	_ registryidset.Factory   = (*Factory)(nil)
	_ registryidset.Set       = (*sqlSet)(nil)
	_ registryidset.Discarder = (*sqlSet)(nil)
	_ registryidset.Clearer   = (*sqlSet)(nil)
)
