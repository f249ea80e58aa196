package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Recorder is what the gateway writes audit events to.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, *Record) error { return nil }

type Repo struct {
	db *gorm.DB
}

// Open connects with the named driver, "sqlite" or "postgres".
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	switch driver {
	case "", "sqlite":
		return gorm.Open(sqlite.Open(dsn), cfg)
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unknown audit driver %q", driver)
	}
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Record(ctx context.Context, rec *Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(rec).Error
}

// List returns the newest records first. An empty kind lists every kind.
func (r *Repo) List(ctx context.Context, kind Kind, since time.Time, limit int) ([]Record, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	q := r.db.WithContext(ctx).Order("ts desc").Order("id desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	if !since.IsZero() {
		q = q.Where("ts >= ?", since)
	}
	var out []Record
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Purge deletes records older than before and reports how many went.
func (r *Repo) Purge(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("ts < ?", before).Delete(&Record{})
	return res.RowsAffected, res.Error
}

func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
