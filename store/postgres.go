package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type kvEntry struct {
	Key       string `gorm:"primaryKey;size:255"`
	Value     []byte `gorm:"not null"`
	UpdatedAt time.Time
}

func (kvEntry) TableName() string { return "kv_entries" }

// Postgres stores entries in the kv_entries table through gorm.
type Postgres struct {
	db *gorm.DB
}

// NewPostgres connects to dsn and migrates the kv_entries table.
func NewPostgres(dsn string) (*Postgres, error) {
	if dsn == "" {
		return nil, errors.New("postgres store: empty dsn")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return NewGorm(db)
}

// NewGorm wraps an existing gorm handle and migrates the kv_entries table.
func NewGorm(db *gorm.DB) (*Postgres, error) {
	if err := db.AutoMigrate(&kvEntry{}); err != nil {
		return nil, fmt.Errorf("migrate kv_entries: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var e kvEntry
	err := p.db.WithContext(ctx).Where("key = ?", key).Take(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return e.Value, nil
}

func (p *Postgres) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	e := kvEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (p *Postgres) Delete(ctx context.Context, key string) error {
	return p.db.WithContext(ctx).Where("key = ?", key).Delete(&kvEntry{}).Error
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
