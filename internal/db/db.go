// Package db is the local update database: cached updates, their assets,
// and scoped JSON data entries.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/mrled/buildcheck/internal/kvs"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database is a sqlite-backed update database.
type Database struct {
	Path string

	db *gorm.DB
}

var _ kvs.Store = (*Database)(nil)

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*Database, error) {
	if path == "" {
		return nil, fmt.Errorf("'path' is required")
	}
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := gdb.AutoMigrate(&Update{}, &Asset{}, &JSONData{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite database: %w", err)
	}
	return &Database{Path: path, db: gdb}, nil
}

// Close closes the database.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertUpdate stores an update along with its assets.
func (d *Database) InsertUpdate(ctx context.Context, u *Update) error {
	if err := d.db.WithContext(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("inserting update %s: %w", u.ID, err)
	}
	return nil
}

// LoadUpdate returns the update with the given id.
// It returns ErrNotFound if no such update exists.
func (d *Database) LoadUpdate(ctx context.Context, id string) (*Update, error) {
	var u Update
	if err := d.db.WithContext(ctx).Preload("Assets").Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// LoadUpdatesWithStatus returns every update of scopeKey in the given status.
func (d *Database) LoadUpdatesWithStatus(ctx context.Context, scopeKey string, status UpdateStatus) ([]Update, error) {
	var updates []Update
	if err := d.db.WithContext(ctx).
		Where("scope_key = ? AND status = ?", scopeKey, status).
		Order("commit_time").
		Find(&updates).Error; err != nil {
		return nil, fmt.Errorf("loading %s updates for %s: %w", status, scopeKey, err)
	}
	return updates, nil
}

// DeleteUpdates removes the given updates and their asset links. Assets
// themselves are left for DeleteUnusedAssets.
func (d *Database) DeleteUpdates(ctx context.Context, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, 0, len(updates))
	for _, u := range updates {
		ids = append(ids, u.ID)
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM update_assets WHERE update_id IN ?", ids).Error; err != nil {
			return fmt.Errorf("unlinking assets: %w", err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&Update{}).Error; err != nil {
			return fmt.Errorf("deleting updates: %w", err)
		}
		return nil
	})
}

// DeleteUnusedAssets removes assets that no update references, either
// through update_assets or as its launch asset, and returns them.
func (d *Database) DeleteUnusedAssets(ctx context.Context) ([]Asset, error) {
	var unused []Asset
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		linked := tx.Table("update_assets").Select("asset_id")
		launched := tx.Model(&Update{}).Select("launch_asset_id").Where("launch_asset_id IS NOT NULL")
		if err := tx.Where("id NOT IN (?) AND id NOT IN (?)", linked, launched).Find(&unused).Error; err != nil {
			return fmt.Errorf("finding unused assets: %w", err)
		}
		if len(unused) == 0 {
			return nil
		}
		ids := make([]uint, 0, len(unused))
		for _, a := range unused {
			ids = append(ids, a.ID)
		}
		if err := tx.Where("id IN ?", ids).Delete(&Asset{}).Error; err != nil {
			return fmt.Errorf("deleting unused assets: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return unused, nil
}

// LoadAssets returns every asset row.
func (d *Database) LoadAssets(ctx context.Context) ([]Asset, error) {
	var assets []Asset
	if err := d.db.WithContext(ctx).Order("id").Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// Get returns the JSON string stored for (key, scopeKey).
func (d *Database) Get(ctx context.Context, key, scopeKey string) (string, bool, error) {
	var row JSONData
	err := d.db.WithContext(ctx).Where("`key` = ? AND scope_key = ?", key, scopeKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("loading json data %s: %w", key, err)
	}
	return row.Value, true, nil
}

// Set replaces the JSON string stored for (key, scopeKey).
func (d *Database) Set(ctx context.Context, key, scopeKey, value string) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("`key` = ? AND scope_key = ?", key, scopeKey).Delete(&JSONData{}).Error; err != nil {
			return fmt.Errorf("clearing json data %s: %w", key, err)
		}
		row := JSONData{Key: key, ScopeKey: scopeKey, Value: value, LastUpdated: time.Now()}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("storing json data %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes the JSON string stored for (key, scopeKey).
func (d *Database) Delete(ctx context.Context, key, scopeKey string) error {
	if err := d.db.WithContext(ctx).Where("`key` = ? AND scope_key = ?", key, scopeKey).Delete(&JSONData{}).Error; err != nil {
		return fmt.Errorf("deleting json data %s: %w", key, err)
	}
	return nil
}

// List returns all JSON strings stored under key, by scope key.
func (d *Database) List(ctx context.Context, key string) (map[string]string, error) {
	var rows []JSONData
	if err := d.db.WithContext(ctx).Where("`key` = ?", key).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing json data %s: %w", key, err)
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.ScopeKey] = r.Value
	}
	return out, nil
}
