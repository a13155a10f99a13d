package db

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// UpdateStatus is the lifecycle state of a cached update.
type UpdateStatus string

const (
	StatusPending     UpdateStatus = "PENDING"
	StatusReady       UpdateStatus = "READY"
	StatusLaunchable  UpdateStatus = "LAUNCHABLE"
	StatusEmbedded    UpdateStatus = "EMBEDDED"
	StatusDevelopment UpdateStatus = "DEVELOPMENT"
	StatusFailed      UpdateStatus = "FAILED"
	StatusUnused      UpdateStatus = "UNUSED"
)

// Update is a downloaded update manifest.
type Update struct {
	ID             string `gorm:"primaryKey"`
	ScopeKey       string `gorm:"index;not null"`
	CommitTime     time.Time
	RuntimeVersion string
	Status         UpdateStatus `gorm:"index;not null"`
	LaunchAssetID  *uint
	Assets         []Asset `gorm:"many2many:update_assets;"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Asset is a file downloaded on behalf of one or more updates.
type Asset struct {
	ID           uint `gorm:"primaryKey"`
	Key          string
	Type         string
	RelativePath string
	Hash         string
	DownloadTime time.Time
	CreatedAt    time.Time
}

// JSONData is an arbitrary JSON string stored under (key, scope key).
type JSONData struct {
	ID          uint   `gorm:"primaryKey"`
	Key         string `gorm:"uniqueIndex:idx_json_data_key_scope;not null"`
	ScopeKey    string `gorm:"uniqueIndex:idx_json_data_key_scope;not null"`
	Value       string `gorm:"not null"`
	LastUpdated time.Time
}

// TableName keeps the table name singular.
func (JSONData) TableName() string { return "json_data" }
