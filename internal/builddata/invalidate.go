package builddata

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"github.com/mrled/buildcheck/internal/db"
)

// Invalidator purges cached updates that no longer belong to the running
// build.
type Invalidator interface {
	// Invalidate deletes the cache-eligible updates of scopeKey and returns
	// how many were deleted.
	Invalidate(ctx context.Context, scopeKey string) (int, error)
}

// UpdateStore is the part of the update database an UpdatesInvalidator uses.
type UpdateStore interface {
	LoadUpdatesWithStatus(ctx context.Context, scopeKey string, status db.UpdateStatus) ([]db.Update, error)
	DeleteUpdates(ctx context.Context, updates []db.Update) error
	DeleteUnusedAssets(ctx context.Context) ([]db.Asset, error)
}

// UpdatesInvalidator deletes READY updates and then sweeps the assets they
// leave unreferenced. Pending, embedded and launchable updates are kept.
type UpdatesInvalidator struct {
	updates  UpdateStore
	assetDir string
	log      log.Interface
}

// NewUpdatesInvalidator returns an invalidator over updates. When assetDir
// is non-empty, the files of swept assets are removed from it.
func NewUpdatesInvalidator(updates UpdateStore, assetDir string, logger log.Interface) *UpdatesInvalidator {
	if logger == nil {
		logger = log.Log
	}
	return &UpdatesInvalidator{updates: updates, assetDir: assetDir, log: logger}
}

func (i *UpdatesInvalidator) Invalidate(ctx context.Context, scopeKey string) (int, error) {
	ready, err := i.updates.LoadUpdatesWithStatus(ctx, scopeKey, db.StatusReady)
	if err != nil {
		return 0, fmt.Errorf("loading ready updates: %w", err)
	}
	if err := i.updates.DeleteUpdates(ctx, ready); err != nil {
		return 0, fmt.Errorf("deleting ready updates: %w", err)
	}

	// Asset cleanup is best effort; the updates are already gone.
	swept, err := i.updates.DeleteUnusedAssets(ctx)
	if err != nil {
		i.log.WithError(err).WithField("scope", scopeKey).Warn("failed to sweep unused assets")
		return len(ready), nil
	}
	i.removeFiles(swept)

	i.log.WithFields(log.Fields{
		"scope":   scopeKey,
		"deleted": len(ready),
		"assets":  len(swept),
	}).Debug("invalidated cached updates")
	return len(ready), nil
}

func (i *UpdatesInvalidator) removeFiles(assets []db.Asset) {
	if i.assetDir == "" {
		return
	}
	for _, a := range assets {
		if a.RelativePath == "" {
			continue
		}
		path := filepath.Join(i.assetDir, filepath.Clean("/"+a.RelativePath))
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			i.log.WithError(err).WithField("path", path).Warn("failed to remove asset file")
		}
	}
}
