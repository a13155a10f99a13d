// Package kvs provides the scoped key-value stores that hold build-data
// records, and the CloudFront KeyValueStore sync plumbing behind one of them.
package kvs

import (
	"context"
	"fmt"
	"strings"
)

// Store is a key-value store whose entries are partitioned by scope key.
type Store interface {
	// Get returns the value stored for (key, scopeKey). ok is false when
	// no entry exists.
	Get(ctx context.Context, key, scopeKey string) (value string, ok bool, err error)
	// Set writes value for (key, scopeKey), replacing any prior value.
	Set(ctx context.Context, key, scopeKey, value string) error
	// Delete removes (key, scopeKey). Deleting a missing entry is not an error.
	Delete(ctx context.Context, key, scopeKey string) error
	// List returns every entry stored under key, mapped by scope key.
	List(ctx context.Context, key string) (map[string]string, error)
}

// Entry is a single flattened key-value pair as written to a flat store.
type Entry struct {
	Key   string
	Value string
}

// Data holds a set of flattened entries destined for one store.
type Data struct {
	Entries []Entry
}

// SyncPlan describes what operations are needed to bring a store to desired state.
type SyncPlan struct {
	Puts    []Entry  // Keys to add or update
	Deletes []string // Keys to remove
}

// scopeSeparator joins a record key and a scope key in flat stores.
const scopeSeparator = ":"

// JoinKey flattens (key, scopeKey) into a single store key. The record key
// must not contain the separator; scope keys may.
func JoinKey(key, scopeKey string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("record key is empty")
	}
	if strings.Contains(key, scopeSeparator) {
		return "", fmt.Errorf("record key %q contains %q", key, scopeSeparator)
	}
	return key + scopeSeparator + scopeKey, nil
}

// SplitKey reverses JoinKey.
func SplitKey(flat string) (key, scopeKey string, ok bool) {
	return strings.Cut(flat, scopeSeparator)
}
