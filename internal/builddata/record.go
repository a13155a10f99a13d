// Package builddata keeps the cached updates of an app consistent with the
// build that is running. A fingerprint of the build's update configuration
// is persisted per scope key; when the live configuration no longer matches
// it, cached updates are purged and the fingerprint is rewritten.
package builddata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/mrled/buildcheck/internal/kvs"
)

// DefaultRecordKey is the key build-data records are stored under.
const DefaultRecordKey = "BUILD_KEY"

// JSON field names of a stored record. Changing them orphans existing records.
const (
	ReleaseChannelField = "releaseChannel"
	UpdateURLField      = "updateUrl"
	RequestHeadersField = "requestHeaders"
)

var (
	ErrMalformedRecord  = errors.New("malformed build data record")
	ErrStoreUnavailable = errors.New("build data store unavailable")
	ErrMissingScopeKey  = errors.New("scope key is required")
	ErrMissingUpdateURL = errors.New("update url is required")
)

// Configuration is the part of a build's update configuration that
// identifies where its updates come from.
type Configuration struct {
	ReleaseChannel string
	UpdateURL      *url.URL
	RequestHeaders map[string]string
}

// Validate reports whether c can be fingerprinted.
func (c Configuration) Validate() error {
	if c.UpdateURL == nil {
		return ErrMissingUpdateURL
	}
	return nil
}

// Record is a fingerprint as it was last persisted.
type Record struct {
	ReleaseChannel *string           `json:"releaseChannel,omitempty"`
	UpdateURL      string            `json:"updateUrl"`
	RequestHeaders map[string]string `json:"requestHeaders"`
}

// NewRecord captures the fingerprint of c.
func NewRecord(c Configuration) *Record {
	r := &Record{
		RequestHeaders: make(map[string]string, len(c.RequestHeaders)),
	}
	if c.ReleaseChannel != "" {
		channel := c.ReleaseChannel
		r.ReleaseChannel = &channel
	}
	if c.UpdateURL != nil {
		r.UpdateURL = c.UpdateURL.String()
	}
	for k, v := range c.RequestHeaders {
		r.RequestHeaders[k] = v
	}
	return r
}

// wireRecord distinguishes missing fields from zero values on decode.
type wireRecord struct {
	ReleaseChannel *string            `json:"releaseChannel"`
	UpdateURL      *string            `json:"updateUrl"`
	RequestHeaders *map[string]string `json:"requestHeaders"`
}

// ParseRecord decodes a stored record.
func ParseRecord(raw string) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if w.UpdateURL == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedRecord, UpdateURLField)
	}
	if w.RequestHeaders == nil || *w.RequestHeaders == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedRecord, RequestHeadersField)
	}
	return &Record{
		ReleaseChannel: w.ReleaseChannel,
		UpdateURL:      *w.UpdateURL,
		RequestHeaders: *w.RequestHeaders,
	}, nil
}

// Store reads and writes build-data records in a key-value store.
type Store struct {
	kv         kvs.Store
	recordKey  string
	legacyKeys []string
}

// NewStore returns a Store writing under recordKey. Records found only under
// one of legacyKeys are moved to recordKey on first read.
func NewStore(kv kvs.Store, recordKey string, legacyKeys ...string) *Store {
	if recordKey == "" {
		recordKey = DefaultRecordKey
	}
	return &Store{kv: kv, recordKey: recordKey, legacyKeys: legacyKeys}
}

// RecordKey returns the key records are written under.
func (s *Store) RecordKey() string { return s.recordKey }

// Load returns the record stored for scopeKey, or nil if there is none.
func (s *Store) Load(ctx context.Context, scopeKey string) (*Record, error) {
	raw, ok, err := s.kv.Get(ctx, s.recordKey, scopeKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		raw, ok, err = s.migrate(ctx, scopeKey)
		if err != nil || !ok {
			return nil, err
		}
	}
	return ParseRecord(raw)
}

func (s *Store) migrate(ctx context.Context, scopeKey string) (string, bool, error) {
	for _, legacy := range s.legacyKeys {
		if legacy == s.recordKey {
			continue
		}
		raw, ok, err := s.kv.Get(ctx, legacy, scopeKey)
		if err != nil {
			return "", false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		if !ok {
			continue
		}
		if err := s.kv.Set(ctx, s.recordKey, scopeKey, raw); err != nil {
			return "", false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		if err := s.kv.Delete(ctx, legacy, scopeKey); err != nil {
			return "", false, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return raw, true, nil
	}
	return "", false, nil
}

// Save writes the fingerprint of c for scopeKey, replacing any prior record.
func (s *Store) Save(ctx context.Context, c Configuration, scopeKey string) error {
	raw, err := json.Marshal(NewRecord(c))
	if err != nil {
		return fmt.Errorf("encoding build data: %w", err)
	}
	if err := s.kv.Set(ctx, s.recordKey, scopeKey, string(raw)); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Peek returns the record stored for scopeKey like Load, but never writes:
// a record found only under a legacy key is parsed in place and left there.
func (s *Store) Peek(ctx context.Context, scopeKey string) (*Record, error) {
	for _, key := range append([]string{s.recordKey}, s.legacyKeys...) {
		raw, ok, err := s.kv.Get(ctx, key, scopeKey)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		if ok {
			return ParseRecord(raw)
		}
	}
	return nil, nil
}

// StoredRecord is one entry returned by Records. Record is nil and Err set
// when Raw does not parse.
type StoredRecord struct {
	Raw    string
	Record *Record
	Err    error
}

// Records returns every record stored under the record key, by scope key.
func (s *Store) Records(ctx context.Context) (map[string]StoredRecord, error) {
	all, err := s.kv.List(ctx, s.recordKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	out := make(map[string]StoredRecord, len(all))
	for scope, raw := range all {
		rec, err := ParseRecord(raw)
		out[scope] = StoredRecord{Raw: raw, Record: rec, Err: err}
	}
	return out, nil
}
