// Package config loads buildcheck settings from a TOML file, environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/mrled/buildcheck/internal/builddata"
	"github.com/mrled/buildcheck/internal/kvs"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "BUILDCHECK_"

// Store backends.
const (
	BackendSQLite     = "sqlite"
	BackendRedis      = "redis"
	BackendCloudFront = "cloudfront"
)

type Config struct {
	ScopeKey string `toml:"scope-key" env:"SCOPE_KEY"`
	Database string `toml:"database"  env:"DATABASE"`
	AssetDir string `toml:"asset-dir" env:"ASSET_DIR"`
	LogLevel string `toml:"log-level" env:"LOG_LEVEL"`

	Updates Updates `toml:"updates"`
	Store   Store   `toml:"store" envPrefix:"STORE_"`
}

// Updates is the build's update configuration.
type Updates struct {
	ReleaseChannel string            `toml:"release-channel" env:"RELEASE_CHANNEL"`
	UpdateURL      string            `toml:"update-url"      env:"UPDATE_URL"`
	RequestHeaders map[string]string `toml:"request-headers" env:"REQUEST_HEADERS"`
}

type Store struct {
	Backend          string     `toml:"backend"            env:"BACKEND"`
	RecordKey        string     `toml:"record-key"         env:"RECORD_KEY"`
	LegacyRecordKeys []string   `toml:"legacy-record-keys" env:"LEGACY_RECORD_KEYS" envSeparator:","`
	Redis            Redis      `toml:"redis"              envPrefix:"REDIS_"`
	CloudFront       CloudFront `toml:"cloudfront"         envPrefix:"CLOUDFRONT_"`
}

type Redis struct {
	Addr     string `toml:"addr"     env:"ADDR"`
	Password string `toml:"password" env:"PASSWORD"`
	DB       int    `toml:"db"       env:"DB"`
	Prefix   string `toml:"prefix"   env:"PREFIX"`
}

type CloudFront struct {
	KVSName string `toml:"kvs-name" env:"KVS_NAME"`
	Region  string `toml:"region"   env:"REGION"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Database: "updates.db",
		LogLevel: "info",
		Updates: Updates{
			ReleaseChannel: "default",
		},
		Store: Store{
			Backend:   BackendSQLite,
			RecordKey: builddata.DefaultRecordKey,
			Redis: Redis{
				Addr:   "localhost:6379",
				Prefix: kvs.DefaultRedisPrefix,
			},
		},
	}
}

// Load reads the config file at path, if it exists, over the defaults and
// then applies environment overrides from environ. A nil environ reads the
// process environment.
func Load(path string, environ map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		_, err := os.Stat(path)
		switch {
		case os.IsNotExist(err):
			// No config file, use defaults/env/flags
		case err != nil:
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("reading config file %s: %w", path, err)
			}
		}
	}

	opts := env.Options{Prefix: EnvPrefix, Environment: environ}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings needed to reconcile.
func (c Config) Validate() error {
	var errs []error
	if c.ScopeKey == "" {
		errs = append(errs, errors.New("scope-key is required (set in config file, BUILDCHECK_SCOPE_KEY or --scope-key)"))
	}
	if c.Database == "" {
		errs = append(errs, errors.New("database is required (set in config file, BUILDCHECK_DATABASE or --database)"))
	}
	if c.Updates.UpdateURL == "" {
		errs = append(errs, errors.New("updates.update-url is required (set in config file, BUILDCHECK_UPDATE_URL or --update-url)"))
	} else if _, err := url.Parse(c.Updates.UpdateURL); err != nil {
		errs = append(errs, fmt.Errorf("updates.update-url: %w", err))
	}
	switch c.Store.Backend {
	case BackendSQLite:
	case BackendRedis:
		if c.Store.Redis.Addr == "" {
			errs = append(errs, errors.New("store.redis.addr is required for the redis backend"))
		}
	case BackendCloudFront:
		if c.Store.CloudFront.KVSName == "" {
			errs = append(errs, errors.New("store.cloudfront.kvs-name is required for the cloudfront backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.Store.Backend))
	}
	return errors.Join(errs...)
}

// Fingerprint returns the build configuration to reconcile against.
func (c Config) Fingerprint() (builddata.Configuration, error) {
	var u *url.URL
	if c.Updates.UpdateURL != "" {
		var err error
		if u, err = url.Parse(c.Updates.UpdateURL); err != nil {
			return builddata.Configuration{}, fmt.Errorf("parsing update url: %w", err)
		}
	}
	headers := make(map[string]string, len(c.Updates.RequestHeaders))
	for k, v := range c.Updates.RequestHeaders {
		headers[k] = v
	}
	return builddata.Configuration{
		ReleaseChannel: c.Updates.ReleaseChannel,
		UpdateURL:      u,
		RequestHeaders: headers,
	}, nil
}
