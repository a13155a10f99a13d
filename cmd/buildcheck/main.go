package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/apex/log"
	clihandler "github.com/apex/log/handlers/cli"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfrontkeyvaluestore"
	"github.com/dustin/go-humanize"
	"github.com/mrled/buildcheck/internal/builddata"
	"github.com/mrled/buildcheck/internal/config"
	"github.com/mrled/buildcheck/internal/db"
	"github.com/mrled/buildcheck/internal/kvs"
)

var version = "dev"

func main() {
	log.SetHandler(clihandler.Default)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "reconcile":
		runReconcile(os.Args[2:])
	case "show":
		runShow(os.Args[2:])
	case "list":
		runList(os.Args[2:])
	case "invalidate":
		runInvalidate(os.Args[2:])
	case "version":
		fmt.Println(version)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: buildcheck <command> [flags]

Commands:
  reconcile   Check the stored build fingerprint and clear stale cached updates
  show        Print the stored build fingerprint for a scope
  list        Print every stored build fingerprint
  invalidate  Delete ready cached updates for a scope
  version     Print version

Run 'buildcheck <command> --help' for command flags.
`)
}

// headerFlags collects repeated --header name=value flags.
type headerFlags map[string]string

func (h headerFlags) String() string {
	pairs := make([]string, 0, len(h))
	for k, v := range h {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, ",")
}

func (h headerFlags) Set(s string) error {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	h[name] = value
	return nil
}

// commonFlags are shared by every subcommand that touches the stores.
type commonFlags struct {
	configPath *string
	scopeKey   *string
	database   *string
	backend    *string
	verbose    *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "buildcheck.toml", "path to config file"),
		scopeKey:   fs.String("scope-key", "", "scope key of the app"),
		database:   fs.String("database", "", "path to the update database"),
		backend:    fs.String("store", "", "build data store: sqlite, redis or cloudfront"),
		verbose:    fs.Bool("verbose", false, "enable debug logging"),
	}
}

// load reads the config file and environment, then applies CLI flags.
func (f commonFlags) load() config.Config {
	cfg, err := config.Load(*f.configPath, nil)
	if err != nil {
		fatal("%v", err)
	}
	if *f.scopeKey != "" {
		cfg.ScopeKey = *f.scopeKey
	}
	if *f.database != "" {
		cfg.Database = *f.database
	}
	if *f.backend != "" {
		cfg.Store.Backend = *f.backend
	}
	if *f.verbose {
		cfg.LogLevel = "debug"
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fatal("log-level: %v", err)
	}
	log.SetLevel(level)
	return cfg
}

// reconcileFlags are the fingerprint overrides accepted by reconcile.
type reconcileFlags struct {
	fs        *flag.FlagSet
	channel   *string
	updateURL *string
	assetDir  *string
	headers   headerFlags
}

func addReconcileFlags(fs *flag.FlagSet) *reconcileFlags {
	f := &reconcileFlags{
		fs:        fs,
		channel:   fs.String("release-channel", "", "release channel of the running build (pass an empty value for a build without one)"),
		updateURL: fs.String("update-url", "", "update URL of the running build"),
		assetDir:  fs.String("asset-dir", "", "directory holding downloaded asset files"),
		headers:   headerFlags{},
	}
	fs.Var(f.headers, "header", "request header name=value (repeatable, replaces configured headers)")
	return f
}

// apply overrides cfg with the flags given on the command line. The release
// channel is applied whenever the flag is present, even when empty.
func (f *reconcileFlags) apply(cfg *config.Config) {
	f.fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "release-channel" {
			cfg.Updates.ReleaseChannel = *f.channel
		}
	})
	if *f.updateURL != "" {
		cfg.Updates.UpdateURL = *f.updateURL
	}
	if *f.assetDir != "" {
		cfg.AssetDir = *f.assetDir
	}
	if len(f.headers) > 0 {
		cfg.Updates.RequestHeaders = f.headers
	}
}

func runReconcile(args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	common := addCommonFlags(fs)
	overrides := addReconcileFlags(fs)
	fs.Parse(args)

	cfg := common.load()
	overrides.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}
	fingerprint, err := cfg.Fingerprint()
	if err != nil {
		fatal("%v", err)
	}

	ctx := context.Background()
	database := openDatabase(cfg)
	defer database.Close()
	store := builddata.NewStore(openKVS(ctx, cfg, database), cfg.Store.RecordKey, cfg.Store.LegacyRecordKeys...)

	invalidator := builddata.NewUpdatesInvalidator(database, cfg.AssetDir, log.Log)
	reconciler := builddata.NewReconciler(store, invalidator, log.Log)

	outcome, err := reconciler.Reconcile(ctx, fingerprint, cfg.ScopeKey)
	if err != nil {
		fatal("reconciling %s: %v", cfg.ScopeKey, err)
	}
	fmt.Println(outcome)
}

func runShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(args)

	cfg := common.load()
	if cfg.ScopeKey == "" {
		fatal("scope-key is required (set in config file, BUILDCHECK_SCOPE_KEY or --scope-key)")
	}

	ctx := context.Background()
	database := openDatabase(cfg)
	defer database.Close()
	store := builddata.NewStore(openKVS(ctx, cfg, database), cfg.Store.RecordKey, cfg.Store.LegacyRecordKeys...)

	rec, err := store.Peek(ctx, cfg.ScopeKey)
	if err != nil {
		fatal("loading build data for %s: %v", cfg.ScopeKey, err)
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "No build data stored for %s\n", cfg.ScopeKey)
		os.Exit(1)
	}
	printRecord(rec)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := addCommonFlags(fs)
	fs.Parse(args)

	cfg := common.load()
	ctx := context.Background()
	database := openDatabase(cfg)
	defer database.Close()
	store := builddata.NewStore(openKVS(ctx, cfg, database), cfg.Store.RecordKey)

	records, err := store.Records(ctx)
	if err != nil {
		fatal("listing build data: %v", err)
	}
	scopes := make([]string, 0, len(records))
	for scope := range records {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)

	data := &kvs.Data{}
	for _, scope := range scopes {
		stored := records[scope]
		fmt.Printf("%s:\n", scope)
		if stored.Err != nil {
			fmt.Printf("  (%v)\n", stored.Err)
		} else {
			printRecord(stored.Record)
		}
		flat, err := kvs.JoinKey(store.RecordKey(), scope)
		if err != nil {
			fatal("%v", err)
		}
		data.Entries = append(data.Entries, kvs.Entry{Key: flat, Value: stored.Raw})
	}

	// Report against CloudFront KVS capacity
	stats := data.Stats()
	fmt.Fprintf(os.Stderr, "\n%d records, %s / %s (%.1f%%)\n",
		stats.NumKeys, humanize.Bytes(uint64(stats.TotalBytes)), humanize.Bytes(kvs.MaxTotalBytes),
		float64(stats.TotalBytes)/float64(kvs.MaxTotalBytes)*100)
	for _, e := range data.Validate() {
		fmt.Fprintf(os.Stderr, "  %s: %s\n", e.Key, e.Message)
	}
}

func runInvalidate(args []string) {
	fs := flag.NewFlagSet("invalidate", flag.ExitOnError)
	common := addCommonFlags(fs)
	assetDir := fs.String("asset-dir", "", "directory holding downloaded asset files")
	fs.Parse(args)

	cfg := common.load()
	if *assetDir != "" {
		cfg.AssetDir = *assetDir
	}
	if cfg.ScopeKey == "" {
		fatal("scope-key is required (set in config file, BUILDCHECK_SCOPE_KEY or --scope-key)")
	}

	database := openDatabase(cfg)
	defer database.Close()
	deleted, err := builddata.NewUpdatesInvalidator(database, cfg.AssetDir, log.Log).Invalidate(context.Background(), cfg.ScopeKey)
	if err != nil {
		fatal("invalidating %s: %v", cfg.ScopeKey, err)
	}
	fmt.Fprintf(os.Stderr, "Deleted %d ready updates\n", deleted)
}

func printRecord(rec *builddata.Record) {
	channel := "(none)"
	if rec.ReleaseChannel != nil {
		channel = *rec.ReleaseChannel
	}
	fmt.Printf("  release-channel: %s\n", channel)
	fmt.Printf("  update-url:      %s\n", rec.UpdateURL)
	names := make([]string, 0, len(rec.RequestHeaders))
	for name := range rec.RequestHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  header:          %s: %s\n", name, rec.RequestHeaders[name])
	}
}

func openDatabase(cfg config.Config) *db.Database {
	if cfg.Database == "" {
		fatal("database is required (set in config file, BUILDCHECK_DATABASE or --database)")
	}
	database, err := db.Open(cfg.Database)
	if err != nil {
		fatal("opening update database: %v", err)
	}
	return database
}

func openKVS(ctx context.Context, cfg config.Config, database *db.Database) kvs.Store {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		return database
	case config.BackendRedis:
		r := cfg.Store.Redis
		return kvs.NewRedisFromAddr(r.Addr, r.Password, r.DB, r.Prefix)
	case config.BackendCloudFront:
		var awsOpts []func(*awsconfig.LoadOptions) error
		if cfg.Store.CloudFront.Region != "" {
			awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.Store.CloudFront.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			fatal("loading AWS config: %v", err)
		}
		arn, err := kvs.ResolveKVSARN(ctx, cloudfront.NewFromConfig(awsCfg), cfg.Store.CloudFront.KVSName)
		if err != nil {
			fatal("resolving build data KVS: %v", err)
		}
		log.WithField("arn", arn).Debug("resolved build data KVS")
		return kvs.NewCloudFront(cloudfrontkeyvaluestore.NewFromConfig(awsCfg), arn)
	default:
		fatal("unknown store backend %q", cfg.Store.Backend)
		return nil
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
