// Package config loads benchsync settings from a YAML file, BENCHSYNC_*
// environment variables and built-in defaults, in that order of increasing
// precedence below command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/benchsync/internal/blob"
	"github.com/roach88/benchsync/internal/merge"
)

// EnvPrefix prefixes every environment override, e.g. BENCHSYNC_REMOTE_URL
// for remote.url.
const EnvPrefix = "BENCHSYNC"

// Config is the typed view of all settings.
type Config struct {
	DB string
	// Replica is empty unless configured; see DefaultReplica.
	Replica string

	RemoteURL string
	Watch     bool

	BatchSize     int
	DrainInterval time.Duration
	PollInterval  time.Duration
	ProbeInterval time.Duration

	TieBreak merge.TieBreak

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string

	RelayAddr     string
	RelayDB       string
	RelayPageSize int

	Blob blob.Config

	MetricsAddr string
	LogLevel    slog.Level
}

// Loader wraps one viper instance. Create it with New, optionally bind
// flags, then call Load.
type Loader struct {
	v *viper.Viper
}

// New creates a Loader with defaults and environment binding in place.
func New() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "benchsync.db")
	v.SetDefault("replica", "")

	v.SetDefault("remote.url", "")
	v.SetDefault("remote.watch", true)

	v.SetDefault("sync.batch-size", 200)
	v.SetDefault("sync.drain-interval", "30s")
	v.SetDefault("sync.poll-interval", "15s")
	v.SetDefault("sync.probe-interval", "10s")

	v.SetDefault("merge.tie-break", "digest") // digest | remote

	v.SetDefault("propagate.redis-addr", "")
	v.SetDefault("propagate.redis-password", "")
	v.SetDefault("propagate.redis-db", 0)
	v.SetDefault("propagate.channel", "benchsync:changes")

	v.SetDefault("relay.addr", ":8780")
	v.SetDefault("relay.db", "relay.db")
	v.SetDefault("relay.page-size", 500)

	v.SetDefault("blob.driver", string(blob.DriverFilesystem)) // fs | memory | s3
	v.SetDefault("blob.root", "backups")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.prefix", "")
	v.SetDefault("blob.s3.path-style", false)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")

	return &Loader{v: v}
}

// BindFlag makes a command-line flag override key when the flag is set.
func (l *Loader) BindFlag(key string, f *pflag.Flag) error {
	if f == nil {
		return fmt.Errorf("bind %s: no such flag", key)
	}
	return l.v.BindPFlag(key, f)
}

// Set overrides key for the lifetime of the Loader.
func (l *Loader) Set(key string, value any) {
	l.v.Set(key, value)
}

// Load reads path (skipped when empty) and returns the resolved Config.
// A missing explicit path is an error.
func (l *Loader) Load(path string) (Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return l.resolve()
}

// Load is a shortcut for New().Load(path).
func Load(path string) (Config, error) {
	return New().Load(path)
}

func (l *Loader) resolve() (Config, error) {
	v := l.v
	cfg := Config{
		DB:            v.GetString("db"),
		Replica:       v.GetString("replica"),
		RemoteURL:     v.GetString("remote.url"),
		Watch:         v.GetBool("remote.watch"),
		BatchSize:     v.GetInt("sync.batch-size"),
		RedisAddr:     v.GetString("propagate.redis-addr"),
		RedisPassword: v.GetString("propagate.redis-password"),
		RedisDB:       v.GetInt("propagate.redis-db"),
		RedisChannel:  v.GetString("propagate.channel"),
		RelayAddr:     v.GetString("relay.addr"),
		RelayDB:       v.GetString("relay.db"),
		RelayPageSize: v.GetInt("relay.page-size"),
		MetricsAddr:   v.GetString("metrics.addr"),
		Blob: blob.Config{
			Driver: blob.Driver(v.GetString("blob.driver")),
			Root:   v.GetString("blob.root"),
			S3: blob.S3Config{
				Bucket:    v.GetString("blob.s3.bucket"),
				Region:    v.GetString("blob.s3.region"),
				Endpoint:  v.GetString("blob.s3.endpoint"),
				Prefix:    v.GetString("blob.s3.prefix"),
				PathStyle: v.GetBool("blob.s3.path-style"),
			},
		},
	}

	var errs []error
	for key, dst := range map[string]*time.Duration{
		"sync.drain-interval": &cfg.DrainInterval,
		"sync.poll-interval":  &cfg.PollInterval,
		"sync.probe-interval": &cfg.ProbeInterval,
	} {
		d, err := time.ParseDuration(v.GetString(key))
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", key, v.GetString(key)))
			continue
		}
		*dst = d
	}

	tb, err := merge.ParseTieBreak(v.GetString("merge.tie-break"))
	if err != nil {
		errs = append(errs, fmt.Errorf("merge.tie-break: %w", err))
	}
	cfg.TieBreak = tb

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log.level"))); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}

	if cfg.DB == "" {
		errs = append(errs, errors.New("db: path is required"))
	}
	if cfg.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batch-size: must be positive, got %d", cfg.BatchSize))
	}
	if cfg.RelayPageSize <= 0 {
		errs = append(errs, fmt.Errorf("relay.page-size: must be positive, got %d", cfg.RelayPageSize))
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// databaseIDLen is how much of the database id goes into a default replica id.
const databaseIDLen = 8

// DefaultReplica derives the replica id used when none is configured, from
// the host name, the database file name and the id the store assigned to
// the file. Two windows sharing a database share an origin. A database that
// is deleted and recreated gets a new origin, so its restarted outbox seqs
// are never mistaken for ones the remote already has.
func DefaultReplica(db, databaseID string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	id := host + ":" + strings.TrimSuffix(filepath.Base(db), filepath.Ext(db))
	if databaseID == "" {
		return id
	}
	if len(databaseID) > databaseIDLen {
		databaseID = databaseID[:databaseIDLen]
	}
	return id + ":" + databaseID
}
