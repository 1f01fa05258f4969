package seatguard

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/aadithya-v/seatguard/store"
)

// EnvPrefix prefixes every environment variable read by LoadSettings.
const EnvPrefix = "SEATGUARD_"

// Settings is the file and environment form of a Guard configuration.
//
// Precedence: environment > YAML file > defaults. Environment variables map
// to keys by dropping EnvPrefix and splitting the section at the first
// underscore, e.g. SEATGUARD_SHARING_MAX_CONCURRENT_SESSIONS sets
// sharing.max_concurrent_sessions.
type Settings struct {
	Sharing AntiSharingConfig `koanf:"sharing"`
	Seats   SeatAbuseConfig   `koanf:"seats"`
	Storage StorageSettings   `koanf:"storage"`
	GeoIP   GeoIPSettings     `koanf:"geoip"`
	Log     LogSettings       `koanf:"log"`
}

// StorageSettings selects the store backends. Empty fields fall back to
// in-memory stores.
type StorageSettings struct {
	// SQLitePath backs every store not served by MySQL or Redis.
	SQLitePath string `koanf:"sqlite_path"`

	// MySQLDSN backs sessions and seats.
	MySQLDSN string `koanf:"mysql_dsn"`

	// RedisAddr backs grace periods.
	RedisAddr      string `koanf:"redis_addr"`
	RedisPassword  string `koanf:"redis_password"`
	RedisDB        int    `koanf:"redis_db"`
	RedisKeyPrefix string `koanf:"redis_key_prefix"`
}

// GeoIPSettings locates the MaxMind database.
type GeoIPSettings struct {
	DatabasePath string `koanf:"database_path"`
}

// LogSettings configures the zerolog logger.
type LogSettings struct {
	// Level is the minimum log level: trace, debug, info, warn, error or disabled.
	// Default: info
	Level string `koanf:"level"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() Settings {
	return Settings{
		Sharing: DefaultAntiSharingConfig(),
		Seats:   DefaultSeatAbuseConfig(),
		Storage: StorageSettings{
			RedisKeyPrefix: "seatguard:grace:",
		},
		Log: LogSettings{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadSettings layers defaults, the YAML file at path (skipped when path
// is empty) and SEATGUARD_ environment variables, then validates the
// detector thresholds.
func LoadSettings(path string) (Settings, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(DefaultSettings(), "koanf"), nil); err != nil {
		return Settings{}, fmt.Errorf("seatguard: failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Settings{}, fmt.Errorf("seatguard: failed to load config file %s: %w", path, err)
		}
	}

	// Layer 3: environment variables
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Settings{}, fmt.Errorf("seatguard: failed to load environment variables: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return Settings{}, fmt.Errorf("seatguard: failed to unmarshal settings: %w", err)
	}

	if err := s.Sharing.Validate(); err != nil {
		return Settings{}, err
	}
	if err := s.Seats.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// envKey maps SEATGUARD_SHARING_GRACE_PERIOD to sharing.grace_period.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}

// Config opens the configured stores and returns a Config for New.
// The returned stores are owned by the Guard created from it.
func (s Settings) Config() (Config, error) {
	logger := NewLogger(s.Log, os.Stderr)
	cfg := Config{
		Sharing:           s.Sharing,
		Seats:             s.Seats,
		DatabasePath:      s.Storage.SQLitePath,
		GeoIPDatabasePath: s.GeoIP.DatabasePath,
		Logger:            &logger,
		Now:               time.Now,
	}

	if s.Storage.MySQLDSN != "" {
		mysqlStore, err := store.NewMySQLFromDSN(s.Storage.MySQLDSN)
		if err != nil {
			return Config{}, err
		}
		cfg.SessionStore = mysqlStore
		cfg.SeatStore = mysqlStore
	}

	if s.Storage.RedisAddr != "" {
		redisStore, err := store.NewRedisFromConfig(store.RedisConfig{
			Addr:      s.Storage.RedisAddr,
			Password:  s.Storage.RedisPassword,
			DB:        s.Storage.RedisDB,
			KeyPrefix: s.Storage.RedisKeyPrefix,
		})
		if err != nil {
			if cfg.SessionStore != nil {
				cfg.SessionStore.Close()
			}
			return Config{}, err
		}
		cfg.GraceStore = redisStore
	}

	return cfg, nil
}

// NewLogger builds a zerolog logger writing to w.
func NewLogger(cfg LogSettings, w io.Writer) zerolog.Logger {
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
		}
	}
	return zerolog.New(w).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
