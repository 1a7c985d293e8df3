package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// MinOccurrencesPeriod is the smallest occurrence materialization window.
const MinOccurrencesPeriod = 48 * time.Hour

// Config captures the configuration of the room tracker service.
type Config struct {
	HTTPPort      int
	Storage       string
	SQLiteDSN     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Timezone string
	Location *time.Location

	MaxOccupyDuration time.Duration
	// MinEventGap is accepted for compatibility and currently unused.
	MinEventGap       time.Duration
	OccurrencesPeriod time.Duration
	TaskPollInterval  time.Duration
	VerificationTTL   time.Duration
	SigningKey        string

	LogLevel  string
	LogFormat string
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		HTTPPort:          8080,
		Storage:           StorageSQLite,
		SQLiteDSN:         "file:rooms.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate",
		Timezone:          "UTC",
		Location:          time.UTC,
		MaxOccupyDuration: 16 * time.Hour,
		MinEventGap:       5 * time.Minute,
		OccurrencesPeriod: 7 * 24 * time.Hour,
		TaskPollInterval:  time.Second,
		VerificationTTL:   15 * time.Minute,
		LogLevel:          "info",
		LogFormat:         "json",
	}
}

type option struct {
	env string
	key string
	set func(cfg *Config, value string) error
}

var errInvalid = errors.New("invalid value")

var options = []option{
	{"ROOMS_HTTP_PORT", "http_port", func(cfg *Config, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return errInvalid
		}
		cfg.HTTPPort = port
		return nil
	}},
	{"ROOMS_STORAGE", "storage", func(cfg *Config, v string) error {
		v = strings.ToLower(v)
		if v != StorageSQLite && v != StorageMemory {
			return errInvalid
		}
		cfg.Storage = v
		return nil
	}},
	{"ROOMS_SQLITE_DSN", "sqlite_dsn", func(cfg *Config, v string) error {
		cfg.SQLiteDSN = v
		return nil
	}},
	{"ROOMS_REDIS_ADDR", "redis_addr", func(cfg *Config, v string) error {
		cfg.RedisAddr = v
		return nil
	}},
	{"ROOMS_REDIS_PASSWORD", "redis_password", func(cfg *Config, v string) error {
		cfg.RedisPassword = v
		return nil
	}},
	{"ROOMS_REDIS_DB", "redis_db", func(cfg *Config, v string) error {
		db, err := strconv.Atoi(v)
		if err != nil || db < 0 {
			return errInvalid
		}
		cfg.RedisDB = db
		return nil
	}},
	{"ROOMS_TIMEZONE", "timezone", func(cfg *Config, v string) error {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return err
		}
		cfg.Timezone = v
		cfg.Location = loc
		return nil
	}},
	{"ROOMS_MAX_OCCUPY_DURATION", "max_occupy_duration", durationSetter(func(cfg *Config, d time.Duration) { cfg.MaxOccupyDuration = d })},
	{"ROOMS_MIN_EVENT_GAP", "min_event_gap", durationSetter(func(cfg *Config, d time.Duration) { cfg.MinEventGap = d })},
	{"ROOMS_OCCURRENCES_PERIOD", "occurrences_period", durationSetter(func(cfg *Config, d time.Duration) {
		cfg.OccurrencesPeriod = max(d, MinOccurrencesPeriod)
	})},
	{"ROOMS_TASK_POLL_INTERVAL", "task_poll_interval", durationSetter(func(cfg *Config, d time.Duration) { cfg.TaskPollInterval = d })},
	{"ROOMS_VERIFICATION_TTL", "verification_ttl", durationSetter(func(cfg *Config, d time.Duration) { cfg.VerificationTTL = d })},
	{"ROOMS_SIGNING_KEY", "signing_key", func(cfg *Config, v string) error {
		cfg.SigningKey = v
		return nil
	}},
	{"ROOMS_LOG_LEVEL", "log_level", func(cfg *Config, v string) error {
		switch v = strings.ToLower(v); v {
		case "debug", "info", "warn", "error":
			cfg.LogLevel = v
			return nil
		}
		return errInvalid
	}},
	{"ROOMS_LOG_FORMAT", "log_format", func(cfg *Config, v string) error {
		switch v = strings.ToLower(v); v {
		case "json", "text":
			cfg.LogFormat = v
			return nil
		}
		return errInvalid
	}},
}

// durationSetter accepts Go durations ("16h") and bare seconds ("57600").
func durationSetter(assign func(*Config, time.Duration)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := parseDuration(v)
		if err != nil || d <= 0 {
			return errInvalid
		}
		assign(cfg, d)
		return nil
	}
}

func parseDuration(v string) (time.Duration, error) {
	if seconds, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	return time.ParseDuration(v)
}

// Load reads the file named by ROOMS_CONFIG_FILE, if any, then the environment.
func Load() (Config, error) {
	return LoadFile(strings.TrimSpace(os.Getenv("ROOMS_CONFIG_FILE")))
}

// LoadFile applies defaults, the optional YAML file at path and finally the
// process environment, which wins over the file. Missing and invalid entries
// are reported together.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)

	if path != "" {
		values, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		known := make(map[string]bool, len(options))
		for _, opt := range options {
			known[opt.key] = true
			raw, ok := values[opt.key]
			if !ok {
				continue
			}
			if err := opt.set(&cfg, strings.TrimSpace(raw)); err != nil {
				invalid = append(invalid, opt.key)
			}
		}
		unknown := make([]string, 0)
		for key := range values {
			if !known[key] {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		invalid = append(invalid, unknown...)
	}

	for _, opt := range options {
		value := strings.TrimSpace(os.Getenv(opt.env))
		if value == "" {
			continue
		}
		if err := opt.set(&cfg, value); err != nil {
			invalid = append(invalid, opt.env)
		}
	}

	if cfg.SigningKey == "" {
		missing = append(missing, "ROOMS_SIGNING_KEY")
	}
	if cfg.Storage == StorageSQLite && cfg.SQLiteDSN == "" {
		missing = append(missing, "ROOMS_SQLITE_DSN")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required configuration is missing: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("configuration values are invalid: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	values := make(map[string]string)
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return values, nil
}
