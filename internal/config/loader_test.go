package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allEnv = []string{
	"ROOMS_CONFIG_FILE",
	"ROOMS_HTTP_PORT",
	"ROOMS_STORAGE",
	"ROOMS_SQLITE_DSN",
	"ROOMS_REDIS_ADDR",
	"ROOMS_REDIS_PASSWORD",
	"ROOMS_REDIS_DB",
	"ROOMS_TIMEZONE",
	"ROOMS_MAX_OCCUPY_DURATION",
	"ROOMS_MIN_EVENT_GAP",
	"ROOMS_OCCURRENCES_PERIOD",
	"ROOMS_TASK_POLL_INTERVAL",
	"ROOMS_VERIFICATION_TTL",
	"ROOMS_SIGNING_KEY",
	"ROOMS_LOG_LEVEL",
	"ROOMS_LOG_FORMAT",
}

// clearEnv blanks every option; t.Setenv restores the previous values.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range allEnv {
		t.Setenv(name, "")
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("success with defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ROOMS_SIGNING_KEY", "secret")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 8080 || cfg.Storage != StorageSQLite || cfg.SQLiteDSN == "" {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		if cfg.Location != time.UTC || cfg.MaxOccupyDuration != 16*time.Hour {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		if cfg.OccurrencesPeriod != 7*24*time.Hour || cfg.VerificationTTL != 15*time.Minute {
			t.Fatalf("unexpected defaults: %+v", cfg)
		}
		if cfg.RedisAddr != "" {
			t.Fatalf("expected no redis address by default, got %q", cfg.RedisAddr)
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ROOMS_SIGNING_KEY", "secret")
		t.Setenv("ROOMS_HTTP_PORT", "9090")
		t.Setenv("ROOMS_STORAGE", "MEMORY")
		t.Setenv("ROOMS_TIMEZONE", "Europe/Paris")
		t.Setenv("ROOMS_MAX_OCCUPY_DURATION", "3600")
		t.Setenv("ROOMS_TASK_POLL_INTERVAL", "250ms")
		t.Setenv("ROOMS_LOG_FORMAT", "text")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.HTTPPort != 9090 || cfg.Storage != StorageMemory {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.Location == nil || cfg.Location.String() != "Europe/Paris" {
			t.Fatalf("unexpected location %v", cfg.Location)
		}
		if cfg.MaxOccupyDuration != time.Hour || cfg.TaskPollInterval != 250*time.Millisecond {
			t.Fatalf("unexpected durations: %+v", cfg)
		}
		if cfg.LogFormat != "text" {
			t.Fatalf("unexpected log format %q", cfg.LogFormat)
		}
	})

	t.Run("occurrences period is floored", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ROOMS_SIGNING_KEY", "secret")
		t.Setenv("ROOMS_OCCURRENCES_PERIOD", "3600")

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.OccurrencesPeriod != MinOccurrencesPeriod {
			t.Fatalf("expected %v, got %v", MinOccurrencesPeriod, cfg.OccurrencesPeriod)
		}
	})

	t.Run("missing signing key", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error")
		}
		if !strings.Contains(err.Error(), "ROOMS_SIGNING_KEY") {
			t.Fatalf("expected error mentioning ROOMS_SIGNING_KEY, got %v", err)
		}
	})

	t.Run("invalid values are collected", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ROOMS_SIGNING_KEY", "secret")
		t.Setenv("ROOMS_HTTP_PORT", "abc")
		t.Setenv("ROOMS_STORAGE", "postgres")
		t.Setenv("ROOMS_TIMEZONE", "Mars/Olympus")
		t.Setenv("ROOMS_VERIFICATION_TTL", "-5m")
		t.Setenv("ROOMS_LOG_LEVEL", "loud")

		_, err := Load()
		if err == nil {
			t.Fatalf("expected error")
		}
		for _, name := range []string{"ROOMS_HTTP_PORT", "ROOMS_STORAGE", "ROOMS_TIMEZONE", "ROOMS_VERIFICATION_TTL", "ROOMS_LOG_LEVEL"} {
			if !strings.Contains(err.Error(), name) {
				t.Fatalf("expected error mentioning %s, got %v", name, err)
			}
		}
	})
}

func TestLoadFile(t *testing.T) {
	t.Run("file values apply", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, strings.Join([]string{
			"http_port: 7000",
			"storage: memory",
			"redis_addr: localhost:6379",
			"occurrences_period: 72h",
			"signing_key: from-file",
			"log_level: debug",
		}, "\n"))

		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile returned error: %v", err)
		}
		if cfg.HTTPPort != 7000 || cfg.Storage != StorageMemory || cfg.RedisAddr != "localhost:6379" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
		if cfg.OccurrencesPeriod != 72*time.Hour || cfg.SigningKey != "from-file" || cfg.LogLevel != "debug" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	})

	t.Run("environment wins over file", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "http_port: 7000\nsigning_key: from-file\n")
		t.Setenv("ROOMS_HTTP_PORT", "7001")

		cfg, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile returned error: %v", err)
		}
		if cfg.HTTPPort != 7001 {
			t.Fatalf("expected env to win, got %d", cfg.HTTPPort)
		}
	})

	t.Run("config file from environment", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("ROOMS_CONFIG_FILE", writeConfig(t, "signing_key: from-file\ntimezone: Asia/Tokyo\n"))

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
		if cfg.Timezone != "Asia/Tokyo" {
			t.Fatalf("unexpected timezone %q", cfg.Timezone)
		}
	})

	t.Run("unknown and invalid keys", func(t *testing.T) {
		clearEnv(t)
		path := writeConfig(t, "signing_key: k\nhttp_port: nope\ncolour: blue\n")

		_, err := LoadFile(path)
		if err == nil {
			t.Fatalf("expected error")
		}
		if !strings.Contains(err.Error(), "http_port") || !strings.Contains(err.Error(), "colour") {
			t.Fatalf("unexpected error %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		clearEnv(t)
		if _, err := LoadFile(writeConfig(t, "http_port: [1, 2\n")); err == nil {
			t.Fatalf("expected parse error")
		}
	})
}
