package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks the configuration before the daemon starts.
func (c *Config) Validate() error {
	if c.Market.EngineAddress.IsZero() {
		return fmt.Errorf("market: EngineAddress must be set")
	}
	if c.Market.EngineAddress.Array() == c.Market.Owner.Array() {
		return fmt.Errorf("market: EngineAddress must differ from Owner")
	}
	if err := c.Market.Params().Validate(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	switch c.Archive.Driver {
	case "":
	case ArchiveDriverSQLite, ArchiveDriverPostgres:
		if strings.TrimSpace(c.Archive.DSN) == "" {
			return fmt.Errorf("archive: DSN required for driver %q", c.Archive.Driver)
		}
	default:
		return fmt.Errorf("archive: unsupported driver %q", c.Archive.Driver)
	}
	if c.HTTP.RequestsPerMinute < 0 || c.HTTP.Burst < 0 {
		return fmt.Errorf("http: rate limits must not be negative")
	}
	if c.Telemetry.Enabled && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when enabled")
	}
	return nil
}

// ParseLevel maps a configured level name to a slog level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("logging: unknown level %q", level)
	}
}
