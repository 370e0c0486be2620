package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is read when FOLIO_CONFIG is unset.
const DefaultPath = "config/folio.yaml"

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for folio.
type Config struct {
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Alpaca  Alpaca  `yaml:"alpaca"`
	Yahoo   Yahoo   `yaml:"yahoo"`
	Polygon Polygon `yaml:"polygon"`
	Sync    Sync    `yaml:"sync"`
	Logging Logging `yaml:"logging"`
}

// Storage holds paths for data persistence.
type Storage struct {
	SQLitePath string `yaml:"sqlite_path"`
	ArchiveDir string `yaml:"archive_dir"`
}

// Server holds network listener configuration.
type Server struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	GRPCPort     int           `yaml:"grpc_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	// OTCFallback enables the OTC feed as the first fallback source.
	OTCFallback *bool `yaml:"otc_fallback"`
}

// Yahoo configures the Yahoo chart API fallback.
type Yahoo struct {
	Enabled   *bool   `yaml:"enabled"`
	BaseURL   string  `yaml:"base_url"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second
}

// Polygon configures the Polygon aggregates fallback. It is used only when
// an API key is set.
type Polygon struct {
	APIKey string `yaml:"api_key"`
}

// Sync controls the price-history synchronization.
type Sync struct {
	StartDate string        `yaml:"start_date"`
	Timeout   time.Duration `yaml:"timeout"`
	// Schedule is a cron expression evaluated in UTC; empty disables
	// scheduled syncs.
	Schedule string `yaml:"schedule"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Path returns $FOLIO_CONFIG, or DefaultPath when unset.
func Path() string {
	if p := os.Getenv("FOLIO_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the YAML configuration file at the given path, applies
// environment variable overrides and fills defaults. A missing file is not
// an error; the result is then built from the environment and defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("POLYGON_API_KEY"); v != "" {
		cfg.Polygon.APIKey = v
	}

	if v := os.Getenv("SYNC_START_DATE"); v != "" {
		cfg.Sync.StartDate = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority, canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/folio.db"
	}
	if cfg.Storage.ArchiveDir == "" {
		cfg.Storage.ArchiveDir = "data/archive"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Sync.Timeout == 0 {
		cfg.Sync.Timeout = 5 * time.Minute
	}
	if cfg.Server.WriteTimeout == 0 {
		// A sync runs inside the request.
		cfg.Server.WriteTimeout = cfg.Sync.Timeout + 30*time.Second
	}
	if cfg.Sync.StartDate == "" {
		cfg.Sync.StartDate = "2024-01-01"
	}
	if cfg.Yahoo.RateLimit <= 0 {
		cfg.Yahoo.RateLimit = 2
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// OTCFallbackEnabled reports whether the Alpaca OTC feed is a fallback.
// Defaults to true.
func (c *Config) OTCFallbackEnabled() bool {
	return c.Alpaca.OTCFallback == nil || *c.Alpaca.OTCFallback
}

// YahooEnabled reports whether the Yahoo fallback is used. Defaults to true.
func (c *Config) YahooEnabled() bool {
	return c.Yahoo.Enabled == nil || *c.Yahoo.Enabled
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GRPCAddr returns the gRPC listen address.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.GRPCPort)
}
