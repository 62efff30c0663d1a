package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Live        LiveConfig                `json:"live"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// LiveConfig holds the tunables of the live-session synchronization core.
// Zero values fall back to the defaults below at load time.
type LiveConfig struct {
	DefaultVolume        int     `json:"default_volume"`
	DriftToleranceSec    float64 `json:"drift_tolerance_seconds"`
	ReconnectBaseMs      int     `json:"reconnect_base_ms"`
	ReconnectMaxMs       int     `json:"reconnect_max_ms"`
	ReconnectMaxAttempts int     `json:"reconnect_max_attempts"`
}

const (
	DefaultVolume            = 80
	DefaultDriftToleranceSec = 1.5
	DefaultReconnectBaseMs   = 500
	DefaultReconnectMaxMs    = 10000
	DefaultReconnectAttempts = 8
)

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	for name, db := range cfg.Databases {
		if db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	cfg.Live = cfg.Live.withDefaults()
	return &cfg, nil
}

func (l LiveConfig) withDefaults() LiveConfig {
	if l.DefaultVolume <= 0 || l.DefaultVolume > 100 {
		l.DefaultVolume = DefaultVolume
	}
	if l.DriftToleranceSec <= 0 {
		l.DriftToleranceSec = DefaultDriftToleranceSec
	}
	if l.ReconnectBaseMs <= 0 {
		l.ReconnectBaseMs = DefaultReconnectBaseMs
	}
	if l.ReconnectMaxMs < l.ReconnectBaseMs {
		l.ReconnectMaxMs = DefaultReconnectMaxMs
	}
	if l.ReconnectMaxAttempts <= 0 {
		l.ReconnectMaxAttempts = DefaultReconnectAttempts
	}
	return l
}
