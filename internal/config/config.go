package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	World  WorldConfig    `toml:"world"`
	Sim    SimConfig      `toml:"sim"`
	Feed   FeedConfig     `toml:"feed"`
	Store  StoreConfig    `toml:"store"`
	Server ServerConfig   `toml:"server"`
	Raw    map[string]any `toml:"-"`
	Path   string         `toml:"-"`
}

type WorldConfig struct {
	Size       int `toml:"size"`
	Hospitals  int `toml:"hospitals"`
	Structures int `toml:"structures"`
}

type SimConfig struct {
	TickIntervalMS      int `toml:"tick_interval_ms"`
	FastInterval        int `toml:"fast_interval"`
	BaseInterval        int `toml:"base_interval"`
	SlowInterval        int `toml:"slow_interval"`
	PathRadius          int `toml:"path_radius"`
	SpeedRadius         int `toml:"speed_radius"`
	CongestionThreshold int `toml:"congestion_threshold"`
	ObstacleBurst       int `toml:"obstacle_burst"`
	ObstacleCadence     int `toml:"obstacle_cadence"`
	StartBurst          int `toml:"start_burst"`
	TurnPercent         int `toml:"turn_percent"`
}

type FeedConfig struct {
	MinIntervalMS int      `toml:"min_interval_ms"`
	MaxIntervalMS int      `toml:"max_interval_ms"`
	RemoteShare   int      `toml:"remote_share"`
	Cargo         []string `toml:"cargo"`
}

type StoreConfig struct {
	// Kind is one of memory, sqlite, redis or csv.
	Kind      string `toml:"kind"`
	Path      string `toml:"path"`
	RedisAddr string `toml:"redis_addr"`
	KeyPrefix string `toml:"key_prefix"`
	EventsDB  string `toml:"events_db"`
}

type ServerConfig struct {
	Addr      string `toml:"addr"`
	GRPCAddr  string `toml:"grpc_addr"`
	ExportDir string `toml:"export_dir"`
}

// Load reads a TOML config. An empty path tries the default location and
// falls back to an empty config when nothing is there.
func Load(path string) (Config, error) {
	explicit := path != ""
	resolved := path
	if resolved == "" {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	bytes, err := os.ReadFile(resolved)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	var cfg Config
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	var raw map[string]any
	if _, err := toml.Decode(string(bytes), &raw); err != nil {
		return Config{}, fmt.Errorf("decode raw config: %w", err)
	}
	cfg.Raw = raw
	cfg.Path = resolved
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".courier_grid/config.toml"
	}
	return filepath.Join(home, ".courier_grid", "config.toml")
}
