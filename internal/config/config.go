// Package config loads the orchestrator's configuration the way the teacher
// repo layers settings: defaults, then an on-disk TOML overlay, then
// environment variables taking final precedence (spec §6).
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the fully-resolved set of orchestrator settings.
type Config struct {
	SchemaVersion int `toml:"schema_version"`

	Home string `toml:"-"` // HAL9000_HOME, never read from the file itself

	WorkerImage string `toml:"worker_image,omitempty"`

	ChromaDBHost    string `toml:"chromadb_host,omitempty"`
	ChromaDBPort    int    `toml:"chromadb_port,omitempty"`
	ChromaDBDataDir string `toml:"chromadb_data_dir,omitempty"`
	ChromaDBBinary  string `toml:"chromadb_binary,omitempty"`

	SkipImagePull bool `toml:"skip_image_pull,omitempty"`
	LazyImagePull bool `toml:"lazy_image_pull,omitempty"`

	EnablePoolManager bool `toml:"enable_pool_manager,omitempty"`
	MinWarmWorkers    int  `toml:"min_warm_workers,omitempty"`
	MaxWarmWorkers    int  `toml:"max_warm_workers,omitempty"`
	IdleTimeoutSec    int  `toml:"idle_timeout,omitempty"`
	CheckIntervalSec  int  `toml:"check_interval,omitempty"`

	WorkerMemory    string `toml:"worker_memory,omitempty"`
	WorkerCPUs      string `toml:"worker_cpus,omitempty"`
	WorkerPidsLimit int    `toml:"worker_pids_limit,omitempty"`

	EngineCallTimeoutSec int `toml:"engine_call_timeout,omitempty"`
}

const schemaVersion = 1

// Defaults returns the §6 default configuration.
func Defaults() Config {
	return Config{
		SchemaVersion:        schemaVersion,
		Home:                 defaultHome(),
		WorkerImage:          "",
		ChromaDBHost:         "0.0.0.0",
		ChromaDBPort:         8000,
		ChromaDBDataDir:      "/data/chromadb",
		ChromaDBBinary:       "chroma",
		SkipImagePull:        false,
		LazyImagePull:        false,
		EnablePoolManager:    false,
		MinWarmWorkers:       2,
		MaxWarmWorkers:       5,
		IdleTimeoutSec:       300,
		CheckIntervalSec:     30,
		WorkerMemory:         "4g",
		WorkerCPUs:           "2",
		WorkerPidsLimit:      100,
		EngineCallTimeoutSec: 30,
	}
}

func defaultHome() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".hal9000")
	}
	return ".hal9000"
}

// Load resolves Config from defaults, $HAL9000_HOME/config.toml (if present),
// then process environment variables.
func Load() (Config, error) {
	cfg := Defaults()
	if home := strings.TrimSpace(os.Getenv("HAL9000_HOME")); home != "" {
		cfg.Home = home
	}

	overlayPath := filepath.Join(cfg.Home, "config.toml")
	// #nosec G304 -- path is derived from HAL9000_HOME, a trusted local setting.
	if raw, err := os.ReadFile(overlayPath); err == nil {
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
	} else if !os.IsNotExist(err) {
		return Config{}, err
	}

	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.EqualFold(strings.TrimSpace(v), "true") || v == "1"
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str("WORKER_IMAGE", &cfg.WorkerImage)
	str("CHROMADB_HOST", &cfg.ChromaDBHost)
	integer("CHROMADB_PORT", &cfg.ChromaDBPort)
	str("CHROMADB_DATA_DIR", &cfg.ChromaDBDataDir)
	str("CHROMADB_BINARY", &cfg.ChromaDBBinary)
	boolean("SKIP_IMAGE_PULL", &cfg.SkipImagePull)
	boolean("LAZY_IMAGE_PULL", &cfg.LazyImagePull)
	boolean("ENABLE_POOL_MANAGER", &cfg.EnablePoolManager)
	integer("MIN_WARM_WORKERS", &cfg.MinWarmWorkers)
	integer("MAX_WARM_WORKERS", &cfg.MaxWarmWorkers)
	integer("IDLE_TIMEOUT", &cfg.IdleTimeoutSec)
	integer("CHECK_INTERVAL", &cfg.CheckIntervalSec)
	str("WORKER_MEMORY", &cfg.WorkerMemory)
	str("WORKER_CPUS", &cfg.WorkerCPUs)
	integer("WORKER_PIDS_LIMIT", &cfg.WorkerPidsLimit)
}

// SecretPath returns the path a secret named key would be read from, under
// HAL9000_HOME/secrets/. API keys are never read from the environment (§6);
// the front-end places mode-600 files here.
func (c Config) SecretPath(key string) string {
	return filepath.Join(c.Home, "secrets", key)
}

// ReadSecret reads a secret file, failing closed if permissions are loose.
func (c Config) ReadSecret(key string) (string, error) {
	path := c.SecretPath(key)
	// #nosec G304 -- path is built from HAL9000_HOME/secrets, a trusted local directory.
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Mode().Perm()&0o077 != 0 {
		return "", &os.PathError{Op: "stat", Path: path, Err: os.ErrPermission}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
