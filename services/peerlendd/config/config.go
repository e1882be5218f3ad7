package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the peerlend daemon. Market
// parameters live in a separate TOML file referenced by MarketsPath so that
// governance-style parameter changes never touch the service deployment
// config.
type Config struct {
	ListenAddress string `yaml:"listen"`
	Environment   string `yaml:"env"`
	DataDir       string `yaml:"data_dir"`
	MarketsPath   string `yaml:"markets"`
}

const (
	defaultListen      = ":8648"
	defaultDataDir     = "./peerlend-data"
	defaultMarketsPath = "./peerlend.toml"
)

// Load reads the YAML configuration from disk and validates the result. A
// missing file yields the built-in defaults so a fresh checkout can boot
// without any setup.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
		DataDir:       defaultDataDir,
		MarketsPath:   defaultMarketsPath,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.MarketsPath = strings.TrimSpace(cfg.MarketsPath)
	if cfg.MarketsPath == "" {
		cfg.MarketsPath = defaultMarketsPath
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.ListenAddress == "" {
		return fmt.Errorf("listen address required")
	}
	if cfg.MarketsPath == "" {
		return fmt.Errorf("markets path required")
	}
	return nil
}
