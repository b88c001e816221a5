// Package hostconfig loads the YAML configuration for the hostctl agent.
package hostconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level hostctl agent configuration file.
type Config struct {
	Host             string        `yaml:"host"`
	LogLevel         string        `yaml:"log_level"`
	LogJSON          bool          `yaml:"log_json"`
	TickInterval     time.Duration `yaml:"tick_interval"`
	ContainerdSocket string        `yaml:"containerd_socket"`
	RepositoryDBPath string        `yaml:"repository_db_path"`
	DebugAddr        string        `yaml:"debug_addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Host:         "localhost",
		LogLevel:     "info",
		TickInterval: 5 * time.Second,
		DebugAddr:    ":9090",
	}
}

// Load reads and parses a YAML config file, filling unset fields from
// Default.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("hostconfig: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("hostconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}
