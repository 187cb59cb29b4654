// Package config holds the storage engine's tunable options, loadable
// from a YAML file via github.com/goccy/go-yaml (matching the teacher's
// config.Config shape), or constructed as a literal by callers of
// store.Open.
package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Options configures one lsmdb engine instance.
type Options struct {
	Logger LoggerConfig `yaml:"logger"`
	Server ServerConfig `yaml:"http_server"`

	WorkDir string `yaml:"work_dir"`

	MemtableSize       int64   `yaml:"memtable_size"`
	SSTableMaxSize     int64   `yaml:"sstable_maxsz"`
	BlockSize          int     `yaml:"block_size"`
	BloomFalsePositive float64 `yaml:"bloom_false_positive"`

	NumCompactors       int   `yaml:"num_compactors"`
	BaseLevelSize       int64 `yaml:"base_level_size"`
	LevelSizeMultiplier int   `yaml:"level_size_multiplier"`
	BaseTableSize       int64 `yaml:"base_table_size"`
	TableSizeMultiplier int   `yaml:"table_size_multiplier"`
	NumLevelZeroTables  int   `yaml:"num_level_zero_tables"`
	MaxLevelNum         int   `yaml:"max_level_num"`
}

// ServerConfig configures the read-only admin/introspection HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggerConfig configures slog's handler.
type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline configuration suitable for local development
// and the test suite.
func Default() Options {
	return Options{
		Logger: LoggerConfig{Level: "INFO", JSON: false},
		Server: ServerConfig{Port: 8080},

		WorkDir: "./data",

		MemtableSize:       64 << 20,
		SSTableMaxSize:     64 << 20,
		BlockSize:          4 << 10,
		BloomFalsePositive: 0.01,

		NumCompactors:       2,
		BaseLevelSize:       10 << 20,
		LevelSizeMultiplier: 10,
		BaseTableSize:       2 << 20,
		TableSizeMultiplier: 2,
		NumLevelZeroTables:  5,
		MaxLevelNum:         7,
	}
}

// Load reads and parses a YAML options file, starting from Default() so
// a partial file only overrides the fields it mentions.
func Load(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return opts, nil
}
