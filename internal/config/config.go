// Package config defines the typed, YAML-backed configuration surface for
// storage, the brain façade, the summarizer, and the sync worker.
//
// Grounded on beeper-ai-bridge's pkg/memory/types.go (ResolvedConfig,
// StoreConfig, SyncConfig, QueryConfig, CacheConfig shape), generalized to
// the options table in spec §6 and given YAML tags per the teacher's
// ambient config-loading convention.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig controls the storage backend.
type StorageConfig struct {
	PrimaryBackend string `yaml:"primary_backend"` // local | remote | cache
	LocalDBPath    string `yaml:"local_db_path"`
	EnableWAL      bool   `yaml:"enable_wal"`
	CacheSize      int    `yaml:"cache_size"` // negative = KiB, per sqlite's own pragma convention
}

// BrainConfig controls the façade's worker toggles.
type BrainConfig struct {
	EnableSync       bool `yaml:"enable_sync"`
	SyncInterval     int  `yaml:"sync_interval"` // seconds
	EnableSummarizer bool `yaml:"enable_summarizer"`
}

// SummarizerConfig controls the background summarizer worker.
type SummarizerConfig struct {
	DataDir                  string  `yaml:"data_dir"`
	MaxFileSizeBytes         int64   `yaml:"max_file_size_bytes"`
	MaxAgeDays               int     `yaml:"max_age_days"`
	MonitoringIntervalSeconds int    `yaml:"monitoring_interval_seconds"`
	MaxContextTokens         int     `yaml:"max_context_tokens"`
	MaxSummaryTokens         int     `yaml:"max_summary_tokens"`
	Temperature              float64 `yaml:"temperature"`
	KeepOriginals            bool    `yaml:"keep_originals"`
}

// EvLogConfig controls the persistent log (C11).
type EvLogConfig struct {
	Path       string `yaml:"path"`
	MaxLines   int    `yaml:"max_lines"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// EmbeddingConfig names the dimension and timeout for the embedder.
type EmbeddingConfig struct {
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
}

// GeneratorConfig names the default generation timeout.
type GeneratorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the root configuration object, threaded down explicitly at
// startup rather than held in a global singleton (per spec §9's mandated
// re-architecture of "global_config"/"_container" patterns).
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Brain      BrainConfig      `yaml:"brain"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	EvLog      EvLogConfig      `yaml:"evlog"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Version    string           `yaml:"version"`
}

// Default returns a Config populated with the defaults named throughout
// §4 and §6 of the spec.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			PrimaryBackend: "local",
			LocalDBPath:    "brain.db",
			EnableWAL:      true,
			CacheSize:      -2000,
		},
		Brain: BrainConfig{
			EnableSync:       true,
			SyncInterval:     30,
			EnableSummarizer: true,
		},
		Summarizer: SummarizerConfig{
			DataDir:                   "data",
			MaxFileSizeBytes:          50 * 1024,
			MaxAgeDays:                7,
			MonitoringIntervalSeconds: 300,
			MaxContextTokens:          6000,
			MaxSummaryTokens:          500,
			Temperature:               0.3,
			KeepOriginals:             true,
		},
		EvLog: EvLogConfig{
			Path:       "brain.log",
			MaxLines:   1000,
			MaxAgeDays: 7,
		},
		Embedding: EmbeddingConfig{
			Dimension: 1536,
			Timeout:   30 * time.Second,
		},
		Generator: GeneratorConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads and merges a YAML config file over Default(). A missing file
// is not an error; Default() is returned unchanged, matching the teacher's
// "config files are optional, defaults always apply" pattern.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants that the rest of the package assumes hold
// (positive dimension, non-negative intervals).
func (c Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Brain.SyncInterval < 0 {
		return fmt.Errorf("brain.sync_interval must be non-negative, got %d", c.Brain.SyncInterval)
	}
	if c.Summarizer.MonitoringIntervalSeconds <= 0 {
		return fmt.Errorf("summarizer.monitoring_interval_seconds must be positive, got %d", c.Summarizer.MonitoringIntervalSeconds)
	}
	return nil
}
