// Package config loads Engramind's ambient configuration: process
// environment variables with sensible defaults (the teacher's
// buildBaseConfig pattern), optionally layered with a YAML tuning file for
// the nested sleep-cycle / retrieval knobs named in spec.md §6
// ("Configuration (recognized options)") that don't fit single env vars
// cleanly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/engramind/internal/backup"
)

// Config holds every tunable the engine handle (internal/engine) reads at
// startup.
type Config struct {
	Store   StoreConfig
	Engine  EngineConfig
	Backup  BackupConfig
	Retrieval RetrievalConfig
}

// StoreConfig selects and configures the Engram Store backend.
type StoreConfig struct {
	Backend string // "sqlite" (default) or "postgres"
	DSN     string // sqlite file path, or postgres connection string
}

// EngineConfig holds the decay/consolidation and vector-index knobs spec.md
// §6 names under "Configuration (recognized options)".
type EngineConfig struct {
	QuietPeriodMS             int     `yaml:"quiet_period_ms"`
	CheckIntervalMS           int     `yaml:"check_interval_ms"`
	MinMemoriesForPattern     int     `yaml:"min_memories_for_pattern"`
	EdgePredictionSimilarity  float64 `yaml:"edge_prediction_similarity"`
	EdgePredictionCapPerCycle int     `yaml:"edge_prediction_cap_per_cycle"`
	StaleAnchorDays           int     `yaml:"stale_anchor_days"`
	MinEntityAnchorLength     int     `yaml:"min_entity_anchor_length"`

	HNSWM              int `yaml:"hnsw_m"`
	HNSWEfConstruction int `yaml:"hnsw_ef_construction"`
	HNSWEfSearch       int `yaml:"hnsw_ef_search"`

	HelpfulnessSmoothingK float64 `yaml:"helpfulness_smoothing_k"`
	HelpfulnessTTLDays    int     `yaml:"helpfulness_ttl_days"`
}

// RetrievalConfig holds default per-call retrieval knobs (spec.md §6
// "Per-call" options' process-wide defaults; individual calls may still
// override them).
type RetrievalConfig struct {
	DefaultLimit     int     `yaml:"default_limit"`
	DefaultThreshold float64 `yaml:"default_threshold"`
	RecencyBoost     float64 `yaml:"recency_boost"`
}

// BackupConfig mirrors internal/backup.BackupConfig, expressed in
// environment/YAML-friendly primitive types.
type BackupConfig struct {
	Enabled        bool
	IntervalString string
	Dir            string
	Verify         bool
	Retention      backup.RetentionPolicy
}

// Load builds a Config from ENGRAMIND_-prefixed environment variables and
// defaults, matching the teacher's buildBaseConfig idiom.
func Load() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: getEnv("ENGRAMIND_STORE_BACKEND", "sqlite"),
			DSN:     getEnv("ENGRAMIND_STORE_DSN", "./data/engramind.db"),
		},
		Engine: EngineConfig{
			QuietPeriodMS:             getEnvInt("ENGRAMIND_QUIET_PERIOD_MS", 5*60*1000),
			CheckIntervalMS:           getEnvInt("ENGRAMIND_CHECK_INTERVAL_MS", 60*1000),
			MinMemoriesForPattern:     getEnvInt("ENGRAMIND_MIN_MEMORIES_FOR_PATTERN", 3),
			EdgePredictionSimilarity:  getEnvFloat("ENGRAMIND_EDGE_PREDICTION_SIMILARITY", 0.75),
			EdgePredictionCapPerCycle: getEnvInt("ENGRAMIND_EDGE_PREDICTION_CAP_PER_CYCLE", 25),
			StaleAnchorDays:           getEnvInt("ENGRAMIND_STALE_ANCHOR_DAYS", 30),
			MinEntityAnchorLength:     getEnvInt("ENGRAMIND_MIN_ENTITY_ANCHOR_LENGTH", 50),
			HNSWM:                     getEnvInt("ENGRAMIND_HNSW_M", 16),
			HNSWEfConstruction:        getEnvInt("ENGRAMIND_HNSW_EF_CONSTRUCTION", 200),
			HNSWEfSearch:              getEnvInt("ENGRAMIND_HNSW_EF_SEARCH", 64),
			HelpfulnessSmoothingK:     getEnvFloat("ENGRAMIND_HELPFULNESS_SMOOTHING_K", 5),
			HelpfulnessTTLDays:        getEnvInt("ENGRAMIND_HELPFULNESS_TTL_DAYS", 7),
		},
		Retrieval: RetrievalConfig{
			DefaultLimit:     getEnvInt("ENGRAMIND_DEFAULT_LIMIT", 10),
			DefaultThreshold: getEnvFloat("ENGRAMIND_DEFAULT_THRESHOLD", 0.0),
			RecencyBoost:     getEnvFloat("ENGRAMIND_RECENCY_BOOST", 0.1),
		},
		Backup: BackupConfig{
			Enabled:        getEnvBool("ENGRAMIND_BACKUP_ENABLED", false),
			IntervalString: getEnv("ENGRAMIND_BACKUP_INTERVAL", "1h"),
			Dir:            getEnv("ENGRAMIND_BACKUP_DIR", "./backups"),
			Verify:         getEnvBool("ENGRAMIND_BACKUP_VERIFY", true),
			Retention: backup.RetentionPolicy{
				Hourly:  getEnvInt("ENGRAMIND_BACKUP_RETENTION_HOURLY", 24),
				Daily:   getEnvInt("ENGRAMIND_BACKUP_RETENTION_DAILY", 7),
				Weekly:  getEnvInt("ENGRAMIND_BACKUP_RETENTION_WEEKLY", 4),
				Monthly: getEnvInt("ENGRAMIND_BACKUP_RETENTION_MONTHLY", 12),
			},
		},
	}
}

// tuningFile is the subset of Config a YAML tuning file may override: the
// nested stage thresholds spec.md §6 calls out as awkward single env vars.
type tuningFile struct {
	Engine    *EngineConfig    `yaml:"engine"`
	Retrieval *RetrievalConfig `yaml:"retrieval"`
	Backup    *struct {
		Retention *backup.RetentionPolicy `yaml:"retention"`
	} `yaml:"backup"`
}

// LoadTuningFile layers path's YAML content on top of c, overriding only the
// sections present in the file. A missing file is not an error (the engine
// runs on environment defaults alone).
func (c *Config) LoadTuningFile(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read tuning file %s: %w", path, err)
	}

	var tf tuningFile
	if err := yaml.Unmarshal(raw, &tf); err != nil {
		return fmt.Errorf("config: parse tuning file %s: %w", path, err)
	}

	if tf.Engine != nil {
		c.Engine = *tf.Engine
	}
	if tf.Retrieval != nil {
		c.Retrieval = *tf.Retrieval
	}
	if tf.Backup != nil && tf.Backup.Retention != nil {
		c.Backup.Retention = *tf.Backup.Retention
	}
	return nil
}

// QuietPeriod and CheckInterval convert the millisecond knobs to durations
// for internal/decay.SleepCycle and its scheduler.
func (e EngineConfig) QuietPeriod() time.Duration {
	return time.Duration(e.QuietPeriodMS) * time.Millisecond
}

func (e EngineConfig) CheckInterval() time.Duration {
	return time.Duration(e.CheckIntervalMS) * time.Millisecond
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
