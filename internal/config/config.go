package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Memory        MemoryConfig        `json:"memory"`
	Consolidation ConsolidationConfig `json:"consolidation"`
	Lifecycle     LifecycleConfig     `json:"lifecycle"`
	Embedding     EmbeddingConfig     `json:"embedding"`
	MigrationsDir string              `json:"migrations_dir"`
}

type ServerConfig struct {
	LogLevel string `json:"log_level"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
	Qdrant   QdrantConfig   `json:"qdrant"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

type QdrantConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// MemoryConfig tunes store behavior.
type MemoryConfig struct {
	WorkingCapacity   float64  `json:"working_capacity"`    // per-session weight budget
	WorkingTTL        Duration `json:"working_ttl"`         // default expiry for working items
	IncludeArchived   bool     `json:"include_archived"`    // archived rows visible to retrieval/search
	DefaultImportance float64  `json:"default_importance"`  // applied when a write omits importance
	SearchLimit       int      `json:"search_limit"`        // default cross-type search top-K
	ActiveAgentWindow Duration `json:"active_agent_window"` // trailing window for scheduled sweeps
}

// ConsolidationConfig tunes the three strategies.
type ConsolidationConfig struct {
	ReflectionInterval Duration `json:"reflection_interval"` // how often reflection fires
	SleepHourUTC       int      `json:"sleep_hour_utc"`      // daily hour for the sleep pass
	BatchLimit         int      `json:"batch_limit"`         // per-query LIMIT bounding each step
}

// LifecycleConfig tunes archival and forgetting sweeps.
type LifecycleConfig struct {
	SweepInterval      Duration `json:"sweep_interval"`
	ArchiveImportance  float64  `json:"archive_importance"`  // archive below this
	ArchiveAge         Duration `json:"archive_age"`         // and older than this
	ForgottenThreshold float64  `json:"forgotten_threshold"` // hard-delete below this
	ForgottenAge       Duration `json:"forgotten_age"`       // and older than this, never accessed
	AssociationFloor   float64  `json:"association_floor"`   // prune associations below this
	AssociationStale   Duration `json:"association_stale"`   // and not reinforced within this
	CompactionMinRows  int      `json:"compaction_min_rows"` // trigger VACUUM past this many deletes
}

type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "api", "local" or "" (substring search only)
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"dimension"`
}

// Duration is a time.Duration that unmarshals from JSON strings like "6h".
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	cfg := Default()
	if err := json.Unmarshal([]byte(resolved), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when a field is absent from the file.
func Default() *Config {
	return &Config{
		Server:        ServerConfig{LogLevel: "info"},
		MigrationsDir: "migrations",
		Memory: MemoryConfig{
			WorkingCapacity:   7.0,
			WorkingTTL:        Duration(time.Hour),
			DefaultImportance: 0.5,
			SearchLimit:       20,
			ActiveAgentWindow: Duration(7 * 24 * time.Hour),
		},
		Consolidation: ConsolidationConfig{
			ReflectionInterval: Duration(6 * time.Hour),
			SleepHourUTC:       3,
			BatchLimit:         200,
		},
		Lifecycle: LifecycleConfig{
			SweepInterval:      Duration(12 * time.Hour),
			ArchiveImportance:  0.30,
			ArchiveAge:         Duration(30 * 24 * time.Hour),
			ForgottenThreshold: 0.10,
			ForgottenAge:       Duration(60 * 24 * time.Hour),
			AssociationFloor:   0.20,
			AssociationStale:   Duration(30 * 24 * time.Hour),
			CompactionMinRows:  500,
		},
	}
}
