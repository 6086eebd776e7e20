// Package config loads the registry configuration from REGISTRY_* environment
// variables, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const envPrefix = "REGISTRY_"

// MaxBatchSize bounds RECOMPUTE_BATCH_SIZE. A batch is bound as one list of
// SQL parameters and SQLite caps those per statement.
const MaxBatchSize = 10000

// S3Config holds S3-compatible storage settings for backups.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Configured reports whether enough is set to talk to the bucket.
func (c S3Config) Configured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// BackupConfig controls encrypted database backups.
type BackupConfig struct {
	S3            S3Config
	Passphrase    string
	Schedule      string // cron spec, empty disables scheduled backups
	RetentionDays int
}

// Enabled reports whether backups can run.
func (c BackupConfig) Enabled() bool {
	return c.S3.Configured() && c.Passphrase != ""
}

// RecomputeConfig tunes the recompute trigger and task queue.
type RecomputeConfig struct {
	BatchSize          int
	Debounce           time.Duration
	DirtyCapacity      int
	InteractiveWorkers int
	BatchWorkers       int
	MaxAttempts        int
	Schedule           string // cron spec for a full recompute, empty disables it
	ResumeOnStart      bool
}

type Config struct {
	Addr      string
	DBPath    string
	LogLevel  string
	LogFormat string // "text" or "json"

	// AdminTokenHash is the bcrypt hash of the token that guards mutating
	// routes. Empty leaves the API open.
	AdminTokenHash string

	RateLimit       int
	RateLimitWindow time.Duration

	Recompute RecomputeConfig
	Backup    BackupConfig
}

// Load reads envFile when it exists and then the environment. Variables
// already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	return FromEnv()
}

// FromEnv builds the configuration from the environment alone.
func FromEnv() (*Config, error) {
	var p parser
	cfg := &Config{
		Addr:           p.str("ADDR", ":8080"),
		DBPath:         p.str("DB_PATH", "registry.db"),
		LogLevel:       p.str("LOG_LEVEL", "info"),
		LogFormat:      p.str("LOG_FORMAT", "text"),
		AdminTokenHash: p.str("ADMIN_TOKEN_HASH", ""),

		RateLimit:       p.integer("RATE_LIMIT", 120),
		RateLimitWindow: p.duration("RATE_LIMIT_WINDOW", time.Minute),

		Recompute: RecomputeConfig{
			BatchSize:          p.integer("RECOMPUTE_BATCH_SIZE", 10000),
			Debounce:           p.duration("RECOMPUTE_DEBOUNCE", 2*time.Second),
			DirtyCapacity:      p.integer("RECOMPUTE_DIRTY_CAPACITY", 5000),
			InteractiveWorkers: p.integer("QUEUE_INTERACTIVE_WORKERS", 4),
			BatchWorkers:       p.integer("QUEUE_BATCH_WORKERS", 1),
			MaxAttempts:        p.integer("QUEUE_MAX_ATTEMPTS", 5),
			Schedule:           p.str("RECOMPUTE_SCHEDULE", ""),
			ResumeOnStart:      p.boolean("RECOMPUTE_RESUME", true),
		},

		Backup: BackupConfig{
			S3: S3Config{
				Endpoint:  p.str("S3_ENDPOINT", ""),
				Bucket:    p.str("S3_BUCKET", ""),
				Region:    p.str("S3_REGION", "us-east-1"),
				AccessKey: p.str("S3_ACCESS_KEY", ""),
				SecretKey: p.str("S3_SECRET_KEY", ""),
			},
			Passphrase:    p.str("BACKUP_PASSPHRASE", ""),
			Schedule:      p.str("BACKUP_SCHEDULE", ""),
			RetentionDays: p.integer("BACKUP_RETENTION_DAYS", 30),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%sLOG_FORMAT must be text or json, got %q", envPrefix, c.LogFormat)
	}
	if c.Recompute.BatchSize <= 0 {
		return fmt.Errorf("%sRECOMPUTE_BATCH_SIZE must be positive", envPrefix)
	}
	if c.Recompute.BatchSize > MaxBatchSize {
		return fmt.Errorf("%sRECOMPUTE_BATCH_SIZE must be at most %d, got %d", envPrefix, MaxBatchSize, c.Recompute.BatchSize)
	}
	if c.Recompute.DirtyCapacity <= 0 {
		return fmt.Errorf("%sRECOMPUTE_DIRTY_CAPACITY must be positive", envPrefix)
	}
	if c.Recompute.InteractiveWorkers <= 0 || c.Recompute.BatchWorkers <= 0 {
		return fmt.Errorf("%sQUEUE_*_WORKERS must be positive", envPrefix)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("%sRATE_LIMIT must be positive", envPrefix)
	}
	if c.Backup.RetentionDays <= 0 {
		return fmt.Errorf("%sBACKUP_RETENTION_DAYS must be positive", envPrefix)
	}
	return nil
}

// parser reads prefixed variables and keeps the first parse error.
type parser struct {
	err error
}

func (p *parser) lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key, def string) string {
	if v, ok := p.lookup(key); ok {
		return v
	}
	return def
}

func (p *parser) integer(key string, def int) int {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.lookup(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s%s=%q: %w", envPrefix, key, value, err)
	}
}
