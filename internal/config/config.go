package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"cachetest/internal/codec"
)

// MaxThreads bounds the worker and loader counts of a run.
const MaxThreads = 64

type Config struct {
	Store    StoreConfig    `yaml:"store" json:"store" toml:"store"`
	Logging  LoggingConfig  `yaml:"logging" json:"logging" toml:"logging"`
	Bench    BenchConfig    `yaml:"bench" json:"bench" toml:"bench"`
	Workload WorkloadConfig `yaml:"workload" json:"workload" toml:"workload"`
}

type StoreConfig struct {
	Engine   string `yaml:"engine" json:"engine" toml:"engine"`
	Path     string `yaml:"path" json:"path" toml:"path"`
	Buckets  int64  `yaml:"buckets" json:"buckets" toml:"buckets"`       // -bnum
	CapCount int64  `yaml:"cap_count" json:"cap_count" toml:"cap_count"` // -capcnt, 0 = unbounded
	CapSize  int64  `yaml:"cap_size" json:"cap_size" toml:"cap_size"`    // -capsiz in bytes, 0 = unbounded
	Compress bool   `yaml:"compress" json:"compress" toml:"compress"`    // -tc
	Rotation bool   `yaml:"rotation" json:"rotation" toml:"rotation"`
	// HardSync makes committed transactions sync the engine to stable storage.
	HardSync bool `yaml:"hard_sync" json:"hard_sync" toml:"hard_sync"`
}

type LoggingConfig struct {
	Level                string `yaml:"level" json:"level" toml:"level"`
	Format               string `yaml:"format" json:"format" toml:"format"`
	Output               string `yaml:"output" json:"output" toml:"output"`
	EnableRunID          bool   `yaml:"enable_run_id" json:"enable_run_id" toml:"enable_run_id"`
	EnableStoreLogging   bool   `yaml:"enable_store_logging" json:"enable_store_logging" toml:"enable_store_logging"`
	EnablePerformanceLog bool   `yaml:"enable_performance_log" json:"enable_performance_log" toml:"enable_performance_log"`
}

type BenchConfig struct {
	TargetCount   int64         `yaml:"target_count" json:"target_count" toml:"target_count"`
	Threads       int           `yaml:"threads" json:"threads" toml:"threads"`
	KVSize        int           `yaml:"kv_size" json:"kv_size" toml:"kv_size"`
	ReadPercent   int           `yaml:"read_percent" json:"read_percent" toml:"read_percent"`
	Duration      time.Duration `yaml:"duration" json:"duration" toml:"duration"`
	Repetitions   int           `yaml:"repetitions" json:"repetitions" toml:"repetitions"`
	LoaderThreads int           `yaml:"loader_threads" json:"loader_threads" toml:"loader_threads"`
	StopInterval  int           `yaml:"stop_interval" json:"stop_interval" toml:"stop_interval"` // iterations between stop flag checks
	Pin           bool          `yaml:"pin" json:"pin" toml:"pin"`
}

type WorkloadConfig struct {
	Threads    int   `yaml:"threads" json:"threads" toml:"threads"`
	Records    int64 `yaml:"records" json:"records" toml:"records"`
	Iterations int   `yaml:"iterations" json:"iterations" toml:"iterations"`
	Random     bool  `yaml:"random" json:"random" toml:"random"`
	Etc        bool  `yaml:"etc" json:"etc" toml:"etc"`
	Tran       bool  `yaml:"tran" json:"tran" toml:"tran"`
	Cursor     bool  `yaml:"cursor" json:"cursor" toml:"cursor"`
	Turns      int   `yaml:"turns" json:"turns" toml:"turns"`
	// Seed of the run; 0 picks one from the clock.
	Seed int64 `yaml:"seed" json:"seed" toml:"seed"`
}

func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Engine:  "memory",
			Path:    "*",
			Buckets: 1048583,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			Output:      "stderr",
			EnableRunID: true,
		},
		Bench: BenchConfig{
			TargetCount:   1000000,
			Threads:       1,
			KVSize:        64,
			ReadPercent:   90,
			Duration:      10 * time.Second,
			Repetitions:   1,
			LoaderThreads: 4,
			StopInterval:  50,
		},
		Workload: WorkloadConfig{
			Threads:    1,
			Records:    10000,
			Iterations: 1,
			Turns:      10,
		},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), config); err != nil {
			return fmt.Errorf("failed to unmarshal TOML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) error {
	// Store configuration
	if engine := os.Getenv("CACHETEST_ENGINE"); engine != "" {
		config.Store.Engine = engine
	}
	if path := os.Getenv("CACHETEST_PATH"); path != "" {
		config.Store.Path = path
	}
	if err := envInt64("CACHETEST_BNUM", &config.Store.Buckets); err != nil {
		return err
	}
	if err := envInt64("CACHETEST_CAPCNT", &config.Store.CapCount); err != nil {
		return err
	}
	if err := envInt64("CACHETEST_CAPSIZ", &config.Store.CapSize); err != nil {
		return err
	}
	if compress := os.Getenv("CACHETEST_COMPRESS"); compress != "" {
		if b, err := strconv.ParseBool(compress); err == nil {
			config.Store.Compress = b
		}
	}

	// Logging configuration
	if level := os.Getenv("CACHETEST_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CACHETEST_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CACHETEST_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}

	// Workload configuration
	if err := envInt64("CACHETEST_SEED", &config.Workload.Seed); err != nil {
		return err
	}

	return nil
}

// envInt64 overrides dst when the variable is set. Malformed numbers are rejected.
func envInt64(name string, dst *int64) error {
	raw := os.Getenv(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	*dst = v
	return nil
}

func (c *Config) Validate() error {
	// Store validation
	switch c.Store.Engine {
	case "memory", "badger":
	default:
		return fmt.Errorf("unknown store engine: %q", c.Store.Engine)
	}
	if c.Store.Buckets < 0 {
		return fmt.Errorf("bucket count cannot be negative: %d", c.Store.Buckets)
	}
	if c.Store.CapCount < 0 {
		return fmt.Errorf("capacity by count cannot be negative: %d", c.Store.CapCount)
	}
	if c.Store.CapSize < 0 {
		return fmt.Errorf("capacity by size cannot be negative: %d", c.Store.CapSize)
	}

	// Logging validation
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Bench validation
	if err := c.Bench.Validate(); err != nil {
		return err
	}

	// Workload validation
	if c.Workload.Threads < 1 {
		return fmt.Errorf("thread count must be positive: %d", c.Workload.Threads)
	}
	if c.Workload.Records < 1 {
		return fmt.Errorf("record count must be positive: %d", c.Workload.Records)
	}
	if c.Workload.Iterations < 1 {
		return fmt.Errorf("iteration count must be positive: %d", c.Workload.Iterations)
	}
	if c.Workload.Turns < 1 {
		return fmt.Errorf("turn count must be positive: %d", c.Workload.Turns)
	}

	return nil
}

// Validate checks the bench parameters.
func (b *BenchConfig) Validate() error {
	if b.TargetCount < 1 {
		return fmt.Errorf("target count must be positive: %d", b.TargetCount)
	}
	if b.Threads < 1 || b.Threads > MaxThreads {
		return fmt.Errorf("thread count out of range: %d", b.Threads)
	}
	if b.KeySize() < codec.MinKeySize {
		return fmt.Errorf("kv size %d leaves keys shorter than %d bytes", b.KVSize, codec.MinKeySize)
	}
	if b.ReadPercent < 0 || b.ReadPercent > 100 {
		return fmt.Errorf("read percent out of range: %d", b.ReadPercent)
	}
	if b.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if b.Repetitions < 1 {
		return fmt.Errorf("repetition count must be positive: %d", b.Repetitions)
	}
	if b.LoaderThreads < 1 || b.LoaderThreads > MaxThreads {
		return fmt.Errorf("loader thread count out of range: %d", b.LoaderThreads)
	}
	if b.StopInterval < 1 {
		return fmt.Errorf("stop interval must be positive: %d", b.StopInterval)
	}
	return nil
}

// KeySize returns the key width derived from the kv budget. Values have the
// same width.
func (b *BenchConfig) KeySize() int {
	k, _ := codec.Split(b.KVSize)
	return k
}

// ValueSize returns the value width derived from the kv budget.
func (b *BenchConfig) ValueSize() int {
	_, v := codec.Split(b.KVSize)
	return v
}

// KeyRange is twice the target count, so about half of all random lookups miss.
func (b *BenchConfig) KeyRange() int64 {
	return 2 * b.TargetCount
}

func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
