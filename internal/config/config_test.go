package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Store.Engine != "memory" {
		t.Errorf("Expected default engine to be memory, got %s", config.Store.Engine)
	}

	if config.Store.Buckets != 1048583 {
		t.Errorf("Expected default bucket count to be 1048583, got %d", config.Store.Buckets)
	}

	if config.Logging.Output != "stderr" {
		t.Errorf("Expected default log output to be stderr, got %s", config.Logging.Output)
	}

	if config.Workload.Turns != 10 {
		t.Errorf("Expected default turns to be 10, got %d", config.Workload.Turns)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "cachetest.yaml")

	configContent := `
store:
  engine: "badger"
  path: "*"
  buckets: 4096
  cap_count: 500
  compress: true

logging:
  level: "debug"
  format: "json"

bench:
  target_count: 1000
  threads: 4
  kv_size: 64
  read_percent: 90
  duration: 2s

workload:
  threads: 8
  records: 20000
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Store.Engine != "badger" {
		t.Errorf("Expected engine to be badger, got %s", config.Store.Engine)
	}
	if config.Store.Buckets != 4096 || config.Store.CapCount != 500 {
		t.Errorf("Expected buckets 4096 and cap_count 500, got %d and %d", config.Store.Buckets, config.Store.CapCount)
	}
	if !config.Store.Compress {
		t.Error("Expected compress to be true")
	}
	if config.Bench.Duration != 2*time.Second {
		t.Errorf("Expected duration to be 2s, got %v", config.Bench.Duration)
	}
	if config.Workload.Threads != 8 {
		t.Errorf("Expected workload threads to be 8, got %d", config.Workload.Threads)
	}
	// Untouched sections keep their defaults.
	if config.Bench.StopInterval != 50 {
		t.Errorf("Expected stop interval to stay 50, got %d", config.Bench.StopInterval)
	}
}

func TestLoadFromTOMLFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "cachetest.toml")

	configContent := `
[store]
engine = "memory"
cap_size = 1048576
rotation = true

[bench]
target_count = 5000
read_percent = 50
duration = "3s"

[workload]
turns = 20
seed = 424242
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	config, err := Load(configFile)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Store.CapSize != 1048576 || !config.Store.Rotation {
		t.Errorf("Unexpected store section: %+v", config.Store)
	}
	if config.Bench.TargetCount != 5000 || config.Bench.ReadPercent != 50 {
		t.Errorf("Unexpected bench section: %+v", config.Bench)
	}
	if config.Bench.Duration != 3*time.Second {
		t.Errorf("Expected duration to be 3s, got %v", config.Bench.Duration)
	}
	if config.Workload.Turns != 20 || config.Workload.Seed != 424242 {
		t.Errorf("Unexpected workload section: %+v", config.Workload)
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "cachetest.ini")
	if err := os.WriteFile(configFile, []byte("x=1"), 0644); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	if _, err := Load(configFile); err == nil {
		t.Error("Expected error for unsupported config format")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CACHETEST_ENGINE", "badger")
	t.Setenv("CACHETEST_BNUM", "2048")
	t.Setenv("CACHETEST_CAPCNT", "100")
	t.Setenv("CACHETEST_COMPRESS", "true")
	t.Setenv("CACHETEST_LOG_LEVEL", "error")
	t.Setenv("CACHETEST_SEED", "1234")

	config, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.Store.Engine != "badger" {
		t.Errorf("Expected engine to be badger, got %s", config.Store.Engine)
	}
	if config.Store.Buckets != 2048 {
		t.Errorf("Expected buckets to be 2048, got %d", config.Store.Buckets)
	}
	if config.Store.CapCount != 100 {
		t.Errorf("Expected cap count to be 100, got %d", config.Store.CapCount)
	}
	if !config.Store.Compress {
		t.Error("Expected compress to be true")
	}
	if config.Logging.Level != "error" {
		t.Errorf("Expected log level to be error, got %s", config.Logging.Level)
	}
	if config.Workload.Seed != 1234 {
		t.Errorf("Expected seed to be 1234, got %d", config.Workload.Seed)
	}
}

func TestLoadFromEnvironment_MalformedSeed(t *testing.T) {
	t.Setenv("CACHETEST_SEED", "not-a-number")

	if _, err := Load(""); err == nil {
		t.Error("Expected error for malformed seed")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		configFunc  func() *Config
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid config",
			configFunc: func() *Config {
				return DefaultConfig()
			},
			expectError: false,
		},
		{
			name: "unknown engine",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Store.Engine = "redis"
				return config
			},
			expectError: true,
			errorMsg:    "unknown store engine",
		},
		{
			name: "negative capacity",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Store.CapCount = -1
				return config
			},
			expectError: true,
			errorMsg:    "capacity by count cannot be negative",
		},
		{
			name: "invalid log level",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Logging.Level = "invalid"
				return config
			},
			expectError: true,
			errorMsg:    "invalid log level",
		},
		{
			name: "short keys",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Bench.KVSize = 62
				return config
			},
			expectError: true,
			errorMsg:    "leaves keys shorter than 32 bytes",
		},
		{
			name: "read percent out of range",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Bench.ReadPercent = 101
				return config
			},
			expectError: true,
			errorMsg:    "read percent out of range",
		},
		{
			name: "zero duration",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Bench.Duration = 0
				return config
			},
			expectError: true,
			errorMsg:    "duration must be positive",
		},
		{
			name: "zero workload threads",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Workload.Threads = 0
				return config
			},
			expectError: true,
			errorMsg:    "thread count must be positive",
		},
		{
			name: "too many bench threads",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Bench.Threads = MaxThreads + 1
				return config
			},
			expectError: true,
			errorMsg:    "thread count out of range: 65",
		},
		{
			name: "too many loaders",
			configFunc: func() *Config {
				config := DefaultConfig()
				config.Bench.LoaderThreads = MaxThreads + 1
				return config
			},
			expectError: true,
			errorMsg:    "loader thread count out of range",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.configFunc()
			err := config.Validate()

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected validation error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no validation error but got: %v", err)
				}
			}
		})
	}
}

func TestBenchKeySize(t *testing.T) {
	bench := DefaultConfig().Bench
	bench.KVSize = 129

	if got := bench.KeySize(); got != 64 {
		t.Errorf("Expected key size 64, got %d", got)
	}
}

func TestConfigString(t *testing.T) {
	config := DefaultConfig()
	configStr := config.String()

	if configStr == "" {
		t.Error("Config string should not be empty")
	}

	for _, section := range []string{"store:", "logging:", "bench:", "workload:"} {
		if !strings.Contains(configStr, section) {
			t.Errorf("Config string should contain %s section", section)
		}
	}
}
