package logging

import (
	"cachetest/internal/config"
)

// DevelopmentLoggingConfig returns logging configuration for interactive runs
func DevelopmentLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:                "debug",
		Format:               "console",
		Output:               "stderr",
		EnableRunID:          true,
		EnableStoreLogging:   true,
		EnablePerformanceLog: true,
	}
}

// ProductionLoggingConfig returns logging configuration for unattended runs
func ProductionLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:                "info",
		Format:               "json", // Machine-readable format for collectors
		Output:               "stderr",
		EnableRunID:          true,
		EnableStoreLogging:   false,
		EnablePerformanceLog: true,
	}
}

// TestLoggingConfig returns logging configuration optimized for testing
func TestLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:                "error", // Minimal logging during tests
		Format:               "json",
		Output:               "stderr",
		EnableRunID:          false,
		EnableStoreLogging:   false,
		EnablePerformanceLog: false,
	}
}

// SetupEnvironmentLogging configures logging based on environment
func SetupEnvironmentLogging(cfg *config.Config, environment string) {
	switch environment {
	case "development", "dev":
		cfg.Logging = DevelopmentLoggingConfig()
	case "production", "prod":
		cfg.Logging = ProductionLoggingConfig()
	case "test", "testing":
		cfg.Logging = TestLoggingConfig()
	}
}

// ApplyVerbosity raises the level to debug when the -lv flag is given
func ApplyVerbosity(cfg *config.LoggingConfig, verbose bool) {
	if verbose {
		cfg.Level = "debug"
	}
}
