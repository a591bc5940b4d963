package store

import (
	"log/slog"

	"cachetest/internal/config"
)

// OptionsFromConfig maps the store section of the configuration to engine options.
func OptionsFromConfig(cfg *config.StoreConfig, logger *slog.Logger) Options {
	return Options{
		Engine:   cfg.Engine,
		Buckets:  cfg.Buckets,
		CapCount: cfg.CapCount,
		CapSize:  cfg.CapSize,
		Compress: cfg.Compress,
		Rotation: cfg.Rotation,
		HardSync: cfg.HardSync,
		Logger:   logger,
	}
}

// New creates an unopened store for the configured engine. Capacity limits
// are only enforced by the memory engine; asking badger for them is an error.
func New(opts Options) (Store, error) {
	switch opts.Engine {
	case "", "memory":
		return NewMemoryStore(opts), nil
	case "badger":
		if opts.CapCount > 0 || opts.CapSize > 0 {
			return nil, newError(CodeInvalid, "New", "the badger engine has no capacity limits")
		}
		return NewBadgerStore(opts), nil
	default:
		return nil, newError(CodeInvalid, "New", "unknown engine: "+opts.Engine)
	}
}
