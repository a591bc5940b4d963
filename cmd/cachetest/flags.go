package main

import (
	"context"
	"flag"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"cachetest/internal/config"
	"cachetest/internal/harness"
	"cachetest/internal/logging"
)

// threadMax caps every thread count given on the command line.
const threadMax = config.MaxThreads

var errUsage = errors.New("invalid arguments")

// flag groups a command accepts besides the common ones
const (
	withThreads = 1 << iota
	withIterations
	withRandom
	withEtc
	withTran
	withCursor
	withBench
)

type command struct {
	name  string
	usage string
	flags int
	// positional names the arguments after the flags
	positional []string
	run        func(context.Context, *harness.Env) error
}

type options struct {
	configPath string
	engine     string
	path       string
	seed       int64
	verbose    bool
	compress   bool
	bnum       int64
	capcnt     int64
	capsiz     int64

	threads    int
	iterations int
	random     bool
	etc        bool
	tran       bool
	cursor     bool

	targetCount int64
	kvSize      int
	readPercent int
	durations   int
	rotation    bool
	reps        int
	pin         bool
}

func (o *options) bind(fs *flag.FlagSet, groups int) {
	fs.StringVar(&o.configPath, "config", "", "configuration file (.yaml, .yml or .toml)")
	fs.StringVar(&o.engine, "engine", "", "store engine: memory or badger")
	fs.StringVar(&o.path, "path", "", "store path, * for an anonymous store")
	fs.Int64Var(&o.seed, "seed", 0, "seed of the run")
	fs.BoolVar(&o.verbose, "lv", false, "log at debug level")
	fs.BoolVar(&o.compress, "tc", false, "compress values")
	fs.Int64Var(&o.bnum, "bnum", 0, "number of buckets")
	fs.Int64Var(&o.capcnt, "capcnt", 0, "capacity by record count")
	fs.Int64Var(&o.capsiz, "capsiz", 0, "capacity by size in bytes")

	if groups&withThreads != 0 {
		fs.IntVar(&o.threads, "th", 1, "number of threads")
	}
	if groups&withIterations != 0 {
		fs.IntVar(&o.iterations, "it", 1, "number of iterations")
	}
	if groups&withRandom != 0 {
		fs.BoolVar(&o.random, "rnd", false, "random keys")
	}
	if groups&withEtc != 0 {
		fs.BoolVar(&o.etc, "etc", false, "run the extra phases")
	}
	if groups&withTran != 0 {
		fs.BoolVar(&o.tran, "tran", false, "run phases inside transactions")
	}
	if groups&withCursor != 0 {
		fs.BoolVar(&o.cursor, "cur", false, "visit records through cursors")
	}
	if groups&withBench != 0 {
		fs.Int64Var(&o.targetCount, "targetcnt", 0, "records loaded before measuring")
		fs.IntVar(&o.kvSize, "kvsize", 0, "bytes of key plus value")
		fs.IntVar(&o.readPercent, "readpcnt", 0, "percent of reads, 0 to 100")
		fs.IntVar(&o.durations, "durations", 0, "seconds per measurement round")
		fs.BoolVar(&o.rotation, "rtt", false, "enable record rotation")
		fs.IntVar(&o.reps, "rep", 0, "repetitions of the thread sweep")
		fs.BoolVar(&o.pin, "pin", false, "pin workers to CPUs")
	}
}

// apply copies every flag given on the command line over the config.
func (o *options) apply(fs *flag.FlagSet, cfg *config.Config, bench bool) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "engine":
			cfg.Store.Engine = o.engine
		case "path":
			cfg.Store.Path = o.path
		case "seed":
			cfg.Workload.Seed = o.seed
		case "tc":
			cfg.Store.Compress = o.compress
		case "bnum":
			cfg.Store.Buckets = o.bnum
		case "capcnt":
			cfg.Store.CapCount = o.capcnt
		case "capsiz":
			cfg.Store.CapSize = o.capsiz
		case "th":
			if bench {
				cfg.Bench.Threads = min(o.threads, threadMax)
			} else {
				cfg.Workload.Threads = min(o.threads, threadMax)
			}
		case "it":
			cfg.Workload.Iterations = o.iterations
		case "rnd":
			cfg.Workload.Random = o.random
		case "etc":
			cfg.Workload.Etc = o.etc
		case "tran":
			cfg.Workload.Tran = o.tran
		case "cur":
			cfg.Workload.Cursor = o.cursor
		case "targetcnt":
			cfg.Bench.TargetCount = o.targetCount
		case "kvsize":
			cfg.Bench.KVSize = o.kvSize
		case "readpcnt":
			cfg.Bench.ReadPercent = o.readPercent
		case "durations":
			cfg.Bench.Duration = time.Duration(o.durations) * time.Second
		case "rtt":
			cfg.Store.Rotation = o.rotation
		case "rep":
			cfg.Bench.Repetitions = o.reps
		case "pin":
			cfg.Bench.Pin = o.pin
		}
	})
	logging.ApplyVerbosity(&cfg.Logging, o.verbose)
}

// parseCommand builds the configuration of one run: defaults, the config
// file, CACHETEST_* variables, then the command line.
func parseCommand(cmd *command, args []string) (*config.Config, error) {
	var o options
	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	o.bind(fs, cmd.flags)
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(errUsage, err.Error())
	}
	if fs.NArg() != len(cmd.positional) {
		return nil, errors.Wrapf(errUsage, "expected %d arguments, got %d", len(cmd.positional), fs.NArg())
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logging.SetupEnvironmentLogging(cfg, os.Getenv("CACHETEST_ENV"))
	o.apply(fs, cfg, cmd.flags&withBench != 0)

	for i, name := range cmd.positional {
		n, err := strconv.ParseInt(fs.Arg(i), 10, 64)
		if err != nil || n < 1 {
			return nil, errors.Wrapf(errUsage, "invalid %s %q", name, fs.Arg(i))
		}
		switch name {
		case "rnum":
			cfg.Workload.Records = n
		case "thnum":
			cfg.Workload.Threads = int(min(n, threadMax))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errUsage, err.Error())
	}
	return cfg, nil
}

// runSeed returns the seed of the run. Without one configured it comes
// from the clock; it is never zero.
func runSeed(configured int64) int32 {
	seed := int32(configured & 0x7fffffff)
	if configured == 0 {
		seed = int32(time.Now().UnixMilli() & 0x7fffffff)
	}
	if seed == 0 {
		seed = 1
	}
	return seed
}
