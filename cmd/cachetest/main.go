package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"cachetest/internal/harness"
	"cachetest/internal/logging"
)

const tuning = "[-config file] [-engine name] [-path path] [-seed num] [-tc] [-bnum num] [-capcnt num] [-capsiz num] [-lv]"

var commands = []*command{
	{
		name:       "order",
		usage:      "[-th num] [-rnd] [-etc] [-tran] " + tuning + " rnum",
		flags:      withThreads | withRandom | withEtc | withTran,
		positional: []string{"rnum"},
		run:        harness.RunOrder,
	},
	{
		name:       "queue",
		usage:      "[-th num] [-it num] [-rnd] " + tuning + " rnum",
		flags:      withThreads | withIterations | withRandom,
		positional: []string{"rnum"},
		run:        harness.RunQueue,
	},
	{
		name:       "wicked",
		usage:      "[-th num] [-it num] [-cur] " + tuning + " rnum",
		flags:      withThreads | withIterations | withCursor,
		positional: []string{"rnum"},
		run:        harness.RunWicked,
	},
	{
		name:       "tran",
		usage:      "[-th num] [-it num] " + tuning + " rnum",
		flags:      withThreads | withIterations,
		positional: []string{"rnum"},
		run:        harness.RunTran,
	},
	{
		name:       "sanity",
		usage:      tuning + " thnum rnum",
		positional: []string{"thnum", "rnum"},
		run:        harness.RunSanity,
	},
	{
		name:  "bench",
		usage: "[-th num] [-targetcnt num] [-kvsize num] [-readpcnt num] [-durations sec] [-rtt] [-rep num] [-pin] " + tuning,
		flags: withThreads | withBench,
		run:   harness.RunBench,
	},
}

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes one command line and returns the exit status.
func run(args []string, stdout, stderr io.Writer) int {
	prog := filepath.Base(args[0])
	if len(args) < 2 {
		printUsage(stderr, prog)
		return 1
	}

	var cmd *command
	for _, c := range commands {
		if c.name == args[1] {
			cmd = c
		}
	}
	if cmd == nil {
		printUsage(stderr, prog)
		return 1
	}

	cfg, err := parseCommand(cmd, args[2:])
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", prog, err)
		if errors.Is(err, errUsage) {
			printUsage(stderr, prog)
		}
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed := runSeed(cfg.Workload.Seed)
	logger := logging.NewLogger(&cfg.Logging)
	env := harness.NewEnv(cfg, logger, stdout, seed, logging.ParseRunID(os.Getenv("CACHETEST_RUN_ID")))
	logger.TestEvent(ctx, "run_started", map[string]interface{}{
		"command": cmd.name,
		"seed":    seed,
		"engine":  cfg.Store.Engine,
	})

	if err := cmd.run(ctx, env); err != nil {
		logger.WithError(err).Error("Run failed", "command", cmd.name, "run_id", env.RunID)
		fmt.Fprintf(stdout, "error\n\n")
		fmt.Fprintf(stdout, "FAILED: seed=%d pid=%d run=%s %s\n\n", seed, os.Getpid(), env.RunID, strings.Join(args, " "))
		return 1
	}
	fmt.Fprintf(stdout, "ok\n\n")
	return 0
}

func printUsage(w io.Writer, prog string) {
	fmt.Fprintf(w, "%s: test cases of the cache store\n\n", prog)
	fmt.Fprintf(w, "usage:\n")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s %s %s\n", prog, c.name, c.usage)
	}
	fmt.Fprintf(w, "\nThe seed comes from -seed, then CACHETEST_SEED, then the clock.\n")
	fmt.Fprintf(w, "CACHETEST_ENV=development|production|test selects a logging preset.\n")
	fmt.Fprintf(w, "CACHETEST_RUN_ID reuses the run id of an earlier run in the logs.\n\n")
}
