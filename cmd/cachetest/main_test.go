package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func findCommand(t *testing.T, name string) *command {
	t.Helper()
	for _, c := range commands {
		if c.name == name {
			return c
		}
	}
	t.Fatalf("no command %q", name)
	return nil
}

func TestParseCommand(t *testing.T) {
	t.Setenv("CACHETEST_ENV", "test")

	t.Run("order flags", func(t *testing.T) {
		cfg, err := parseCommand(findCommand(t, "order"),
			[]string{"-th", "4", "-rnd", "-etc", "-tran", "-tc", "-bnum", "1000", "-capcnt", "500", "-lv", "20000"})
		if err != nil {
			t.Fatalf("parseCommand failed: %v", err)
		}
		wl := cfg.Workload
		if wl.Threads != 4 || wl.Records != 20000 || !wl.Random || !wl.Etc || !wl.Tran {
			t.Errorf("unexpected workload: %+v", wl)
		}
		if !cfg.Store.Compress || cfg.Store.Buckets != 1000 || cfg.Store.CapCount != 500 {
			t.Errorf("unexpected store: %+v", cfg.Store)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("Expected -lv to select debug, got %q", cfg.Logging.Level)
		}
	})

	t.Run("thread count is capped", func(t *testing.T) {
		cfg, err := parseCommand(findCommand(t, "wicked"), []string{"-th", "500", "-it", "3", "-cur", "100"})
		if err != nil {
			t.Fatalf("parseCommand failed: %v", err)
		}
		if cfg.Workload.Threads != threadMax || cfg.Workload.Iterations != 3 || !cfg.Workload.Cursor {
			t.Errorf("unexpected workload: %+v", cfg.Workload)
		}
	})

	t.Run("sanity positionals", func(t *testing.T) {
		cfg, err := parseCommand(findCommand(t, "sanity"), []string{"8", "300"})
		if err != nil {
			t.Fatalf("parseCommand failed: %v", err)
		}
		if cfg.Workload.Threads != 8 || cfg.Workload.Records != 300 {
			t.Errorf("unexpected workload: %+v", cfg.Workload)
		}
	})

	t.Run("bench flags", func(t *testing.T) {
		cfg, err := parseCommand(findCommand(t, "bench"),
			[]string{"-th", "3", "-targetcnt", "5000", "-kvsize", "128", "-readpcnt", "50", "-durations", "2", "-rtt", "-rep", "2"})
		if err != nil {
			t.Fatalf("parseCommand failed: %v", err)
		}
		b := cfg.Bench
		if b.Threads != 3 || b.TargetCount != 5000 || b.KVSize != 128 || b.ReadPercent != 50 || b.Repetitions != 2 {
			t.Errorf("unexpected bench: %+v", b)
		}
		if b.Duration != 2*time.Second || !cfg.Store.Rotation {
			t.Errorf("unexpected duration or rotation: %v %v", b.Duration, cfg.Store.Rotation)
		}
		if cfg.Workload.Threads != 1 {
			t.Errorf("Expected -th to leave the workload threads alone, got %d", cfg.Workload.Threads)
		}
	})

	t.Run("config file under flags", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "run.yaml")
		data := "store:\n  engine: badger\n  buckets: 77\nworkload:\n  threads: 6\n"
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
		cfg, err := parseCommand(findCommand(t, "tran"), []string{"-config", path, "-bnum", "99", "10"})
		if err != nil {
			t.Fatalf("parseCommand failed: %v", err)
		}
		if cfg.Store.Engine != "badger" || cfg.Store.Buckets != 99 || cfg.Workload.Threads != 6 {
			t.Errorf("unexpected config: %+v %+v", cfg.Store, cfg.Workload)
		}
	})

	bad := []struct {
		name string
		cmd  string
		args []string
	}{
		{"missing rnum", "order", []string{"-th", "2"}},
		{"extra argument", "queue", []string{"10", "20"}},
		{"zero rnum", "tran", []string{"0"}},
		{"malformed rnum", "wicked", []string{"ten"}},
		{"unknown flag", "tran", []string{"-rnd", "10"}},
		{"bad kv size", "bench", []string{"-kvsize", "10"}},
		{"one sanity argument", "sanity", []string{"4"}},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCommand(findCommand(t, tt.cmd), tt.args)
			if !errors.Is(err, errUsage) {
				t.Errorf("Expected a usage error, got %v", err)
			}
		})
	}
}

func TestRunSeed(t *testing.T) {
	if got := runSeed(42); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
	if got := runSeed(1 << 31); got != 1 {
		t.Errorf("Expected a zero seed to become 1, got %d", got)
	}
	for i := 0; i < 10; i++ {
		if runSeed(0) <= 0 {
			t.Fatal("Expected a positive clock seed")
		}
	}
}

func TestRun(t *testing.T) {
	t.Setenv("CACHETEST_ENV", "test")

	t.Run("usage", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		if code := run([]string{"cachetest", "nope"}, &stdout, &stderr); code != 1 {
			t.Errorf("Expected exit 1, got %d", code)
		}
		if !strings.Contains(stderr.String(), "cachetest wicked [-th num]") {
			t.Errorf("Expected usage, got %q", stderr.String())
		}
	})

	t.Run("sanity passes", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		code := run([]string{"cachetest", "sanity", "-seed", "7", "2", "20"}, &stdout, &stderr)
		if code != 0 {
			t.Fatalf("Expected exit 0, got %d\n%s", code, stdout.String())
		}
		if !strings.HasSuffix(stdout.String(), "ok\n\n") {
			t.Errorf("Expected ok, got %q", stdout.String())
		}
		if !strings.Contains(stdout.String(), "seed=7") {
			t.Errorf("Expected the seed in the header, got %q", stdout.String())
		}
	})

	t.Run("run id is carried over", func(t *testing.T) {
		const id = "0b5cbd8e-3f46-4a31-9a55-5e0a51f6f2a1"
		t.Setenv("CACHETEST_RUN_ID", id)
		var stdout, stderr bytes.Buffer
		args := []string{"cachetest", "order", "-engine", "badger", "-path", "/dev/null/store", "10"}
		if code := run(args, &stdout, &stderr); code != 1 {
			t.Fatalf("Expected exit 1, got %d", code)
		}
		if !strings.Contains(stdout.String(), "run="+id) {
			t.Errorf("Expected run id %s in %q", id, stdout.String())
		}
	})

	t.Run("failure reports the seed", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		dir := filepath.Join(t.TempDir(), "missing", "store")
		args := []string{"cachetest", "order", "-engine", "badger", "-path", "/dev/null/" + dir, "-seed", "9", "10"}
		if code := run(args, &stdout, &stderr); code != 1 {
			t.Fatalf("Expected exit 1, got %d", code)
		}
		want := "FAILED: seed=9 pid="
		if !strings.Contains(stdout.String(), want) {
			t.Errorf("Expected %q in %q", want, stdout.String())
		}
	})
}
