package harness

import (
	"bufio"
	"bytes"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"cachetest/internal/config"
	"cachetest/internal/store"
	"cachetest/internal/testutil"
)

// newTestEnv returns an environment on the given engine writing its report
// to the returned buffer.
func newTestEnv(t *testing.T, engine string, tune func(*config.Config)) (*Env, *bytes.Buffer) {
	t.Helper()

	cfg := testutil.TestConfig()
	cfg.Store.Engine = engine
	if tune != nil {
		tune(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}

	var out bytes.Buffer
	return NewEnv(cfg, testutil.TestLogger(), &out, int32(cfg.Workload.Seed), ""), &out
}

// metricLines collects the name:value lines of a report. Later lines win.
func metricLines(report string) map[string]string {
	lines := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(report))
	for sc.Scan() {
		name, value, ok := strings.Cut(sc.Text(), ":")
		if !ok || strings.ContainsAny(name, " .<(") {
			continue
		}
		lines[name] = strings.TrimSpace(value)
	}
	return lines
}

func metricFloat(t *testing.T, lines map[string]string, name string) float64 {
	t.Helper()
	raw, ok := lines[name]
	if !ok {
		t.Fatalf("metric %q missing", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		t.Fatalf("metric %q: %v", name, err)
	}
	return v
}

func TestTolerate(t *testing.T) {
	st := testutil.TestStore(t, "memory")

	if err := tolerate(st, "site", "Get", nil); err != nil {
		t.Errorf("Expected nil for success, got %v", err)
	}

	_, err := st.Get([]byte("missing"))
	if err := tolerate(st, "site", "Get", err, store.CodeNoRec); err != nil {
		t.Errorf("Expected no record to be tolerated, got %v", err)
	}

	err = tolerate(st, "site", "Get", err, store.CodeDupRec)
	if !IsFatal(err) {
		t.Fatalf("Expected fatal error, got %v", err)
	}
	want := "site: Get: *: 7: no record: "
	if !strings.HasPrefix(err.Error(), want) {
		t.Errorf("Expected %q prefix, got %q", want, err.Error())
	}
	if !errors.Is(err, store.ErrNoRecord) {
		t.Error("Expected the store error to stay reachable")
	}
}

func TestInconsistencyError(t *testing.T) {
	err := inconsistent("count", "expected %d, found %d", 4, 5)

	if !IsInconsistency(err) {
		t.Fatal("Expected an inconsistency")
	}
	if IsFatal(err) {
		t.Error("Expected an inconsistency not to be fatal")
	}
	if got, want := err.Error(), "inconsistency: count: expected 4, found 5"; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
	if !IsInconsistency(pkgerrors.Wrap(err, "iteration 2")) {
		t.Error("Expected a wrapped inconsistency to be detected")
	}
}

func TestRunWorkers(t *testing.T) {
	t.Run("runs every worker", func(t *testing.T) {
		var seen [8]atomic.Bool
		err := runWorkers(len(seen), func(id int) error {
			seen[id].Store(true)
			return nil
		})
		if err != nil {
			t.Fatalf("runWorkers failed: %v", err)
		}
		for i := range seen {
			if !seen[i].Load() {
				t.Errorf("worker %d never ran", i)
			}
		}
	})

	t.Run("failing worker does not stop siblings", func(t *testing.T) {
		boom := errors.New("boom")
		var finished atomic.Int32
		err := runWorkers(4, func(id int) error {
			if id == 2 {
				return boom
			}
			finished.Add(1)
			return nil
		})
		if !errors.Is(err, boom) {
			t.Fatalf("Expected boom, got %v", err)
		}
		if finished.Load() != 3 {
			t.Errorf("Expected 3 workers to finish, got %d", finished.Load())
		}
	})

	t.Run("single worker runs inline", func(t *testing.T) {
		calls := 0
		if err := runWorkers(1, func(id int) error { calls++; return nil }); err != nil {
			t.Fatal(err)
		}
		if calls != 1 {
			t.Errorf("Expected one call, got %d", calls)
		}
	})
}

func TestIterationMode(t *testing.T) {
	if iterationMode(1)&store.ModeTruncate == 0 {
		t.Error("Expected the first iteration to truncate")
	}
	if iterationMode(2)&store.ModeTruncate != 0 {
		t.Error("Expected later iterations to keep the store")
	}
	if !iterationMode(3).Writable() {
		t.Error("Expected a writable mode")
	}
}

func TestProgress(t *testing.T) {
	env, out := newTestEnv(t, "memory", nil)

	for i := int64(1); i <= 1000; i++ {
		env.progress(0, i, 1000)
		env.progress(1, i, 1000)
	}

	report := out.String()
	if got := strings.Count(report, "."); got != 250 {
		t.Errorf("Expected 250 dots, got %d", got)
	}
	if !strings.Contains(report, " (00001000)\n") {
		t.Errorf("Expected the final record number, got %q", report)
	}
}

func TestMeta(t *testing.T) {
	env, out := newTestEnv(t, "memory", nil)
	st := testutil.TestStore(t, "memory")
	testutil.PopulateTestData(t, st, 10)

	env.meta(st, false)
	lines := metricLines(out.String())
	if lines["count"] != "10" {
		t.Errorf("Expected count 10, got %q", lines["count"])
	}

	out.Reset()
	env.meta(st, true)
	report := out.String()
	for _, want := range []string{"engine: memory", "buckets: 1024", "count: 10 (10)"} {
		if !strings.Contains(report, want) {
			t.Errorf("Expected %q in %q", want, report)
		}
	}
}
