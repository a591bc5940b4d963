package testutil

import (
	"fmt"
	"testing"
	"time"

	"cachetest/internal/config"
	"cachetest/internal/logging"
	"cachetest/internal/store"
)

// Engines lists the store engines every contract test runs against
var Engines = []string{"memory", "badger"}

// TestStore creates and opens a volatile store of the given engine
func TestStore(t *testing.T, engine string) store.Store {
	t.Helper()
	return TestStoreWithOptions(t, store.Options{Engine: engine, Buckets: 1024})
}

// TestStoreWithOptions creates and opens a volatile store with custom options
func TestStoreWithOptions(t *testing.T, opts store.Options) store.Store {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = TestLogger().Logger
	}

	st, err := store.New(opts)
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	if err := st.Open("*", store.ModeWriter|store.ModeCreate|store.ModeTruncate); err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	t.Cleanup(func() {
		st.Close()
	})

	return st
}

// TestConfig creates a configuration sized for unit tests
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Store.Buckets = 4096
	cfg.Logging = logging.TestLoggingConfig()
	cfg.Bench.TargetCount = 1000
	cfg.Bench.Threads = 2
	cfg.Bench.Duration = 200 * time.Millisecond
	cfg.Bench.LoaderThreads = 2
	cfg.Workload.Threads = 4
	cfg.Workload.Records = 2000
	cfg.Workload.Seed = 20140917
	return cfg
}

// TestLogger creates a test logger that discards its output
func TestLogger() *logging.Logger {
	return logging.NewNopLogger()
}

// PopulateTestData fills the store with count records and returns them
func PopulateTestData(t *testing.T, st store.Store, count int) map[string]string {
	t.Helper()

	data := make(map[string]string)
	for i := 0; i < count; i++ {
		key := fmt.Sprintf("%08d", i)
		value := fmt.Sprintf("value-%d", i)

		if err := st.Set([]byte(key), []byte(value)); err != nil {
			t.Fatalf("Failed to set test data: %v", err)
		}

		data[key] = value
	}

	return data
}

// Snapshot returns every record of the store
func Snapshot(t *testing.T, st store.Store) map[string]string {
	t.Helper()

	data := make(map[string]string)
	err := st.Iterate(func(key, value []byte, exists bool) store.Action {
		data[string(key)] = string(value)
		return store.NoOp()
	}, false)
	if err != nil {
		t.Fatalf("Failed to iterate store: %v", err)
	}
	return data
}

// AssertKeyNotExists verifies that a key does not exist in the store
func AssertKeyNotExists(t *testing.T, st store.Store, key string) {
	t.Helper()

	_, err := st.Get([]byte(key))
	if !store.IsNoRecord(err) {
		t.Errorf("Expected key %s to not exist, got error %v", key, err)
	}
}

// AssertKeyValue verifies that a key has the expected value
func AssertKeyValue(t *testing.T, st store.Store, key, expectedValue string) {
	t.Helper()

	value, err := st.Get([]byte(key))
	if err != nil {
		t.Fatalf("Failed to get key %s: %v", key, err)
	}

	if string(value) != expectedValue {
		t.Errorf("Expected key %s to have value %s, got %s", key, expectedValue, string(value))
	}
}

// AssertCode verifies that err carries the expected store code
func AssertCode(t *testing.T, err error, want store.Code) {
	t.Helper()

	if got := store.CodeOf(err); got != want {
		t.Errorf("Expected code %v, got %v (%v)", want, got, err)
	}
}

// WithTimeout runs a test function with a timeout
func WithTimeout(t *testing.T, timeout time.Duration, fn func()) {
	t.Helper()

	done := make(chan bool, 1)

	go func() {
		fn()
		done <- true
	}()

	select {
	case <-done:
		// Test completed within timeout
	case <-time.After(timeout):
		t.Fatalf("Test timed out after %v", timeout)
	}
}

// ConcurrentTest runs multiple test functions concurrently
func ConcurrentTest(t *testing.T, concurrency int, testFunc func(int)) {
	t.Helper()

	done := make(chan bool, concurrency)
	errors := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		go func(index int) {
			defer func() {
				if r := recover(); r != nil {
					errors <- fmt.Errorf("goroutine %d panicked: %v", index, r)
				}
				done <- true
			}()

			testFunc(index)
		}(i)
	}

	// Wait for all goroutines to complete
	for i := 0; i < concurrency; i++ {
		<-done
	}

	// Check for errors
	select {
	case err := <-errors:
		t.Fatalf("Concurrent test failed: %v", err)
	default:
		// No errors
	}
}
