// Package harness drives a store with the workload tests: the timed bench,
// the ordered and queue tests, the wicked operation sequencer, the
// transactional consistency checker and the sanity test.
package harness

import (
	"context"
	"io"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"cachetest/internal/config"
	"cachetest/internal/logging"
	"cachetest/internal/metrics"
	"cachetest/internal/prng"
	"cachetest/internal/store"
)

// Env carries what every test needs. Progress and metric lines go to the
// reporter; diagnostics go to the logger.
type Env struct {
	Config *config.Config
	Logger *logging.Logger
	Seed   int32
	RunID  string

	rep      *metrics.Reporter
	memStart uint64
}

// NewEnv creates a test environment writing its report to out. An empty
// runID gets a fresh one.
func NewEnv(cfg *config.Config, logger *logging.Logger, out io.Writer, seed int32, runID string) *Env {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if runID == "" {
		runID = logging.NewRunID()
	}
	return &Env{
		Config:   cfg,
		Logger:   logger.WithRun(runID),
		Seed:     seed,
		RunID:    runID,
		rep:      metrics.NewReporter(out),
		memStart: heapInUse(),
	}
}

func (e *Env) printf(format string, args ...interface{}) {
	e.rep.Printf(format, args...)
}

func (e *Env) context(ctx context.Context, test string) context.Context {
	return logging.ContextWithRun(ctx, e.RunID, test)
}

// seeds derives one independent stream seed per worker from the run seed.
func (e *Env) seeds(n int) []int32 {
	return prng.Derive(e.Seed, n)
}

// iterationMode truncates the store only on the first iteration.
func iterationMode(iteration int) store.Mode {
	mode := store.ModeWriter | store.ModeCreate
	if iteration == 1 {
		mode |= store.ModeTruncate
	}
	return mode
}

// openStore creates a store from the configuration and opens it. tune may
// adjust the engine options first.
func (e *Env) openStore(ctx context.Context, path string, mode store.Mode, tune func(*store.Options)) (store.Store, error) {
	opts := store.OptionsFromConfig(&e.Config.Store, e.Logger.Logger)
	if tune != nil {
		tune(&opts)
	}

	st, err := store.New(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create store")
	}
	start := time.Now()
	err = st.Open(path, mode)
	e.Logger.StoreOperation(ctx, "Open", []byte(path), time.Since(start), err)
	if err != nil {
		e.Logger.StoreFailure(ctx, "open", "Open", path, err)
		return nil, errors.WithStack(&FatalError{Site: "open", Op: "Open", Path: path, Err: err})
	}
	return st, nil
}

// closeStore closes st and folds a close failure into err.
func (e *Env) closeStore(ctx context.Context, st store.Store, err error) error {
	start := time.Now()
	cerr := st.Close()
	e.Logger.StoreOperation(ctx, "Close", []byte(st.Path()), time.Since(start), cerr)
	if cerr != nil {
		e.Logger.StoreFailure(ctx, "close", "Close", st.Path(), cerr)
		if err == nil {
			err = errors.WithStack(&FatalError{Site: "close", Op: "Close", Path: st.Path(), Err: cerr})
		}
	}
	return err
}

// fail logs a worker failure and passes it on.
func (e *Env) fail(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		e.Logger.StoreFailure(ctx, fe.Site, fe.Op, fe.Path, fe.Err)
	} else {
		e.Logger.WithContext(ctx).WithError(err).Error("Check failed")
	}
	return err
}

// meta prints the store summary after a phase.
func (e *Env) meta(st store.Store, verbose bool) {
	if verbose {
		s := st.Status()
		e.printf("engine: %s\n", s.Engine)
		e.printf("path: %s\n", s.Path)
		e.printf("options:")
		if s.Compressed {
			e.printf(" compress")
		}
		if s.Rotation {
			e.printf(" rotation")
		}
		e.printf("\n")
		e.printf("buckets: %d (used=%d) (load=%.2f)\n",
			s.BucketTotal, s.BucketUsed, metrics.LoadRatio(s.Count, s.BucketUsed))
		e.printf("count: %d (%s) (capcnt=%d)\n", s.Count, humanize.Comma(s.Count), s.CapCount)
		e.printf("size: %d (%s) (capsiz=%d)\n", s.Size, humanize.Bytes(uint64(max(s.Size, 0))), s.CapSize)
	} else {
		e.printf("count: %d\n", st.Count())
		e.printf("size: %d\n", st.Size())
	}
	if usage := heapInUse(); usage > e.memStart {
		e.printf("memory: %d\n", usage-e.memStart)
	}
}

func heapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapInuse
}

// progress prints a dot every 1/250 of the records of worker 0 and the
// record number every 1/10.
func (e *Env) progress(id int, i, rnum int64) {
	if id > 0 || rnum <= 250 || i%(rnum/250) != 0 {
		return
	}
	e.printf(".")
	if i == rnum || i%(rnum/10) == 0 {
		e.printf(" (%08d)\n", i)
	}
}

// runWorkers runs fn for worker ids 0..n-1 and waits for all of them. A
// failing worker does not stop its siblings; the first error is returned.
// A single worker runs on the calling goroutine.
func runWorkers(n int, fn func(id int) error) error {
	if n < 2 {
		return fn(0)
	}

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return fn(i)
		})
	}
	return g.Wait()
}
