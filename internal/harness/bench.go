package harness

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"cachetest/internal/codec"
	"cachetest/internal/config"
	"cachetest/internal/logging"
	"cachetest/internal/metrics"
	"cachetest/internal/prng"
	"cachetest/internal/store"
)

// benchOp is the operation a bench worker picks for one iteration.
type benchOp int

const (
	benchRead benchOp = iota
	benchSet
	benchRemove
)

// chooseBenchOp draws the next operation. Reads take readPercent of the mix;
// the rest is split evenly between sets and removes.
func chooseBenchOp(rng *prng.Stream, readPercent int) benchOp {
	// strict: 0 never reads and 100 always does
	if rng.Next(100) < readPercent {
		return benchRead
	}
	if rng.Next(2) == 1 {
		return benchSet
	}
	return benchRemove
}

// benchSeed and loaderSeed give every measurement worker and every loader a
// seed of its own. The two pools draw from different bases.
func benchSeed(id int) int32 {
	return prng.WorkerSeed(prng.BenchSeed, id)
}

func loaderSeed(id int) int32 {
	return prng.WorkerSeed(prng.LoadSeed, id)
}

// benchWorker is one measurement thread of a round. It owns its stream, its
// buffers and its counters; the driver reads out only after the join.
type benchWorker struct {
	id     int
	st     store.Store
	params *config.BenchConfig
	rng    *prng.Stream
	stop   *atomic.Bool
	out    metrics.Output
	key    []byte
	value  []byte
}

func newBenchWorker(id int, st store.Store, params *config.BenchConfig, stop *atomic.Bool) *benchWorker {
	return &benchWorker{
		id:     id,
		st:     st,
		params: params,
		rng:    prng.New(benchSeed(id)),
		stop:   stop,
		key:    make([]byte, params.KeySize()),
		value:  make([]byte, params.ValueSize()),
	}
}

// run loops until the stop flag is seen. The flag is sampled only every
// StopInterval iterations.
func (w *benchWorker) run() error {
	keyRange := int(w.params.KeyRange())
	interval := w.params.StopInterval

	for iters := 0; iters%interval != 0 || !w.stop.Load(); iters++ {
		key := codec.FixedKey(w.key, w.rng.Next(keyRange))

		switch chooseBenchOp(w.rng, w.params.ReadPercent) {
		case benchRead:
			w.out.ReadAttempts++
			_, err := w.st.Get(key)
			if err == nil {
				w.out.ReadHits++
			} else if err := tolerate(w.st, "bench", "Get", err, store.CodeNoRec); err != nil {
				return err
			}
		case benchSet:
			w.out.AddAttempts++
			if err := w.st.Set(key, w.value); err != nil {
				return tolerate(w.st, "bench", "Set", err)
			}
			w.out.AddSuccesses++
		case benchRemove:
			w.out.RemoveAttempts++
			err := w.st.Remove(key)
			if err == nil {
				w.out.RemoveHits++
			} else if err := tolerate(w.st, "bench", "Remove", err, store.CodeNoRec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunBench loads the store up to the target count and then runs the timed
// measurement rounds: for every repetition, one round per thread count from
// 1 to the configured maximum, all on the same loaded store.
func RunBench(ctx context.Context, env *Env) (err error) {
	params := env.Config.Bench
	if err := params.Validate(); err != nil {
		return errors.Wrap(err, "invalid bench parameters")
	}
	ctx = env.context(ctx, "bench")

	rotation := env.Config.Store.Rotation
	st, err := env.openStore(ctx, env.Config.Store.Path, store.ModeWriter|store.ModeCreate|store.ModeTruncate,
		func(o *store.Options) { o.Rotation = false })
	if err != nil {
		return err
	}
	defer func() { err = env.closeStore(ctx, st, err) }()

	start := time.Now()
	if err := loadBench(st, &params); err != nil {
		return env.fail(ctx, err)
	}
	env.rep.Seconds("load_time", time.Since(start))
	env.Logger.TestEvent(ctx, "bench_loaded", map[string]interface{}{
		"count":    st.Count(),
		"duration": time.Since(start).String(),
	})
	st.SwitchRotation(rotation)

	for rep := 0; rep < params.Repetitions; rep++ {
		for thnum := 1; thnum <= params.Threads; thnum++ {
			out, err := env.benchRound(ctx, st, &params, thnum)
			if err != nil {
				return env.fail(ctx, err)
			}
			env.reportRound(ctx, st, &params, thnum, out)
		}
	}
	return env.rep.Err()
}

// loadBench fills the store with TargetCount distinct records. Each loader
// draws keys from its own stream until its share has been added; a duplicate
// key means another draw.
func loadBench(st store.Store, params *config.BenchConfig) error {
	loaders := params.LoaderThreads
	share := params.TargetCount / int64(loaders)
	keyRange := int(params.KeyRange())

	return runWorkers(loaders, func(id int) error {
		n := share
		if id == loaders-1 {
			n = params.TargetCount - share*int64(loaders-1)
		}
		rng := prng.New(loaderSeed(id))
		key := make([]byte, params.KeySize())
		for added := int64(0); added < n; {
			codec.FixedKey(key, rng.Next(keyRange))
			err := st.Add(key, key)
			switch {
			case err == nil:
				added++
			case store.IsDuplicate(err):
			default:
				return tolerate(st, "load", "Add", err)
			}
		}
		return nil
	})
}

// benchRound runs thnum workers for the configured duration and returns
// their merged counters.
func (e *Env) benchRound(ctx context.Context, st store.Store, params *config.BenchConfig, thnum int) (*metrics.Output, error) {
	out := &metrics.Output{
		InitialCount: st.Count(),
		InitialSize:  st.Size(),
	}

	var stop atomic.Bool
	workers := make([]*benchWorker, thnum)
	for i := range workers {
		workers[i] = newBenchWorker(i, st, params, &stop)
	}

	start := time.Now()
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			if params.Pin {
				if err := pinWorker(w.id); err != nil {
					e.Logger.WithContext(logging.ContextWithWorker(ctx, w.id)).WithError(err).Warn("Failed to pin worker")
				}
			}
			return w.run()
		})
	}

	timer := time.NewTimer(params.Duration)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}
	stop.Store(true)
	err := g.Wait()

	out.Elapsed = time.Since(start)
	out.FinalCount = st.Count()
	out.FinalSize = st.Size()
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	outputs := make([]*metrics.Output, len(workers))
	for i, w := range workers {
		outputs[i] = &w.out
	}
	total := metrics.MergeAll(outputs)
	total.InitialCount, total.InitialSize = out.InitialCount, out.InitialSize
	total.FinalCount, total.FinalSize = out.FinalCount, out.FinalSize
	total.Elapsed = out.Elapsed
	return total, nil
}

func (e *Env) reportRound(ctx context.Context, st store.Store, params *config.BenchConfig, thnum int, out *metrics.Output) {
	e.rep.Int("targetcnt", params.TargetCount)
	e.rep.Int("thnum", int64(thnum))
	e.rep.Int("kvsize", int64(params.KVSize))
	e.rep.Int("readpercent", int64(params.ReadPercent))
	e.rep.Seconds("duration", params.Duration)
	e.rep.Bool("rtt", e.Config.Store.Rotation)

	e.rep.Results(out)

	s := st.Status()
	e.rep.Int("bnum_total", s.BucketTotal)
	e.rep.Int("bnum_used", s.BucketUsed)
	e.rep.Float("bnum_occupancy", metrics.Occupancy(s.BucketUsed, s.BucketTotal))
	e.rep.Float("load_ratio", metrics.LoadRatio(out.FinalCount, s.BucketUsed))
	e.rep.String("algo", s.Engine)

	e.Logger.Performance(ctx, "bench_throughput", out.Throughput(), "ops/s",
		map[string]string{"engine": s.Engine, "threads": strconv.Itoa(thnum)})
}
