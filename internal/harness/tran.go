package harness

import (
	"bytes"
	"context"
	"time"

	"cachetest/internal/codec"
	"cachetest/internal/prng"
	"cachetest/internal/store"
)

type tranWorker struct {
	env    *Env
	id     int
	st     store.Store
	shadow store.Store
	rng    *prng.Stream
	rnum   int64
	thnum  int
	filler []byte
}

func (w *tranWorker) key(keyRange int) []byte {
	return codec.Decimal(int64(w.rng.Next(keyRange) + 1))
}

// run keeps a transaction open around its visits. Whether this worker's
// transactions commit is drawn once up front; only then are its writes
// replayed on the shadow store.
func (w *tranWorker) run(ctx context.Context) (err error) {
	cur := w.st.Cursor()
	defer cur.Close()

	keyRange := max(int(w.rnum*int64(w.thnum)), 1)
	if err := tolerate(w.st, "tran", "Cursor.JumpTo", cur.JumpTo(w.key(keyRange)), store.CodeNoRec); err != nil {
		return err
	}

	if err := w.st.BeginTransaction(ctx, false); err != nil {
		return tolerate(w.st, "tran", "BeginTransaction", err)
	}
	commit := w.rng.Next(10) > 0
	var m mirror
	if commit {
		m = w.shadow
	}
	tran := true
	defer func() {
		if !tran {
			return
		}
		if eerr := w.st.EndTransaction(commit); eerr != nil && err == nil {
			err = tolerate(w.st, "tran", "EndTransaction", eerr)
		}
	}()

	for i := int64(1); i <= w.rnum; i++ {
		key := w.key(keyRange)
		value := key
		if w.rng.Chance(10) {
			value = w.filler[:w.rng.Next(len(w.filler))/(w.rng.Next(5)+1)]
		}

		var merr error
		visitor := mirrorVisit(w.rng, value, m, &merr)
		if w.rng.Chance(4) {
			err = tolerate(w.st, "tran", "Cursor.Accept", cur.Accept(visitor, true, w.rng.Next(2) == 0), store.CodeNoRec)
		} else {
			err = tolerate(w.st, "tran", "Accept", w.st.Accept(key, visitor, true))
		}
		if err != nil {
			return err
		}
		if err := tolerate(w.shadow, "tran", "shadow", merr); err != nil {
			return err
		}

		if w.rng.Chance(1000) {
			if err := w.sweep(cur, keyRange, m); err != nil {
				return err
			}
		}

		if w.rng.Chance(100) {
			tran = false
			if err := w.st.EndTransaction(commit); err != nil {
				return tolerate(w.st, "tran", "EndTransaction", err)
			}
			if err := w.st.BeginTransaction(ctx, false); err != nil {
				return tolerate(w.st, "tran", "BeginTransaction", err)
			}
			tran = true
		}
		w.env.progress(w.id, i, w.rnum)
	}
	return nil
}

// sweep collects a run of keys from a random cursor position and removes
// them again, some through the cursor and the rest by key.
func (w *tranWorker) sweep(cur store.Cursor, keyRange int, m mirror) error {
	if err := cur.JumpTo(w.key(keyRange)); err != nil {
		if !store.IsNoRecord(err) {
			return tolerate(w.st, "tran", "Cursor.JumpTo", err)
		}
		if err := tolerate(w.st, "tran", "Cursor.Jump", cur.Jump(), store.CodeNoRec); err != nil {
			return err
		}
	}

	var keys [][]byte
	for w.rng.Next(50) != 0 {
		key, err := cur.Key(false)
		if err != nil {
			if store.IsNoRecord(err) {
				break
			}
			return tolerate(w.st, "tran", "Cursor.Key", err)
		}
		keys = append(keys, key)
		if _, err := cur.Value(false); err != nil {
			if err := tolerate(w.st, "tran", "Cursor.Value", err, store.CodeNoRec); err != nil {
				return err
			}
		}
		if err := cur.Step(); err != nil {
			if store.IsNoRecord(err) {
				break
			}
			return tolerate(w.st, "tran", "Cursor.Step", err)
		}
	}

	var merr error
	remover := mirrorRemover(w.rng, m, &merr)
	for _, key := range keys {
		var err error
		if w.rng.Chance(50) {
			err = tolerate(w.st, "tran", "Cursor.Accept", cur.Accept(remover, true, false), store.CodeNoRec)
		} else {
			err = tolerate(w.st, "tran", "Accept", w.st.Accept(key, remover, true))
		}
		if err != nil {
			return err
		}
	}
	return tolerate(w.shadow, "tran", "shadow", merr)
}

// RunTran runs the transactional consistency check. Every iteration starts
// the shadow store as a copy of the primary, lets the workers run their
// transactions against the primary while replaying committed writes on the
// shadow, and then requires both stores to hold exactly the same records.
// Capacity limits are lifted on both stores: an eviction has no
// counterpart in the shadow.
func RunTran(ctx context.Context, env *Env) error {
	wl := env.Config.Workload
	ctx = env.context(ctx, "tran")

	env.printf("<Transaction Test>\n  seed=%d  rnum=%d  thnum=%d  itnum=%d  bnum=%d\n\n",
		env.Seed, wl.Records, wl.Threads, wl.Iterations, env.Config.Store.Buckets)

	unbounded := func(o *store.Options) {
		o.CapCount = 0
		o.CapSize = 0
	}
	filler := codec.Filler(codec.LongBuffer, '*')
	perWorker := wl.Records / int64(wl.Threads)

	for it := 1; it <= wl.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		env.printf("iteration %d updating:\n", it)
		start := time.Now()

		st, err := env.openStore(ctx, env.Config.Store.Path, iterationMode(it), unbounded)
		if err != nil {
			return err
		}
		shadow, err := env.openStore(ctx, "*", store.ModeWriter|store.ModeCreate|store.ModeTruncate, func(o *store.Options) {
			unbounded(o)
			o.Engine = "memory"
			o.Compress = false
		})
		if err != nil {
			return env.closeStore(ctx, st, err)
		}

		err = copyRecords(st, shadow)
		if err == nil {
			seeds := env.seeds(wl.Threads)
			err = runWorkers(wl.Threads, func(id int) error {
				w := &tranWorker{
					env:    env,
					id:     id,
					st:     st,
					shadow: shadow,
					rng:    prng.New(seeds[id]),
					rnum:   perWorker,
					thnum:  wl.Threads,
					filler: filler,
				}
				return w.run(ctx)
			})
		}
		if err == nil {
			env.printf("iteration %d checking:\n", it)
			err = checkShadow(st, shadow)
			env.printf(" (end)\n")
		}

		if err == nil {
			env.meta(st, it == wl.Iterations)
		}
		err = env.closeStore(ctx, shadow, env.closeStore(ctx, st, err))
		if err != nil {
			return env.fail(ctx, err)
		}
		env.printf("time: %.3f\n", time.Since(start).Seconds())
	}
	return env.rep.Err()
}

// copyRecords writes every record of src to dst.
func copyRecords(src, dst store.Store) error {
	var err error
	iterr := src.Iterate(func(key, value []byte, exists bool) store.Action {
		if err == nil {
			err = tolerate(dst, "tran", "Set", dst.Set(key, value))
		}
		return store.NoOp()
	}, false)
	if iterr != nil {
		return tolerate(src, "tran", "Iterate", iterr)
	}
	return err
}

// checkShadow requires both stores to hold the same number of records and
// every record of either to be present with the same value in the other.
func checkShadow(st, shadow store.Store) error {
	if n, m := st.Count(), shadow.Count(); n != m {
		return inconsistent("count", "primary has %d records, shadow has %d", n, m)
	}
	if err := contains(st, shadow, "shadow"); err != nil {
		return err
	}
	return contains(shadow, st, "primary")
}

// contains checks that every record of a is in b with an equal value.
func contains(a, b store.Store, name string) error {
	var diverged error
	err := a.Iterate(func(key, value []byte, exists bool) store.Action {
		if diverged != nil {
			return store.NoOp()
		}
		got, err := b.Get(key)
		switch {
		case store.IsNoRecord(err):
			diverged = inconsistent("missing", "%q is missing from the %s", key, name)
		case err != nil:
			diverged = tolerate(b, "check", "Get", err)
		case !bytes.Equal(got, value):
			diverged = inconsistent("value", "%q differs in the %s: %q != %q", key, name, got, value)
		}
		return store.NoOp()
	}, false)
	if err != nil {
		return tolerate(a, "check", "Iterate", err)
	}
	return diverged
}
