package harness

import (
	"context"
	"time"

	"cachetest/internal/codec"
	"cachetest/internal/prng"
	"cachetest/internal/store"
)

// queueKeyWidth is the digit count of queue keys.
const queueKeyWidth = 10

// queueWindow returns the number of most recent records every worker keeps.
func queueWindow(rnum int64) int64 {
	return rnum / 10
}

// expectedQueueCount is the record count after a deterministic run: every
// worker ends with its window full, or with all of its records when it
// writes fewer than a window.
func expectedQueueCount(perWorker, window int64, thnum int) int64 {
	return min(perWorker, window) * int64(thnum)
}

type queueWorker struct {
	env    *Env
	id     int
	st     store.Store
	rng    *prng.Stream
	rnum   int64
	thnum  int
	random bool
	window int64
}

func (w *queueWorker) run() error {
	cur := w.st.Cursor()
	defer cur.Close()

	base := int64(w.id) * w.rnum
	keyRange := max(int(w.rnum*int64(w.thnum)), 1)
	for i := int64(1); i <= w.rnum; i++ {
		key := codec.Padded(base+i, queueKeyWidth)
		if err := w.st.Set(key, key); err != nil {
			return tolerate(w.st, "queue", "Set", err)
		}

		var err error
		switch {
		case w.random:
			if w.rng.Chance(int(w.window / 2)) {
				err = w.shuffle(cur, keyRange)
			}
		case i > w.window:
			err = w.dequeue(cur)
		}
		if err != nil {
			return err
		}
		w.env.progress(w.id, i, w.rnum)
	}
	return nil
}

// dequeue removes the first record in cursor order.
func (w *queueWorker) dequeue(cur store.Cursor) error {
	if err := tolerate(w.st, "queue", "Cursor.Jump", cur.Jump(), store.CodeNoRec); err != nil {
		return err
	}
	return tolerate(w.st, "queue", "Cursor.Remove", cur.Remove(), store.CodeNoRec)
}

// shuffle disturbs the queue: one random write, then a burst of reads and
// removes from the head of the queue.
func (w *queueWorker) shuffle(cur store.Cursor, keyRange int) error {
	if err := tolerate(w.st, "queue", "Cursor.Jump", cur.Jump(), store.CodeNoRec); err != nil {
		return err
	}

	key := codec.Padded(int64(w.rng.Next(keyRange)+1), queueKeyWidth)
	var err error
	switch w.rng.Next(10) {
	case 0:
		err = tolerate(w.st, "queue", "Set", w.st.Set(key, key))
	case 1:
		err = tolerate(w.st, "queue", "Append", w.st.Append(key, key))
	case 2:
		err = tolerate(w.st, "queue", "Remove", w.st.Remove(key), store.CodeNoRec)
	}
	if err != nil {
		return err
	}

	dnum := w.rng.Next64(w.window) + 2
	for j := int64(0); j < dnum; j++ {
		if w.rng.Next(2) == 0 {
			if err := w.probe(cur); err != nil {
				return err
			}
		}
		if err := tolerate(w.st, "queue", "Cursor.Remove", cur.Remove(), store.CodeNoRec); err != nil {
			return err
		}
	}
	return nil
}

// probe reads the key under the cursor and may remove that record behind
// the cursor's back or jump the cursor to it again.
func (w *queueWorker) probe(cur store.Cursor) error {
	key, err := cur.Key(false)
	if err != nil {
		return tolerate(w.st, "queue", "Cursor.Key", err, store.CodeNoRec)
	}
	if w.rng.Chance(10) {
		if err := tolerate(w.st, "queue", "Remove", w.st.Remove(key), store.CodeNoRec); err != nil {
			return err
		}
	}
	if w.rng.Next(2) == 0 {
		if err := tolerate(w.st, "queue", "Cursor.JumpTo", cur.JumpTo(key), store.CodeNoRec); err != nil {
			return err
		}
	}
	if w.rng.Chance(10) {
		return tolerate(w.st, "queue", "Remove", w.st.Remove(key), store.CodeNoRec)
	}
	return nil
}

// RunQueue runs the bounded window test. In deterministic mode every worker
// drops its oldest record once it has written more than a window, so the
// first iteration must end with exactly one window per worker. A final
// sweep through a cursor must empty the store.
func RunQueue(ctx context.Context, env *Env) error {
	wl := env.Config.Workload
	ctx = env.context(ctx, "queue")

	env.printf("<Queue Test>\n  seed=%d  rnum=%d  thnum=%d  itnum=%d  rnd=%t  bnum=%d  capcnt=%d  capsiz=%d\n\n",
		env.Seed, wl.Records, wl.Threads, wl.Iterations, wl.Random,
		env.Config.Store.Buckets, env.Config.Store.CapCount, env.Config.Store.CapSize)

	window := queueWindow(wl.Records)
	perWorker := wl.Records / int64(wl.Threads)
	driver := prng.New(env.Seed)

	for it := 1; it <= wl.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wl.Iterations > 1 {
			env.printf("iteration %d:\n", it)
		}
		start := time.Now()

		st, err := env.openStore(ctx, env.Config.Store.Path, iterationMode(it), nil)
		if err != nil {
			return err
		}

		seeds := env.seeds(wl.Threads)
		err = runWorkers(wl.Threads, func(id int) error {
			w := &queueWorker{
				env:    env,
				id:     id,
				st:     st,
				rng:    prng.New(seeds[id]),
				rnum:   perWorker,
				thnum:  wl.Threads,
				random: wl.Random,
				window: window,
			}
			return w.run()
		})

		if err == nil {
			count := st.Count()
			if !wl.Random && it == 1 {
				if want := expectedQueueCount(perWorker, window, wl.Threads); count != want {
					err = inconsistent("count", "expected %d records after the run, found %d", want, count)
				}
			}
			sweep := it == wl.Iterations
			if wl.Random {
				sweep = driver.Next(2) == 0
			}
			if err == nil && sweep && count > 0 {
				err = env.drain(st, count, wl.Records, wl.Random)
			}
		}

		if err == nil {
			env.meta(st, it == wl.Iterations)
		}
		if err := env.closeStore(ctx, st, err); err != nil {
			return env.fail(ctx, err)
		}
		env.printf("time: %.3f\n", time.Since(start).Seconds())
	}
	return env.rep.Err()
}

// drain removes count records through one cursor; the store must be empty
// afterwards.
func (e *Env) drain(st store.Store, count, rnum int64, random bool) error {
	cur := st.Cursor()
	defer cur.Close()

	if err := cur.Jump(); err != nil {
		return tolerate(st, "queue", "Cursor.Jump", err)
	}
	for i := int64(1); i <= count; i++ {
		if err := cur.Remove(); err != nil {
			return tolerate(st, "queue", "Cursor.Remove", err)
		}
		e.progress(0, i, rnum)
	}
	if random {
		e.printf(" (end)\n")
	}
	if n := st.Count(); n != 0 {
		return inconsistent("count", "expected an empty store after the sweep, found %d records", n)
	}
	return nil
}
