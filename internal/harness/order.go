package harness

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"cachetest/internal/codec"
	"cachetest/internal/prng"
	"cachetest/internal/store"
)

// orderKeyWidth is the digit count of order test keys.
const orderKeyWidth = 8

type orderOp int

const (
	orderSet orderOp = iota
	orderAdd
	orderAppend
	orderGet
	orderRemove
)

func (op orderOp) String() string {
	switch op {
	case orderSet:
		return "Set"
	case orderAdd:
		return "Add"
	case orderAppend:
		return "Append"
	case orderGet:
		return "Get"
	case orderRemove:
		return "Remove"
	default:
		return "unknown"
	}
}

var orderTitles = map[orderOp]string{
	orderSet:    "setting records:",
	orderAdd:    "adding records:",
	orderAppend: "appending records:",
	orderGet:    "getting records:",
	orderRemove: "removing records:",
}

// orderOptions are the switches of the order test.
type orderOptions struct {
	random bool
	etc    bool
	tran   bool
}

// orderTolerates lists the codes op may return without failing the test.
func orderTolerates(op orderOp, opts orderOptions) []store.Code {
	switch op {
	case orderAdd:
		return []store.Code{store.CodeDupRec}
	case orderGet:
		if opts.random {
			return []store.Code{store.CodeNoRec}
		}
	case orderRemove:
		if opts.random || opts.etc {
			return []store.Code{store.CodeNoRec}
		}
	}
	return nil
}

// orderWorker runs one phase of the order test over its share of the keys.
type orderWorker struct {
	env   *Env
	id    int
	st    store.Store
	rng   *prng.Stream
	rnum  int64
	thnum int
	opts  orderOptions
	op    orderOp
}

func (w *orderWorker) key(i int64) []byte {
	n := int64(w.id)*w.rnum + i
	if w.opts.random {
		n = w.rng.Next64(w.rnum*int64(w.thnum)) + 1
	}
	return codec.Padded(n, orderKeyWidth)
}

func (w *orderWorker) run(ctx context.Context) error {
	for i := int64(1); i <= w.rnum; i++ {
		if w.opts.tran {
			if err := w.st.BeginTransaction(ctx, false); err != nil {
				return tolerate(w.st, "order", "BeginTransaction", err)
			}
		}

		key := w.key(i)
		err := w.apply(key)
		if err == nil && w.opts.random && i%8 == 0 && w.op != orderAdd && w.op != orderAppend {
			err = w.extra(key)
		}

		if w.opts.tran {
			if eerr := w.st.EndTransaction(true); eerr != nil && err == nil {
				err = tolerate(w.st, "order", "EndTransaction", eerr)
			}
		}
		if err != nil {
			return err
		}
		w.env.progress(w.id, i, w.rnum)
	}
	return nil
}

func (w *orderWorker) apply(key []byte) error {
	var err error
	switch w.op {
	case orderSet:
		err = w.st.Set(key, key)
	case orderAdd:
		err = w.st.Add(key, key)
	case orderAppend:
		err = w.st.Append(key, key)
	case orderGet:
		var value []byte
		value, err = w.st.Get(key)
		if err == nil && !codec.HasKeyPrefix(value, key) {
			return inconsistent("value", "value of %q does not start with its key: %q", key, value)
		}
	case orderRemove:
		err = w.st.Remove(key)
	}
	return tolerate(w.st, "order", w.op.String(), err, orderTolerates(w.op, w.opts)...)
}

// extra runs one more random operation on key.
func (w *orderWorker) extra(key []byte) error {
	switch w.rng.Next(8) {
	case 0:
		return tolerate(w.st, "order", "Set", w.st.Set(key, key))
	case 1:
		return tolerate(w.st, "order", "Append", w.st.Append(key, key))
	case 2:
		return tolerate(w.st, "order", "Remove", w.st.Remove(key), store.CodeNoRec)
	case 3:
		return w.probe(key)
	default:
		_, err := w.st.Get(key)
		return tolerate(w.st, "order", "Get", err, store.CodeNoRec)
	}
}

// probe positions a fresh cursor at key and reads or removes through it.
func (w *orderWorker) probe(key []byte) error {
	cur := w.st.Cursor()
	defer cur.Close()

	if err := cur.JumpTo(key); err != nil {
		return tolerate(w.st, "order", "Cursor.JumpTo", err, store.CodeNoRec)
	}

	var (
		op  string
		err error
	)
	switch w.rng.Next(8) {
	case 1:
		op = "Cursor.Value"
		_, err = cur.Value(w.rng.Chance(10))
	case 2, 3:
		op = "Cursor.Get"
		_, _, err = cur.Get(w.rng.Chance(10))
	case 4:
		op = "Cursor.Remove"
		if w.rng.Chance(8) {
			err = cur.Remove()
		}
	default:
		op = "Cursor.Key"
		_, err = cur.Key(w.rng.Chance(10))
	}
	return tolerate(w.st, "order", op, err, store.CodeNoRec)
}

// RunOrder runs the in-order test: phases of set, add, append, get, scan
// and remove over the same key space, every phase shared by all workers.
func RunOrder(ctx context.Context, env *Env) error {
	wl := env.Config.Workload
	opts := orderOptions{random: wl.Random, etc: wl.Etc, tran: wl.Tran}
	ctx = env.context(ctx, "order")

	env.printf("<In-order Test>\n  seed=%d  rnum=%d  thnum=%d  rnd=%t  etc=%t  tran=%t  bnum=%d  capcnt=%d  capsiz=%d\n\n",
		env.Seed, wl.Records, wl.Threads, wl.Random, wl.Etc, wl.Tran,
		env.Config.Store.Buckets, env.Config.Store.CapCount, env.Config.Store.CapSize)

	env.printf("opening the database:\n")
	start := time.Now()
	st, err := env.openStore(ctx, env.Config.Store.Path, store.ModeWriter|store.ModeCreate|store.ModeTruncate, nil)
	if err != nil {
		return err
	}
	env.meta(st, false)
	env.printf("time: %.3f\n", time.Since(start).Seconds())

	driver := prng.New(env.Seed)
	phase := func(op orderOp) error {
		env.printf("%s\n", orderTitles[op])
		start := time.Now()
		seeds := prng.Derive(driver.Uint31(), wl.Threads)
		err := runWorkers(wl.Threads, func(id int) error {
			w := &orderWorker{
				env:   env,
				id:    id,
				st:    st,
				rng:   prng.New(seeds[id]),
				rnum:  wl.Records / int64(wl.Threads),
				thnum: wl.Threads,
				opts:  opts,
				op:    op,
			}
			return w.run(ctx)
		})
		if err != nil {
			return err
		}
		env.meta(st, op == orderRemove)
		env.printf("time: %.3f\n", time.Since(start).Seconds())
		return nil
	}

	steps := []func() error{
		func() error { return phase(orderSet) },
	}
	if opts.etc {
		steps = append(steps,
			func() error { return phase(orderAdd) },
			func() error { return phase(orderAppend) },
		)
	}
	steps = append(steps, func() error { return phase(orderGet) })
	if opts.etc {
		steps = append(steps,
			func() error { return env.iterateScan(ctx, st, driver, opts) },
			func() error { return env.cursorScan(ctx, st, driver, opts, wl.Records*int64(wl.Threads)) },
		)
	}
	steps = append(steps, func() error { return phase(orderRemove) })

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return env.closeStore(ctx, st, err)
		}
		if err := step(); err != nil {
			return env.closeStore(ctx, st, env.fail(ctx, err))
		}
	}

	env.printf("closing the database:\n")
	start = time.Now()
	if err := env.closeStore(ctx, st, nil); err != nil {
		return env.fail(ctx, err)
	}
	env.printf("time: %.3f\n", time.Since(start).Seconds())
	return env.rep.Err()
}

// iterateScan walks the store with Iterate, rewriting and deleting some
// records on the way. Every record present before the scan must be visited
// exactly once.
func (e *Env) iterateScan(ctx context.Context, st store.Store, rng *prng.Stream, opts orderOptions) error {
	e.printf("traversing the database by the inner iterator:\n")
	start := time.Now()

	count := st.Count()
	t := newTraversal(rng, opts.random, '+')
	err := e.inTransaction(ctx, st, opts.tran, func() error {
		return tolerate(st, "order", "Iterate", st.Iterate(t.visit, true))
	})
	if opts.random {
		e.printf(" (end)\n")
	}
	if err != nil {
		return err
	}
	if t.count != count {
		return inconsistent("iterate", "visited %d records, expected %d", t.count, count)
	}

	e.meta(st, false)
	e.printf("time: %.3f\n", time.Since(start).Seconds())
	return nil
}

// cursorScan walks the store with a cursor. In random mode the walk is
// interleaved with removes and a second cursor jumping around, so only the
// deterministic walk has to visit every record.
func (e *Env) cursorScan(ctx context.Context, st store.Store, rng *prng.Stream, opts orderOptions, keyRange int64) error {
	e.printf("traversing the database by the outer cursor:\n")
	start := time.Now()

	count := st.Count()
	t := newTraversal(rng, opts.random, '-')
	err := e.inTransaction(ctx, st, opts.tran, func() error {
		cur := st.Cursor()
		defer cur.Close()
		para := st.Cursor()
		defer para.Close()

		if err := tolerate(st, "order", "Cursor.Jump", cur.Jump(), store.CodeNoRec); err != nil {
			return err
		}
		for {
			if err := cur.Accept(t.visit, true, !opts.random); err != nil {
				return tolerate(st, "order", "Cursor.Accept", err, store.CodeNoRec)
			}
			if !opts.random {
				continue
			}

			key := codec.Padded(rng.Next64(keyRange), orderKeyWidth)
			var err error
			switch rng.Next(3) {
			case 0:
				err = tolerate(st, "order", "Remove", st.Remove(key), store.CodeNoRec)
			case 1:
				err = tolerate(st, "order", "Cursor.JumpTo", para.JumpTo(key), store.CodeNoRec)
			default:
				err = tolerate(st, "order", "Cursor.Step", cur.Step(), store.CodeNoRec)
			}
			if err != nil {
				return err
			}
		}
	})
	e.printf(" (end)\n")
	if err != nil {
		return err
	}
	if !opts.random && t.count != count {
		return inconsistent("cursor", "visited %d records, expected %d", t.count, count)
	}

	e.meta(st, false)
	e.printf("time: %.3f\n", time.Since(start).Seconds())
	return nil
}

// inTransaction runs fn inside a committed transaction when tran is set.
func (e *Env) inTransaction(ctx context.Context, st store.Store, tran bool, fn func() error) error {
	if !tran {
		return fn()
	}
	if err := st.BeginTransaction(ctx, false); err != nil {
		return tolerate(st, "order", "BeginTransaction", err)
	}
	err := fn()
	if eerr := st.EndTransaction(true); eerr != nil && err == nil {
		err = errors.WithStack(&FatalError{Site: "order", Op: "EndTransaction", Path: st.Path(), Err: eerr})
	}
	return err
}
