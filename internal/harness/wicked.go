package harness

import (
	"context"
	"time"

	"cachetest/internal/codec"
	"cachetest/internal/metrics"
	"cachetest/internal/prng"
	"cachetest/internal/store"
)

type wickedOp int

const (
	wickedGet wickedOp = iota
	wickedSet
	wickedAdd
	wickedReplace
	wickedAppend
	wickedRemove
	wickedCursor
)

func (op wickedOp) String() string {
	switch op {
	case wickedGet:
		return "Get"
	case wickedSet:
		return "Set"
	case wickedAdd:
		return "Add"
	case wickedReplace:
		return "Replace"
	case wickedAppend:
		return "Append"
	case wickedRemove:
		return "Remove"
	case wickedCursor:
		return "Cursor"
	default:
		return "unknown"
	}
}

// wickedModulus folds a turn number onto the dispatch table.
const wickedModulus = 50

// wickedDispatch returns the operation run at turn. Cursor visits happen
// only when cursor is set; otherwise that slot reads like the rest.
func wickedDispatch(turn int, cursor bool) wickedOp {
	switch turn % wickedModulus {
	case 0:
		return wickedSet
	case 1:
		return wickedAdd
	case 2:
		return wickedReplace
	case 3:
		return wickedAppend
	case 6:
		return wickedRemove
	case 8:
		if cursor {
			return wickedCursor
		}
	}
	return wickedGet
}

// wickedTolerates lists the error codes that are a normal outcome of op
// under contention.
func wickedTolerates(op wickedOp) []store.Code {
	switch op {
	case wickedAdd:
		return []store.Code{store.CodeDupRec}
	case wickedReplace, wickedRemove, wickedGet, wickedCursor:
		return []store.Code{store.CodeNoRec}
	default:
		return nil
	}
}

type wickedWorker struct {
	id     int
	st     store.Store
	rng    *prng.Stream
	rnum   int64
	thnum  int
	turns  int
	cursor bool
	filler []byte
}

func (w *wickedWorker) run() error {
	var cur store.Cursor
	if w.cursor {
		cur = w.st.Cursor()
		defer cur.Close()
	}

	keyRange := max(int(w.rnum*int64(w.thnum)/2), 1)
	for i := int64(1); i <= w.rnum; i++ {
		key := codec.Decimal(int64(w.rng.Next(keyRange) + 1))
		for turn := w.turns; turn > 0; turn-- {
			op := wickedDispatch(turn, w.cursor)
			if err := tolerate(w.st, "wicked", op.String(), w.do(op, cur, key), wickedTolerates(op)...); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *wickedWorker) do(op wickedOp, cur store.Cursor, key []byte) error {
	switch op {
	case wickedSet:
		return w.st.Set(key, key)
	case wickedAdd:
		return w.st.Add(key, key)
	case wickedReplace:
		return w.st.Replace(key, key)
	case wickedAppend:
		return w.st.Append(key, key)
	case wickedRemove:
		return w.st.Remove(key)
	case wickedCursor:
		return w.visit(cur, key)
	default:
		_, err := w.st.Get(key)
		return err
	}
}

// visit either repositions the cursor at key or lets a random visitor act
// on the record under it and usually moves on.
func (w *wickedWorker) visit(cur store.Cursor, key []byte) error {
	if w.rng.Chance(10) {
		return cur.JumpTo(key)
	}
	err := cur.Accept(wickedVisit(w.rng, w.filler), true, w.rng.Next(2) == 0)
	if err != nil {
		return err
	}
	if w.rng.Next(5) > 0 {
		return cur.Step()
	}
	return nil
}

// RunWicked runs the operation sequencer: every worker draws keys from a
// range half the size of the record total, so workers keep colliding, and
// runs a fixed sequence of turns on each key.
func RunWicked(ctx context.Context, env *Env) error {
	wl := env.Config.Workload
	ctx = env.context(ctx, "wicked")

	env.printf("<Wicked Test>\n  seed=%d  rnum=%d  thnum=%d  itnum=%d  turns=%d  cur=%t  bnum=%d  capcnt=%d  capsiz=%d\n\n",
		env.Seed, wl.Records, wl.Threads, wl.Iterations, wl.Turns, wl.Cursor,
		env.Config.Store.Buckets, env.Config.Store.CapCount, env.Config.Store.CapSize)

	filler := codec.Filler(codec.LongBuffer, '*')
	perWorker := wl.Records / int64(wl.Threads)
	for it := 1; it <= wl.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if wl.Iterations > 1 {
			env.printf("iteration %d:\n", it)
		}

		st, err := env.openStore(ctx, env.Config.Store.Path, iterationMode(it), nil)
		if err != nil {
			return err
		}

		seeds := env.seeds(wl.Threads)
		start := time.Now()
		err = runWorkers(wl.Threads, func(id int) error {
			w := &wickedWorker{
				id:     id,
				st:     st,
				rng:    prng.New(seeds[id]),
				rnum:   perWorker,
				thnum:  wl.Threads,
				turns:  wl.Turns,
				cursor: wl.Cursor,
				filler: filler,
			}
			return w.run()
		})
		elapsed := time.Since(start)
		if err != nil {
			return env.closeStore(ctx, st, env.fail(ctx, err))
		}

		env.rep.Int("rnum", wl.Records)
		env.rep.Int("turns", int64(wl.Turns))
		env.rep.Int("threads", int64(wl.Threads))
		env.rep.Int("slotnum", store.SlotNum)
		env.rep.Seconds("time", elapsed)
		env.rep.Float("throughput", metrics.Throughput(wl.Records*int64(wl.Turns), elapsed))

		env.meta(st, it == wl.Iterations)
		if err := env.closeStore(ctx, st, nil); err != nil {
			return err
		}
	}
	return env.rep.Err()
}
