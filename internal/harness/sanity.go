package harness

import (
	"bytes"
	"context"
	"strconv"
	"time"

	"cachetest/internal/store"
)

// sanityKey is the private key of worker id; no two workers share one.
func sanityKey(id int) []byte {
	n := strconv.Itoa(id)
	return []byte(n + "keynumber" + n)
}

// sanityRound runs the single-owner record lifecycle once: nothing there,
// add, read back, duplicate add refused, overwrite, read back, remove.
func sanityRound(st store.Store, key []byte) error {
	first := append(append([]byte(nil), key...), "firstval"...)
	second := append(append([]byte(nil), key...), "secondval"...)

	if _, err := st.Get(key); !store.IsNoRecord(err) {
		return unexpected(st, "Get", key, "no record", err)
	}
	if err := st.Add(key, first); err != nil {
		return tolerate(st, "sanity", "Add", err)
	}
	if err := expectValue(st, key, first); err != nil {
		return err
	}
	if err := st.Add(key, first); !store.IsDuplicate(err) {
		return unexpected(st, "Add", key, "record duplication", err)
	}
	if err := expectValue(st, key, first); err != nil {
		return err
	}
	if err := st.Set(key, second); err != nil {
		return tolerate(st, "sanity", "Set", err)
	}
	if err := expectValue(st, key, second); err != nil {
		return err
	}
	return tolerate(st, "sanity", "Remove", st.Remove(key))
}

func expectValue(st store.Store, key, want []byte) error {
	got, err := st.Get(key)
	if err != nil {
		return tolerate(st, "sanity", "Get", err)
	}
	if !bytes.Equal(got, want) {
		return inconsistent("sanity", "read %q from %q, wrote %q", got, key, want)
	}
	return nil
}

// unexpected reports an operation whose outcome differs from the one a
// single owner of the key must see.
func unexpected(st store.Store, op string, key []byte, want string, err error) error {
	if err != nil && !store.IsNoRecord(err) && !store.IsDuplicate(err) {
		return tolerate(st, "sanity", op, err)
	}
	got := "success"
	if err != nil {
		got = store.CodeOf(err).Name()
	}
	return inconsistent("sanity", "%s %q: expected %s, got %s", op, key, want, got)
}

// RunSanity lets every worker run rnum rounds of the record lifecycle on a
// key only it uses, so each step has exactly one correct outcome.
func RunSanity(ctx context.Context, env *Env) error {
	wl := env.Config.Workload
	ctx = env.context(ctx, "sanity")

	env.printf("<Sanity Test>\n  seed=%d  rnum=%d  thnum=%d\n\n", env.Seed, wl.Records, wl.Threads)

	start := time.Now()
	st, err := env.openStore(ctx, env.Config.Store.Path, store.ModeWriter|store.ModeCreate|store.ModeTruncate, nil)
	if err != nil {
		return err
	}

	err = runWorkers(wl.Threads, func(id int) error {
		key := sanityKey(id)
		for i := int64(1); i <= wl.Records; i++ {
			if err := sanityRound(st, key); err != nil {
				return err
			}
			env.progress(id, i, wl.Records)
		}
		return nil
	})
	if err == nil {
		env.meta(st, true)
	}
	if err := env.closeStore(ctx, st, err); err != nil {
		return env.fail(ctx, err)
	}
	env.printf("time: %.3f\n", time.Since(start).Seconds())
	return env.rep.Err()
}
