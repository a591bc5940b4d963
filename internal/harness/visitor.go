package harness

import (
	"cachetest/internal/codec"
	"cachetest/internal/prng"
	"cachetest/internal/store"
)

// pickAction maps a draw to an action: 0 replaces the record with value,
// 1 deletes it, anything else leaves it alone.
func pickAction(choice int, value []byte) store.Action {
	switch choice {
	case 0:
		return store.Replace(value)
	case 1:
		return store.Delete()
	default:
		return store.NoOp()
	}
}

// removerAction deletes the visited record unless keep is set.
func removerAction(keep bool) store.Action {
	if keep {
		return store.NoOp()
	}
	return store.Delete()
}

// traversal is the visitor of the order test's full scans. It counts the
// records it sees and rewrites or deletes some of them: every seventh record
// in a fixed pattern, or a random one in seven with a random filler length.
type traversal struct {
	rng    *prng.Stream
	random bool
	filler []byte
	count  int64
}

func newTraversal(rng *prng.Stream, random bool, fill byte) *traversal {
	return &traversal{
		rng:    rng,
		random: random,
		filler: codec.Filler(codec.LongBuffer, fill),
	}
}

func (t *traversal) visit(key, value []byte, exists bool) store.Action {
	if !exists {
		return store.NoOp()
	}
	t.count++

	var choice, size int
	if t.random {
		choice = t.rng.Next(7)
		size = t.rng.Next(len(t.filler))
	} else {
		choice = int(t.count % 7)
		size = len(t.filler) / int(t.count%5+1)
	}
	if choice != 0 {
		return pickAction(choice, nil)
	}
	return store.Replace(t.filler[:size])
}

// wickedVisit is the cursor visitor of the wicked test. Replacements use a
// filler of random length.
func wickedVisit(rng *prng.Stream, filler []byte) store.Visitor {
	return func(key, value []byte, exists bool) store.Action {
		choice := rng.Next(3)
		if choice != 0 {
			return pickAction(choice, nil)
		}
		size := rng.Next(len(filler)) / (rng.Next(5) + 1)
		return store.Replace(filler[:size])
	}
}

// mirror receives the writes a visitor makes to the primary store, so they
// can be replayed on the shadow store. A nil mirror drops them.
type mirror interface {
	Set(key, value []byte) error
	Remove(key []byte) error
}

// mirrorVisit returns a visitor that replaces the record with value, deletes
// it or leaves it alone with equal odds and repeats the write on m. The first
// error from m is kept in *errp.
func mirrorVisit(rng *prng.Stream, value []byte, m mirror, errp *error) store.Visitor {
	return func(key, _ []byte, _ bool) store.Action {
		act := pickAction(rng.Next(3), value)
		if m != nil && *errp == nil {
			*errp = replay(m, key, act)
		}
		return act
	}
}

// mirrorRemover deletes the visited record, except once in 200 visits, and
// repeats the deletion on m.
func mirrorRemover(rng *prng.Stream, m mirror, errp *error) store.Visitor {
	return func(key, _ []byte, exists bool) store.Action {
		if !exists {
			return store.NoOp()
		}
		act := removerAction(rng.Chance(200))
		if m != nil && *errp == nil {
			*errp = replay(m, key, act)
		}
		return act
	}
}

// replay applies act to m. Removing an absent record is not an error.
func replay(m mirror, key []byte, act store.Action) error {
	switch act.Kind {
	case store.ActReplace:
		return m.Set(key, act.Value)
	case store.ActDelete:
		if err := m.Remove(key); err != nil && !store.IsNoRecord(err) {
			return err
		}
	}
	return nil
}
