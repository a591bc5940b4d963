package store

import (
	"bytes"

	"github.com/dgraph-io/badger/v4"
)

// badgerCursor remembers the key it sits on. Every operation seeks to the
// first key at or after that position, so a removed record is skipped
// without any bookkeeping.
type badgerCursor struct {
	store  *BadgerStore
	pos    []byte
	valid  bool
	closed bool
}

var _ Cursor = (*badgerCursor)(nil)

func (s *BadgerStore) Cursor() Cursor {
	return &badgerCursor{store: s}
}

// seek returns the first key at or after from (or strictly after it when
// inclusive is false), together with its value when withValue is set.
func (c *badgerCursor) seek(from []byte, inclusive, withValue bool) (key, value []byte, err error) {
	err = c.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValue
		opts.PrefetchSize = 2
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(from)
		if !inclusive && it.Valid() && bytes.Equal(it.Item().Key(), from) {
			it.Next()
		}
		if !it.Valid() {
			return nil
		}

		item := it.Item()
		key = item.KeyCopy(nil)
		if withValue {
			value, err = item.ValueCopy(nil)
		}
		return err
	})
	return key, value, err
}

func (c *badgerCursor) begin(op string, writable bool) error {
	if c.closed {
		return newError(CodeInvalid, op, "cursor closed")
	}
	return c.store.checkOpen(op, writable)
}

// current resolves the record under the cursor.
func (c *badgerCursor) current(op string, withValue bool) ([]byte, []byte, error) {
	if !c.valid {
		return nil, nil, noRecord(op)
	}
	key, value, err := c.seek(c.pos, true, withValue)
	if err != nil {
		return nil, nil, wrapError(CodeSystem, op, err)
	}
	if key == nil {
		c.valid = false
		c.pos = nil
		return nil, nil, noRecord(op)
	}
	c.pos = key
	return key, value, nil
}

// advance moves past key; running off the end unpositions the cursor.
func (c *badgerCursor) advance(op string, key []byte) error {
	next, _, err := c.seek(key, false, false)
	if err != nil {
		return wrapError(CodeSystem, op, err)
	}
	if next == nil {
		c.valid = false
		c.pos = nil
		return noRecord(op)
	}
	c.pos = next
	return nil
}

func (c *badgerCursor) Jump() error {
	return c.jump("Cursor.Jump", nil)
}

// JumpTo positions the cursor on the first key at or after key.
func (c *badgerCursor) JumpTo(key []byte) error {
	return c.jump("Cursor.JumpTo", key)
}

func (c *badgerCursor) jump(op string, from []byte) error {
	c.store.mlock.RLock()
	defer c.store.mlock.RUnlock()

	if err := c.begin(op, false); err != nil {
		return err
	}
	key, _, err := c.seek(from, true, false)
	if err != nil {
		return wrapError(CodeSystem, op, err)
	}
	if key == nil {
		c.valid = false
		c.pos = nil
		return noRecord(op)
	}
	c.pos = key
	c.valid = true
	return nil
}

func (c *badgerCursor) Step() error {
	c.store.mlock.RLock()
	defer c.store.mlock.RUnlock()

	if err := c.begin("Cursor.Step", false); err != nil {
		return err
	}
	key, _, err := c.current("Cursor.Step", false)
	if err != nil {
		return err
	}
	return c.advance("Cursor.Step", key)
}

func (c *badgerCursor) Key(step bool) ([]byte, error) {
	key, _, err := c.get("Cursor.Key", step, false)
	return key, err
}

func (c *badgerCursor) Value(step bool) ([]byte, error) {
	_, value, err := c.get("Cursor.Value", step, true)
	return value, err
}

func (c *badgerCursor) Get(step bool) ([]byte, []byte, error) {
	return c.get("Cursor.Get", step, true)
}

func (c *badgerCursor) get(op string, step, withValue bool) ([]byte, []byte, error) {
	c.store.mlock.RLock()
	defer c.store.mlock.RUnlock()

	if err := c.begin(op, false); err != nil {
		return nil, nil, err
	}
	key, value, err := c.current(op, withValue)
	if err != nil {
		return nil, nil, err
	}
	if step {
		if err := c.advance(op, key); err != nil && !IsNoRecord(err) {
			return nil, nil, err
		}
	}
	return key, value, nil
}

func (c *badgerCursor) Remove() error {
	return c.Accept(func([]byte, []byte, bool) Action { return Delete() }, true, false)
}

func (c *badgerCursor) Accept(visitor Visitor, writable, step bool) error {
	s := c.store
	s.mlock.RLock()
	defer s.mlock.RUnlock()

	if err := c.begin("Cursor.Accept", writable); err != nil {
		return err
	}

	for {
		key, _, err := c.current("Cursor.Accept", false)
		if err != nil {
			return err
		}

		gone, removed := false, false
		mu := s.stripe(key)
		mu.Lock()
		err = s.apply("Cursor.Accept", key, writable, func(value []byte, exists bool) (Action, error) {
			if !exists {
				gone = true
				return NoOp(), nil
			}
			act := visitor(key, value, true)
			removed = writable && act.Kind == ActDelete
			return act, nil
		})
		mu.Unlock()
		if err != nil {
			return err
		}
		if gone {
			// removed between the seek and the visit; move on to the next record
			continue
		}

		if step && !removed {
			if err := c.advance("Cursor.Accept", key); err != nil && !IsNoRecord(err) {
				return err
			}
		}
		return nil
	}
}

func (c *badgerCursor) Close() error {
	c.closed = true
	c.valid = false
	c.pos = nil
	return nil
}
