package store

// memCursor walks the memory engine slot by slot in record order. All cursor
// operations run under the exclusive store lock; record operations of other
// goroutines only move a cursor through escapeCursors.
type memCursor struct {
	store   *MemoryStore
	slot    int
	rec     *memRecord
	pending bool // rec was removed at the end of slot-1; resume scanning at slot
	closed  bool
}

var _ Cursor = (*memCursor)(nil)

func (s *MemoryStore) Cursor() Cursor {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	c := &memCursor{store: s}
	s.cursors[c] = struct{}{}
	return c
}

func (c *memCursor) reset() {
	c.rec = nil
	c.pending = false
	c.slot = 0
}

func (c *memCursor) detach() {
	if c.rec != nil {
		delete(c.store.slots[c.slot].cursors, c)
	}
	c.reset()
}

func (c *memCursor) attach(slot int, rec *memRecord) {
	c.slot = slot
	c.rec = rec
	c.pending = false
	c.store.slots[slot].cursors[c] = struct{}{}
}

// seek positions the cursor on the first record at or after slot.
func (c *memCursor) seek(slot int) bool {
	for i := slot; i < SlotNum; i++ {
		if rec := c.store.slots[i].first(); rec != nil {
			c.attach(i, rec)
			return true
		}
	}
	c.reset()
	return false
}

// resolve finishes a pending escape and reports whether the cursor is on a record.
func (c *memCursor) resolve() bool {
	if c.rec != nil {
		return true
	}
	if c.pending {
		return c.seek(c.slot)
	}
	return false
}

func (c *memCursor) begin(op string, writable bool) error {
	if c.closed {
		return newError(CodeInvalid, op, "cursor closed")
	}
	return c.store.checkOpen(op, writable)
}

func (c *memCursor) Jump() error {
	c.store.mlock.Lock()
	defer c.store.mlock.Unlock()

	if err := c.begin("Cursor.Jump", false); err != nil {
		return err
	}
	c.detach()
	if !c.seek(0) {
		return noRecord("Cursor.Jump")
	}
	return nil
}

// JumpTo positions the cursor on key, which must exist.
func (c *memCursor) JumpTo(key []byte) error {
	s := c.store
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if err := c.begin("Cursor.JumpTo", false); err != nil {
		return err
	}
	c.detach()
	h := s.slotOf(key)
	rec := s.slots[h].records[string(key)]
	if rec == nil {
		return noRecord("Cursor.JumpTo")
	}
	c.attach(h, rec)
	return nil
}

func (c *memCursor) Step() error {
	c.store.mlock.Lock()
	defer c.store.mlock.Unlock()

	if err := c.begin("Cursor.Step", false); err != nil {
		return err
	}
	return c.step()
}

func (c *memCursor) step() error {
	if !c.resolve() {
		return noRecord("Cursor.Step")
	}
	slot := c.store.slots[c.slot]
	next := c.rec.next
	idx := c.slot
	c.detach()
	if next != slot.tail {
		c.attach(idx, next)
		return nil
	}
	if !c.seek(idx + 1) {
		return noRecord("Cursor.Step")
	}
	return nil
}

func (c *memCursor) Key(step bool) ([]byte, error) {
	key, _, err := c.get("Cursor.Key", step, false)
	return key, err
}

func (c *memCursor) Value(step bool) ([]byte, error) {
	_, value, err := c.get("Cursor.Value", step, true)
	return value, err
}

func (c *memCursor) Get(step bool) ([]byte, []byte, error) {
	return c.get("Cursor.Get", step, true)
}

func (c *memCursor) get(op string, step, withValue bool) ([]byte, []byte, error) {
	s := c.store
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if err := c.begin(op, false); err != nil {
		return nil, nil, err
	}
	if !c.resolve() {
		return nil, nil, noRecord(op)
	}

	key := []byte(c.rec.key)
	var value []byte
	if withValue {
		v, err := s.decode(c.rec.value)
		if err != nil {
			return nil, nil, err
		}
		value = make([]byte, len(v))
		copy(value, v)
	}
	if step {
		// Running off the end leaves the cursor unpositioned; the read itself succeeded.
		_ = c.step()
	}
	return key, value, nil
}

func (c *memCursor) Remove() error {
	return c.Accept(func([]byte, []byte, bool) Action { return Delete() }, true, false)
}

func (c *memCursor) Accept(visitor Visitor, writable, step bool) error {
	s := c.store
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if err := c.begin("Cursor.Accept", writable); err != nil {
		return err
	}
	if !c.resolve() {
		return noRecord("Cursor.Accept")
	}

	rec := c.rec
	slot := s.slots[c.slot]
	value, err := s.decode(rec.value)
	if err != nil {
		return err
	}

	act := visitor([]byte(rec.key), value, true)
	if writable {
		switch act.Kind {
		case ActReplace:
			s.replaceValue(slot, rec, s.encode(act.Value))
			s.evict(slot, rec)
		case ActDelete:
			if s.tran {
				slot.journal.record(rec.key, rec.value, true)
			}
			// the cursor escapes to the next record
			s.removeRecord(slot, rec)
			return nil
		}
	}
	if step {
		_ = c.step()
	}
	return nil
}

func (c *memCursor) Close() error {
	s := c.store
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if c.closed {
		return nil
	}
	if s.opened {
		c.detach()
	}
	c.closed = true
	delete(s.cursors, c)
	return nil
}
