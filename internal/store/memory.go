package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

const (
	// SlotNum is the number of independently locked slots of the memory engine.
	SlotNum = 16

	// DefaultBuckets is the bucket count used when none is configured.
	DefaultBuckets = 1048583
)

// Options configures an engine before it is opened.
type Options struct {
	Engine   string
	Buckets  int64
	CapCount int64
	CapSize  int64
	Compress bool
	Rotation bool
	HardSync bool
	Logger   *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

type memRecord struct {
	key    string
	value  []byte // stored form, compressed when the codec is enabled
	bucket int
	prev   *memRecord
	next   *memRecord
}

// memSlot owns a share of the key space. Records are kept in a doubly linked
// list from oldest to newest, which is both the eviction and the cursor order.
type memSlot struct {
	mu      sync.Mutex
	records map[string]*memRecord
	head    *memRecord
	tail    *memRecord
	buckets []int32
	used    atomic.Int64
	size    int64
	capcnt  int64
	capsiz  int64
	journal undoLog
	cursors map[*memCursor]struct{}
}

func newMemSlot(buckets, capcnt, capsiz int64) *memSlot {
	slot := &memSlot{
		records: make(map[string]*memRecord),
		buckets: make([]int32, buckets),
		capcnt:  capcnt,
		capsiz:  capsiz,
		cursors: make(map[*memCursor]struct{}),
	}

	// Initialize doubly linked list with dummy head and tail
	slot.head = &memRecord{}
	slot.tail = &memRecord{}
	slot.head.next = slot.tail
	slot.tail.prev = slot.head

	return slot
}

func (sl *memSlot) first() *memRecord {
	if sl.head.next == sl.tail {
		return nil
	}
	return sl.head.next
}

func (sl *memSlot) pushBack(rec *memRecord) {
	rec.prev = sl.tail.prev
	rec.next = sl.tail
	sl.tail.prev.next = rec
	sl.tail.prev = rec
}

func (sl *memSlot) unlink(rec *memRecord) {
	rec.prev.next = rec.next
	rec.next.prev = rec.prev
}

func (sl *memSlot) moveToBack(rec *memRecord) {
	if sl.tail.prev == rec {
		return
	}
	sl.unlink(rec)
	sl.pushBack(rec)
}

func (sl *memSlot) overCapacity() bool {
	return (sl.capcnt > 0 && int64(len(sl.records)) > sl.capcnt) ||
		(sl.capsiz > 0 && sl.size > sl.capsiz)
}

// MemoryStore is a capacity bounded in-memory cache. The key space is split
// over SlotNum slots; record operations lock one slot, while cursor moves,
// iteration and transaction boundaries lock the whole store.
type MemoryStore struct {
	mlock   sync.RWMutex
	opts    Options
	path    string
	mode    Mode
	opened  bool
	tran    bool
	slots   [SlotNum]*memSlot
	cursors map[*memCursor]struct{}

	count    atomic.Int64
	size     atomic.Int64
	rotation atomic.Bool

	codec  *valueCodec
	gate   *txGate
	logger *slog.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an unopened memory engine.
func NewMemoryStore(opts Options) *MemoryStore {
	if opts.Buckets <= 0 {
		opts.Buckets = DefaultBuckets
	}
	s := &MemoryStore{
		opts:    opts,
		cursors: make(map[*memCursor]struct{}),
		gate:    newTxGate(),
		logger:  opts.logger().With("engine", "memory"),
	}
	s.rotation.Store(opts.Rotation)
	return s
}

// Open prepares empty slots. Records never survive Close, so every mode
// starts from an empty store.
func (s *MemoryStore) Open(path string, mode Mode) error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if s.opened {
		return newError(CodeInvalid, "Open", "already opened")
	}

	if s.opts.Compress {
		codec, err := newValueCodec()
		if err != nil {
			return err
		}
		s.codec = codec
	}

	perSlot := s.opts.Buckets / SlotNum
	if perSlot < 1 {
		perSlot = 1
	}
	var capcnt, capsiz int64
	if s.opts.CapCount > 0 {
		capcnt = s.opts.CapCount/SlotNum + 1
	}
	if s.opts.CapSize > 0 {
		capsiz = s.opts.CapSize/SlotNum + 1
	}
	for i := range s.slots {
		s.slots[i] = newMemSlot(perSlot, capcnt, capsiz)
	}

	s.count.Store(0)
	s.size.Store(0)
	s.path = path
	s.mode = mode
	s.opened = true

	s.logger.Debug("Store opened", "path", path, "buckets", perSlot*SlotNum, "capcnt", s.opts.CapCount, "capsiz", s.opts.CapSize)
	return nil
}

// Close discards every record. An active transaction is aborted.
func (s *MemoryStore) Close() error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if !s.opened {
		return notOpened("Close")
	}

	if s.tran {
		for _, slot := range s.slots {
			slot.journal.reset()
		}
		s.tran = false
		s.gate.release()
	}

	for c := range s.cursors {
		c.reset()
	}
	for i := range s.slots {
		s.slots[i] = nil
	}
	if s.codec != nil {
		s.codec.close()
		s.codec = nil
	}
	s.opened = false

	s.logger.Debug("Store closed", "path", s.path)
	return nil
}

func (s *MemoryStore) Path() string {
	s.mlock.RLock()
	defer s.mlock.RUnlock()
	return s.path
}

func (s *MemoryStore) slotOf(key []byte) int {
	return int(xxhash.Sum64(key) % SlotNum)
}

func (s *MemoryStore) locate(key []byte) (*memSlot, int) {
	h := xxhash.Sum64(key)
	slot := s.slots[h%SlotNum]
	return slot, int((h / SlotNum) % uint64(len(slot.buckets)))
}

func (s *MemoryStore) encode(value []byte) []byte {
	if s.codec != nil {
		return s.codec.encode(value)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	return stored
}

func (s *MemoryStore) decode(stored []byte) ([]byte, error) {
	if s.codec != nil {
		return s.codec.decode(stored)
	}
	return stored, nil
}

// checkOpen must be called with mlock held.
func (s *MemoryStore) checkOpen(op string, writable bool) error {
	if !s.opened {
		return notOpened(op)
	}
	if writable && !s.mode.Writable() {
		return newError(CodeNoPerm, op, "permission denied")
	}
	return nil
}

// acceptFunc decides on a record. Returning an error aborts the operation
// without touching the record.
type acceptFunc func(value []byte, exists bool) (Action, error)

func (s *MemoryStore) accept(op string, key []byte, writable bool, fn acceptFunc) error {
	s.mlock.RLock()
	defer s.mlock.RUnlock()

	if err := s.checkOpen(op, writable); err != nil {
		return err
	}

	slot, bucket := s.locate(key)
	slot.mu.Lock()
	defer slot.mu.Unlock()

	rec := slot.records[string(key)]
	var value []byte
	if rec != nil {
		v, err := s.decode(rec.value)
		if err != nil {
			return err
		}
		value = v
	}

	act, err := fn(value, rec != nil)
	if err != nil {
		return err
	}
	if !writable {
		act = NoOp()
	}

	switch act.Kind {
	case ActReplace:
		stored := s.encode(act.Value)
		if rec != nil {
			s.replaceValue(slot, rec, stored)
			if s.rotation.Load() {
				slot.moveToBack(rec)
			}
			s.evict(slot, rec)
			return nil
		}
		if s.tran {
			slot.journal.record(string(key), nil, false)
		}
		rec = s.insert(slot, string(key), stored, bucket)
		s.evict(slot, rec)
	case ActDelete:
		if rec != nil {
			if s.tran {
				slot.journal.record(rec.key, rec.value, true)
			}
			s.removeRecord(slot, rec)
		}
	default:
		if rec != nil && s.rotation.Load() {
			slot.moveToBack(rec)
		}
	}
	return nil
}

func (s *MemoryStore) insert(slot *memSlot, key string, stored []byte, bucket int) *memRecord {
	rec := &memRecord{key: key, value: stored, bucket: bucket}
	slot.records[key] = rec
	slot.pushBack(rec)
	if slot.buckets[bucket] == 0 {
		slot.used.Add(1)
	}
	slot.buckets[bucket]++

	delta := int64(len(key) + len(stored))
	slot.size += delta
	s.size.Add(delta)
	s.count.Add(1)
	return rec
}

// replaceValue journals and swaps the stored value of an existing record.
func (s *MemoryStore) replaceValue(slot *memSlot, rec *memRecord, stored []byte) {
	if s.tran {
		slot.journal.record(rec.key, rec.value, true)
	}
	delta := int64(len(stored) - len(rec.value))
	rec.value = stored
	slot.size += delta
	s.size.Add(delta)
}

func (s *MemoryStore) removeRecord(slot *memSlot, rec *memRecord) {
	s.escapeCursors(slot, rec)

	slot.unlink(rec)
	delete(slot.records, rec.key)
	slot.buckets[rec.bucket]--
	if slot.buckets[rec.bucket] == 0 {
		slot.used.Add(-1)
	}

	delta := int64(len(rec.key) + len(rec.value))
	slot.size -= delta
	s.size.Add(-delta)
	s.count.Add(-1)
}

// escapeCursors moves every cursor sitting on rec to the following record.
// A cursor leaving the slot is detached and resolved on its next operation.
func (s *MemoryStore) escapeCursors(slot *memSlot, rec *memRecord) {
	for c := range slot.cursors {
		if c.rec != rec {
			continue
		}
		if rec.next != slot.tail {
			c.rec = rec.next
			continue
		}
		delete(slot.cursors, c)
		c.rec = nil
		c.pending = true
		c.slot++
	}
}

// evict drops the oldest records of the slot until it fits its capacity.
// keep is never evicted.
func (s *MemoryStore) evict(slot *memSlot, keep *memRecord) {
	for slot.overCapacity() {
		victim := slot.first()
		if victim == nil || victim == keep {
			return
		}
		if s.tran {
			slot.journal.record(victim.key, victim.value, true)
		}
		s.removeRecord(slot, victim)
	}
}

func (s *MemoryStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.accept("Get", key, false, func(value []byte, exists bool) (Action, error) {
		if !exists {
			return NoOp(), noRecord("Get")
		}
		out = make([]byte, len(value))
		copy(out, value)
		return NoOp(), nil
	})
	return out, err
}

func (s *MemoryStore) Set(key, value []byte) error {
	return s.accept("Set", key, true, func([]byte, bool) (Action, error) {
		return Replace(value), nil
	})
}

func (s *MemoryStore) Add(key, value []byte) error {
	return s.accept("Add", key, true, func(_ []byte, exists bool) (Action, error) {
		if exists {
			return NoOp(), newError(CodeDupRec, "Add", "")
		}
		return Replace(value), nil
	})
}

func (s *MemoryStore) Replace(key, value []byte) error {
	return s.accept("Replace", key, true, func(_ []byte, exists bool) (Action, error) {
		if !exists {
			return NoOp(), noRecord("Replace")
		}
		return Replace(value), nil
	})
}

func (s *MemoryStore) Append(key, value []byte) error {
	return s.accept("Append", key, true, func(old []byte, exists bool) (Action, error) {
		if !exists {
			return Replace(value), nil
		}
		joined := make([]byte, 0, len(old)+len(value))
		joined = append(joined, old...)
		joined = append(joined, value...)
		return Replace(joined), nil
	})
}

func (s *MemoryStore) Remove(key []byte) error {
	return s.accept("Remove", key, true, func(_ []byte, exists bool) (Action, error) {
		if !exists {
			return NoOp(), noRecord("Remove")
		}
		return Delete(), nil
	})
}

func (s *MemoryStore) Accept(key []byte, visitor Visitor, writable bool) error {
	return s.accept("Accept", key, writable, func(value []byte, exists bool) (Action, error) {
		return visitor(key, value, exists), nil
	})
}

// Iterate visits every record under the exclusive lock, slot by slot.
func (s *MemoryStore) Iterate(visitor Visitor, writable bool) error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if err := s.checkOpen("Iterate", writable); err != nil {
		return err
	}

	for _, slot := range s.slots {
		for rec := slot.first(); rec != nil && rec != slot.tail; {
			next := rec.next
			value, err := s.decode(rec.value)
			if err != nil {
				return err
			}
			act := visitor([]byte(rec.key), value, true)
			if writable {
				switch act.Kind {
				case ActReplace:
					s.replaceValue(slot, rec, s.encode(act.Value))
				case ActDelete:
					if s.tran {
						slot.journal.record(rec.key, rec.value, true)
					}
					s.removeRecord(slot, rec)
				}
			}
			rec = next
		}
		s.evict(slot, nil)
	}
	return nil
}

// BeginTransaction waits until no other transaction is active. hard has no
// effect on a volatile store.
func (s *MemoryStore) BeginTransaction(ctx context.Context, hard bool) error {
	s.mlock.RLock()
	err := s.checkOpen("BeginTransaction", true)
	s.mlock.RUnlock()
	if err != nil {
		return err
	}

	if err := s.gate.acquire(ctx); err != nil {
		return wrapError(CodeLogic, "BeginTransaction", err)
	}

	s.mlock.Lock()
	defer s.mlock.Unlock()
	if !s.opened {
		s.gate.release()
		return notOpened("BeginTransaction")
	}
	s.tran = true
	return nil
}

// EndTransaction commits or rolls back the active transaction.
func (s *MemoryStore) EndTransaction(commit bool) error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if !s.opened {
		return notOpened("EndTransaction")
	}
	if !s.tran {
		return newError(CodeLogic, "EndTransaction", "not in transaction")
	}

	for _, slot := range s.slots {
		if commit {
			slot.journal.reset()
			continue
		}
		if err := slot.journal.rollback(func(e undoEntry) error {
			return s.undo(slot, e)
		}); err != nil {
			return err
		}
	}

	s.tran = false
	s.gate.release()
	return nil
}

// undo restores one journalled record image. Called with the exclusive lock.
func (s *MemoryStore) undo(slot *memSlot, e undoEntry) error {
	rec := slot.records[e.key]
	switch {
	case e.existed && rec != nil:
		delta := int64(len(e.value) - len(rec.value))
		rec.value = e.value
		slot.size += delta
		s.size.Add(delta)
	case e.existed:
		_, bucket := s.locate([]byte(e.key))
		s.insert(slot, e.key, e.value, bucket)
	case rec != nil:
		s.removeRecord(slot, rec)
	}
	return nil
}

func (s *MemoryStore) Count() int64 {
	return s.count.Load()
}

func (s *MemoryStore) Size() int64 {
	return s.size.Load()
}

func (s *MemoryStore) Status() Status {
	s.mlock.RLock()
	defer s.mlock.RUnlock()

	st := Status{
		Engine:     "memory",
		Path:       s.path,
		Count:      s.count.Load(),
		Size:       s.size.Load(),
		CapCount:   s.opts.CapCount,
		CapSize:    s.opts.CapSize,
		Compressed: s.opts.Compress,
		Rotation:   s.rotation.Load(),
	}
	if s.opened {
		for _, slot := range s.slots {
			st.BucketTotal += int64(len(slot.buckets))
			st.BucketUsed += slot.used.Load()
		}
	}
	return st
}

func (s *MemoryStore) SwitchRotation(on bool) {
	s.rotation.Store(on)
}
