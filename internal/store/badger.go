package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

const stripeNum = 16

// BadgerStore runs the store contract on top of badger. Read-modify-write
// operations on one key are serialised by a stripe lock, so every visitor
// sees the value it replaces.
type BadgerStore struct {
	mlock    sync.RWMutex
	opts     Options
	db       *badger.DB
	path     string
	mode     Mode
	inMemory bool
	tran     bool
	hard     bool

	stripes [stripeNum]sync.Mutex
	journal undoLog

	count    atomic.Int64
	size     atomic.Int64
	rotation atomic.Bool

	gate   *txGate
	logger *slog.Logger
}

var _ Store = (*BadgerStore)(nil)

// NewBadgerStore creates an unopened badger engine.
func NewBadgerStore(opts Options) *BadgerStore {
	s := &BadgerStore{
		opts:   opts,
		gate:   newTxGate(),
		logger: opts.logger().With("engine", "badger"),
	}
	s.rotation.Store(opts.Rotation)
	return s
}

// badgerLogger routes badger's log output to slog. Badger is chatty at info
// level, so info is demoted to debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Open opens badger at path. "*" or an empty path keeps everything in memory.
func (s *BadgerStore) Open(path string, mode Mode) error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if s.db != nil {
		return newError(CodeInvalid, "Open", "already opened")
	}

	inMemory := path == "" || path == "*"
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if _, err := os.Stat(path); err != nil {
			if !os.IsNotExist(err) {
				return wrapError(CodeSystem, "Open", err)
			}
			if mode&ModeCreate == 0 {
				return newError(CodeNoRepos, "Open", path)
			}
		}
		opts = badger.DefaultOptions(path).WithReadOnly(!mode.Writable())
	}

	if s.opts.Compress {
		opts = opts.WithCompression(options.ZSTD)
	} else {
		opts = opts.WithCompression(options.None)
	}
	opts = opts.WithLogger(badgerLogger{l: s.logger})

	db, err := badger.Open(opts)
	if err != nil {
		return wrapError(CodeSystem, "Open", fmt.Errorf("failed to open badger database: %w", err))
	}

	if mode&ModeTruncate != 0 && mode.Writable() {
		if err := db.DropAll(); err != nil {
			db.Close()
			return wrapError(CodeSystem, "Open", err)
		}
	}

	count, size, err := scanTotals(db)
	if err != nil {
		db.Close()
		return wrapError(CodeSystem, "Open", err)
	}

	s.db = db
	s.path = path
	s.mode = mode
	s.inMemory = inMemory
	s.count.Store(count)
	s.size.Store(size)

	s.logger.Debug("Store opened", "path", path, "count", count, "in_memory", inMemory)
	return nil
}

func scanTotals(db *badger.DB) (count, size int64, err error) {
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			count++
			size += int64(len(item.Key())) + item.ValueSize()
		}
		return nil
	})
	return count, size, err
}

// Close closes badger. An active transaction is rolled back first.
func (s *BadgerStore) Close() error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if s.db == nil {
		return notOpened("Close")
	}

	var rollbackErr error
	if s.tran {
		rollbackErr = s.rollback()
		s.tran = false
		s.gate.release()
	}

	err := s.db.Close()
	s.db = nil
	if rollbackErr != nil {
		return rollbackErr
	}
	if err != nil {
		return wrapError(CodeSystem, "Close", err)
	}
	s.logger.Debug("Store closed", "path", s.path)
	return nil
}

func (s *BadgerStore) Path() string {
	s.mlock.RLock()
	defer s.mlock.RUnlock()
	return s.path
}

// checkOpen must be called with mlock held.
func (s *BadgerStore) checkOpen(op string, writable bool) error {
	if s.db == nil {
		return notOpened(op)
	}
	if writable && !s.mode.Writable() {
		return newError(CodeNoPerm, op, "permission denied")
	}
	return nil
}

func (s *BadgerStore) stripe(key []byte) *sync.Mutex {
	return &s.stripes[xxhash.Sum64(key)%stripeNum]
}

func (s *BadgerStore) accept(op string, key []byte, writable bool, fn acceptFunc) error {
	s.mlock.RLock()
	defer s.mlock.RUnlock()

	if err := s.checkOpen(op, writable); err != nil {
		return err
	}

	mu := s.stripe(key)
	mu.Lock()
	defer mu.Unlock()

	return s.apply(op, key, writable, fn)
}

// apply runs one read-modify-write in a badger transaction. The caller holds
// either the stripe of key or the exclusive store lock.
func (s *BadgerStore) apply(op string, key []byte, writable bool, fn acceptFunc) error {
	var (
		old        []byte
		existed    bool
		changed    bool
		countDelta int64
		sizeDelta  int64
		fnErr      error
	)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			old, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
			existed = true
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		act, err := fn(old, existed)
		if err != nil {
			fnErr = err
			return nil
		}
		if !writable {
			return nil
		}

		switch act.Kind {
		case ActReplace:
			k := append([]byte(nil), key...)
			v := append([]byte{}, act.Value...)
			if err := txn.Set(k, v); err != nil {
				return err
			}
			changed = true
			if existed {
				sizeDelta = int64(len(v) - len(old))
			} else {
				countDelta = 1
				sizeDelta = int64(len(k) + len(v))
			}
		case ActDelete:
			if !existed {
				return nil
			}
			if err := txn.Delete(append([]byte(nil), key...)); err != nil {
				return err
			}
			changed = true
			countDelta = -1
			sizeDelta = -int64(len(key) + len(old))
		}
		return nil
	})
	if err != nil {
		return wrapError(CodeSystem, op, err)
	}
	if fnErr != nil {
		return fnErr
	}

	if changed {
		if s.tran {
			s.journal.record(string(key), old, existed)
		}
		s.count.Add(countDelta)
		s.size.Add(sizeDelta)
	}
	return nil
}

func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	s.mlock.RLock()
	defer s.mlock.RUnlock()

	if err := s.checkOpen("Get", false); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		return err
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, noRecord("Get")
	}
	if err != nil {
		return nil, wrapError(CodeSystem, "Get", err)
	}
	return value, nil
}

func (s *BadgerStore) Set(key, value []byte) error {
	return s.accept("Set", key, true, func([]byte, bool) (Action, error) {
		return Replace(value), nil
	})
}

func (s *BadgerStore) Add(key, value []byte) error {
	return s.accept("Add", key, true, func(_ []byte, exists bool) (Action, error) {
		if exists {
			return NoOp(), newError(CodeDupRec, "Add", "")
		}
		return Replace(value), nil
	})
}

func (s *BadgerStore) Replace(key, value []byte) error {
	return s.accept("Replace", key, true, func(_ []byte, exists bool) (Action, error) {
		if !exists {
			return NoOp(), noRecord("Replace")
		}
		return Replace(value), nil
	})
}

func (s *BadgerStore) Append(key, value []byte) error {
	return s.accept("Append", key, true, func(old []byte, exists bool) (Action, error) {
		if !exists {
			return Replace(value), nil
		}
		return Replace(append(old, value...)), nil
	})
}

func (s *BadgerStore) Remove(key []byte) error {
	return s.accept("Remove", key, true, func(_ []byte, exists bool) (Action, error) {
		if !exists {
			return NoOp(), noRecord("Remove")
		}
		return Delete(), nil
	})
}

func (s *BadgerStore) Accept(key []byte, visitor Visitor, writable bool) error {
	return s.accept("Accept", key, writable, func(value []byte, exists bool) (Action, error) {
		return visitor(key, value, exists), nil
	})
}

// Iterate visits every record in key order under the exclusive lock.
func (s *BadgerStore) Iterate(visitor Visitor, writable bool) error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if err := s.checkOpen("Iterate", writable); err != nil {
		return err
	}

	keys, err := s.keys()
	if err != nil {
		return wrapError(CodeSystem, "Iterate", err)
	}
	for _, key := range keys {
		err := s.apply("Iterate", key, writable, func(value []byte, exists bool) (Action, error) {
			if !exists {
				return NoOp(), nil
			}
			return visitor(key, value, true), nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) keys() ([][]byte, error) {
	keys := make([][]byte, 0, s.count.Load())
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) BeginTransaction(ctx context.Context, hard bool) error {
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
	if s.db == nil {
		s.gate.release()
		return notOpened("BeginTransaction")
	}
	s.tran = true
	s.hard = hard
	return nil
}

// EndTransaction commits or rolls back the active transaction. A committed
// hard transaction is synced to disk.
func (s *BadgerStore) EndTransaction(commit bool) error {
	s.mlock.Lock()
	defer s.mlock.Unlock()

	if s.db == nil {
		return notOpened("EndTransaction")
	}
	if !s.tran {
		return newError(CodeLogic, "EndTransaction", "not in transaction")
	}

	var err error
	if commit {
		s.journal.reset()
		if (s.hard || s.opts.HardSync) && !s.inMemory {
			if serr := s.db.Sync(); serr != nil {
				err = wrapError(CodeSystem, "EndTransaction", serr)
			}
		}
	} else {
		err = s.rollback()
	}

	s.tran = false
	s.hard = false
	s.gate.release()
	return err
}

// rollback restores the journalled images and leaves transaction mode so the
// restoring writes are not journalled again. Called with the exclusive lock.
func (s *BadgerStore) rollback() error {
	s.tran = false
	return s.journal.rollback(func(e undoEntry) error {
		key := []byte(e.key)
		err := s.apply("EndTransaction", key, true, func([]byte, bool) (Action, error) {
			if e.existed {
				return Replace(e.value), nil
			}
			return Delete(), nil
		})
		return err
	})
}

func (s *BadgerStore) Count() int64 {
	return s.count.Load()
}

func (s *BadgerStore) Size() int64 {
	return s.size.Load()
}

func (s *BadgerStore) Status() Status {
	s.mlock.RLock()
	defer s.mlock.RUnlock()

	return Status{
		Engine:     "badger",
		Path:       s.path,
		Count:      s.count.Load(),
		Size:       s.size.Load(),
		Compressed: s.opts.Compress,
		Rotation:   s.rotation.Load(),
	}
}

// SwitchRotation is recorded for reporting only; badger has no record order
// to rotate.
func (s *BadgerStore) SwitchRotation(on bool) {
	s.rotation.Store(on)
}
