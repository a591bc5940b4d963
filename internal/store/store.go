// Package store defines the key/value store contract driven by the workload
// tests and the engines implementing it.
package store

import "context"

// Mode is a set of open flags.
type Mode int

const (
	ModeReader Mode = 1 << iota
	ModeWriter
	ModeCreate
	ModeTruncate
)

// Writable reports whether the mode allows mutations.
func (m Mode) Writable() bool {
	return m&ModeWriter != 0
}

// ActionKind tells the store what to do with a visited record.
type ActionKind int

const (
	ActNoOp ActionKind = iota
	ActReplace
	ActDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActNoOp:
		return "noop"
	case ActReplace:
		return "replace"
	case ActDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Action is the decision a Visitor returns for a record.
type Action struct {
	Kind  ActionKind
	Value []byte
}

// NoOp leaves the record untouched.
func NoOp() Action { return Action{Kind: ActNoOp} }

// Replace stores value, creating the record if it does not exist.
func Replace(value []byte) Action { return Action{Kind: ActReplace, Value: value} }

// Delete removes the record.
func Delete() Action { return Action{Kind: ActDelete} }

// Visitor decides what happens to a record. value is nil and exists is false
// for an absent key. Visitors run while the store holds its internal locks and
// must not call back into the same store.
type Visitor func(key, value []byte, exists bool) Action

// Status is a snapshot of store introspection values.
type Status struct {
	Engine      string
	Path        string
	Count       int64
	Size        int64
	BucketTotal int64
	BucketUsed  int64
	CapCount    int64
	CapSize     int64
	Compressed  bool
	Rotation    bool
}

// Store is a thread-safe key/value store. Every method may be called
// concurrently from any number of goroutines.
type Store interface {
	Open(path string, mode Mode) error
	Close() error
	Path() string

	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Add(key, value []byte) error
	Replace(key, value []byte) error
	Append(key, value []byte) error
	Remove(key []byte) error

	Accept(key []byte, visitor Visitor, writable bool) error
	Iterate(visitor Visitor, writable bool) error
	Cursor() Cursor

	BeginTransaction(ctx context.Context, hard bool) error
	EndTransaction(commit bool) error

	Count() int64
	Size() int64
	Status() Status
	SwitchRotation(on bool)
}

// Cursor walks the records of a store. A cursor is owned by one goroutine.
// When the record under a cursor is removed, by the cursor or by anybody else,
// the cursor moves on to the following record.
type Cursor interface {
	Jump() error
	JumpTo(key []byte) error
	Step() error
	Key(step bool) ([]byte, error)
	Value(step bool) ([]byte, error)
	Get(step bool) (key, value []byte, err error)
	Remove() error
	Accept(visitor Visitor, writable, step bool) error
	Close() error
}
