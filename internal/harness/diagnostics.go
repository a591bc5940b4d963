package harness

import (
	"fmt"

	"github.com/pkg/errors"

	"cachetest/internal/store"
)

// FatalError is a store failure outside the tolerated error class of the
// operation that hit it.
type FatalError struct {
	Site string
	Op   string
	Path string
	Err  error
}

func (e *FatalError) Error() string {
	code := store.CodeOf(e.Err)
	return fmt.Sprintf("%s: %s: %s: %d: %s: %s", e.Site, e.Op, e.Path, code, code.Name(), detail(e.Err))
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// detail is the message part of a store error without its code prefix.
func detail(err error) string {
	var se *store.Error
	if !errors.As(err, &se) {
		return err.Error()
	}
	msg := se.Message
	if se.Err != nil {
		if msg != "" {
			msg += ": "
		}
		msg += se.Err.Error()
	}
	return msg
}

// InconsistencyError reports a state the store must never reach, found by a
// checker after the fact.
type InconsistencyError struct {
	Check  string
	Detail string
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("inconsistency: %s: %s", e.Check, e.Detail)
}

func inconsistent(check, format string, args ...interface{}) error {
	return errors.WithStack(&InconsistencyError{Check: check, Detail: fmt.Sprintf(format, args...)})
}

// IsInconsistency reports whether err was raised by a checker.
func IsInconsistency(err error) bool {
	var ie *InconsistencyError
	return errors.As(err, &ie)
}

// IsFatal reports whether err is an unexpected store failure.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// tolerate returns nil when err is nil or carries one of the tolerated codes.
// Any other error becomes a FatalError for site and op.
func tolerate(st store.Store, site, op string, err error, tolerated ...store.Code) error {
	if err == nil {
		return nil
	}
	code := store.CodeOf(err)
	for _, t := range tolerated {
		if code == t {
			return nil
		}
	}
	return errors.WithStack(&FatalError{Site: site, Op: op, Path: st.Path(), Err: err})
}
