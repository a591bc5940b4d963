package store

import (
	"errors"
	"fmt"
)

// Code classifies store errors.
type Code int

const (
	CodeSuccess Code = 0
	CodeNoImpl  Code = 1
	CodeInvalid Code = 2
	CodeNoRepos Code = 3
	CodeNoPerm  Code = 4
	CodeBroken  Code = 5
	CodeDupRec  Code = 6
	CodeNoRec   Code = 7
	CodeLogic   Code = 8
	CodeSystem  Code = 9
	CodeMisc    Code = 15
)

var codeNames = map[Code]string{
	CodeSuccess: "success",
	CodeNoImpl:  "not implemented",
	CodeInvalid: "invalid operation",
	CodeNoRepos: "file not found",
	CodeNoPerm:  "no permission",
	CodeBroken:  "broken file",
	CodeDupRec:  "record duplication",
	CodeNoRec:   "no record",
	CodeLogic:   "logical inconsistency",
	CodeSystem:  "system error",
	CodeMisc:    "miscellaneous error",
}

// Name returns the human readable name of the code.
func (c Code) Name() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return codeNames[CodeMisc]
}

func (c Code) String() string {
	return c.Name()
}

// Error is the error type returned by every store operation.
type Error struct {
	Code    Code
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%d: %s", e.Code, e.Code.Name())
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any store error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNoRecord  = &Error{Code: CodeNoRec}
	ErrDuplicate = &Error{Code: CodeDupRec}
)

func newError(code Code, op, message string) *Error {
	return &Error{Code: code, Op: op, Message: message}
}

func wrapError(code Code, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

func noRecord(op string) *Error {
	return newError(CodeNoRec, op, "")
}

func notOpened(op string) *Error {
	return newError(CodeInvalid, op, "not opened")
}

// CodeOf returns the store code carried by err. A nil error is CodeSuccess
// and foreign errors are CodeMisc.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeMisc
}

// IsNoRecord reports whether err is a not-found error.
func IsNoRecord(err error) bool {
	return CodeOf(err) == CodeNoRec
}

// IsDuplicate reports whether err is a duplicate-record error.
func IsDuplicate(err error) bool {
	return CodeOf(err) == CodeDupRec
}
