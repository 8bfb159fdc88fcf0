// Package ipcerr carries the error taxonomy of spec §7 as typed,
// comparable errors. The IPC server projects a Code onto the wire
// response's error.code field without ever pattern-matching on an
// error string.
package ipcerr

import (
	"errors"
	"fmt"
)

// Code identifies one of the error classes spec §7 enumerates.
type Code string

const (
	CodeUnknownAction   Code = "UnknownAction"
	CodeBadRequest      Code = "BadRequest"
	CodeInvalidKey      Code = "InvalidKey"
	CodeUnknownTerminal Code = "UnknownTerminal"
	CodeExited          Code = "Exited"
	CodeSpawnError      Code = "SpawnError"
	CodeWriteError      Code = "WriteError"
	CodeReadError       Code = "ReadError"
	CodeTimeout         Code = "Timeout"
	CodeDisconnected    Code = "Disconnected"
	CodeInternalError   Code = "InternalError"
)

// Error is a typed error carrying one of the Code values above plus a
// human-readable message for the response's error.message field.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with the given code and a formatted message.
func New(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error with the given code, embedding an underlying
// error's text in the message.
func Wrap(code Code, err error) *Error {
	return &Error{Code: code, Message: err.Error()}
}

// UnknownTerminal is a convenience constructor for the most common
// referent error (spec §7).
func UnknownTerminal(id string) *Error {
	return New(CodeUnknownTerminal, "no such terminal: %s", id)
}

// As reports whether err is (or wraps) an *Error, and if so returns it.
func As(err error) (*Error, bool) {
	var ipcErr *Error
	ok := errors.As(err, &ipcErr)
	return ipcErr, ok
}
