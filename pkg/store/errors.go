package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when something is not found in the store.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write would violate a uniqueness or content
// integrity constraint. Use errors.As with [ConflictError] to find out why.
var ErrConflict = errors.New("conflict")

// ErrCorruption is returned when a content addressed key maps to a payload
// that differs from the one being written. It is never resolved automatically.
var ErrCorruption = errors.New("corruption")

// ErrUnavailable is returned when the underlying store could not be reached or
// did not answer in time.
var ErrUnavailable = errors.New("store unavailable")

// ConflictCode distinguishes the kinds of conflict a write can run into.
type ConflictCode string

const (
	// ContentMismatch means the key exists with different content (e.g. a
	// different size for the same stored object).
	ContentMismatch ConflictCode = "ContentMismatch"
	// Rebind means the key is already bound to a different principal, e.g. a
	// subscription that belongs to another customer.
	Rebind ConflictCode = "Rebind"
	// Duplicate means the principal already holds an equivalent binding under
	// a different key, e.g. a space that already has a subscription with the
	// same provider.
	Duplicate ConflictCode = "Duplicate"
)

type ConflictError struct {
	Code ConflictCode
	Key  string
	msg  string
}

func (ce ConflictError) Error() string {
	return fmt.Sprintf("%s conflict on %s: %s", ce.Code, ce.Key, ce.msg)
}

func (ce ConflictError) Is(target error) bool {
	return target == ErrConflict
}

func NewConflictError(code ConflictCode, key string, msg string) ConflictError {
	return ConflictError{Code: code, Key: key, msg: msg}
}

type CorruptionError struct {
	Key    string
	Reason string
}

func (ce CorruptionError) Error() string {
	return fmt.Sprintf("corrupt record %s: %s", ce.Key, ce.Reason)
}

func (ce CorruptionError) Is(target error) bool {
	return target == ErrCorruption
}

func NewCorruptionError(key string, reason string) CorruptionError {
	return CorruptionError{Key: key, Reason: reason}
}

// IsConflict reports whether err is a conflict with the given code.
func IsConflict(err error, code ConflictCode) bool {
	var ce ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == code
}
