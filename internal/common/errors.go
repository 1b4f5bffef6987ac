// Package common defines sentinel errors shared by the identity cache, the
// synchronization manager and the backend handlers. Callers should use
// errors.Is to match these values.
package common

import "errors"

var (
	// ErrorNotFound reports an identity missing from a map expected to hold it.
	// It signals a caller ordering error and is never recovered.
	ErrorNotFound = errors.New("not found")

	// ErrBackendUnavailable wraps connection and I/O failures of a backend.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrContention reports that another writer has not confirmed its save yet.
	ErrContention = errors.New("contended: previous writer has not confirmed its save")

	// ErrDuplicateTransition reports a second synchronized mark on a holder.
	ErrDuplicateTransition = errors.New("data holder already marked synchronized")

	// ErrAborted reports a load abandoned because the identity went offline.
	ErrAborted = errors.New("load aborted: identity went offline")
)
