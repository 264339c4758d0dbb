// Package sentinel names the storage facts a document backend can report.
// Backends wrap them with detail; the store adapter maps them to coded errors
// so no driver error type leaks past the store.
package sentinel

import "errors"

var (
	// ErrNotFound: no document with the identifier exists in the collection.
	ErrNotFound = errors.New("document not found")
	// ErrConflict: a uniqueness constraint rejected the write.
	ErrConflict = errors.New("document conflict")
	// ErrUnavailable: the store could not be reached or dropped the connection.
	ErrUnavailable = errors.New("store unavailable")
)
