// Package store is the document store adapter: kind-parameterized create, get,
// list and update over a Backend that owns the storage handle.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"lms/internal/content/document"
)

// Backend persists documents in named collections. Implementations must be
// safe for concurrent use and serialize conflicting writes to one document.
//
// Errors are storage facts: sentinel.ErrNotFound for a missing identifier,
// sentinel.ErrConflict for an unresolvable uniqueness collision,
// sentinel.ErrUnavailable when the store cannot be reached.
type Backend interface {
	// Insert stores a new document. The document carries its identifier.
	Insert(ctx context.Context, collection string, doc document.Document) error
	// InsertIfAbsent atomically stores doc unless a document matching key
	// exists, in which case the existing document is returned unchanged.
	InsertIfAbsent(ctx context.Context, collection string, key Key, doc document.Document) (stored document.Document, inserted bool, err error)
	// Upsert atomically merges set into the document matching key, or stores
	// doc when none exists.
	Upsert(ctx context.Context, collection string, key Key, set, doc document.Document) (stored document.Document, inserted bool, err error)
	FindByID(ctx context.Context, collection string, id document.ID) (document.Document, error)
	Find(ctx context.Context, collection string, q Query) ([]document.Document, error)
	// Update merges set into the document with the given identifier.
	Update(ctx context.Context, collection string, id document.ID, set document.Document) (document.Document, error)
	Collections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	// Name identifies the underlying database.
	Name() string
	Close(ctx context.Context) error
}

// KeyField is one component of a dedup key.
type KeyField struct {
	Name  string
	Value any
}

// Key identifies at most one document in a collection.
type Key []KeyField

// String renders the key canonically; equal keys render identically.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, f := range k {
		v, _ := json.Marshal(f.Value)
		parts[i] = f.Name + "=" + string(v)
	}
	return strings.Join(parts, "&")
}

// Matches reports whether doc carries every key value.
func (k Key) Matches(doc document.Document) bool {
	for _, f := range k {
		if !equalValues(doc[f.Name], f.Value) {
			return false
		}
	}
	return true
}

// Op is a filter constraint kind.
type Op int

const (
	// OpEqual matches a field equal to the value, or a list field containing it.
	OpEqual Op = iota + 1
	// OpContainsFold matches a string field containing the value, ignoring case.
	OpContainsFold
)

// Condition constrains one field.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Query is a resolved list request handed to a backend.
type Query struct {
	Conditions []Condition
	// SortBy orders results ascending, ties in insertion order. Empty means
	// insertion order.
	SortBy string
	Limit  int
}
