package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"lms/internal/content/document"
	"lms/internal/content/store"
	"lms/pkg/platform/sentinel"
)

// InMemory keeps collections in process. One RWMutex guards every collection,
// which makes InsertIfAbsent and Upsert atomic with respect to each other.
// Documents are copied on the way in and out.
type InMemory struct {
	mu          sync.RWMutex
	name        string
	collections map[string]*collection
}

type collection struct {
	docs []document.Document
	byID map[document.ID]int
}

// New returns an empty in-memory store.
func New() *InMemory {
	return &InMemory{
		name:        "memory",
		collections: make(map[string]*collection),
	}
}

func (s *InMemory) Insert(_ context.Context, name string, doc document.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(name, doc)
}

func (s *InMemory) InsertIfAbsent(_ context.Context, name string, key store.Key, doc document.Document) (document.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findByKeyLocked(name, key); existing != nil {
		return existing.Clone(), false, nil
	}
	if err := s.insertLocked(name, doc); err != nil {
		return nil, false, err
	}
	return doc.Clone(), true, nil
}

func (s *InMemory) Upsert(_ context.Context, name string, key store.Key, set, doc document.Document) (document.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findByKeyLocked(name, key); existing != nil {
		maps.Copy(existing, set.Clone())
		return existing.Clone(), false, nil
	}
	if err := s.insertLocked(name, doc); err != nil {
		return nil, false, err
	}
	return doc.Clone(), true, nil
}

func (s *InMemory) FindByID(_ context.Context, name string, id document.ID) (document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	idx, ok := c.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return c.docs[idx].Clone(), nil
}

func (s *InMemory) Find(_ context.Context, name string, q store.Query) ([]document.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return []document.Document{}, nil
	}
	matched := make([]document.Document, 0)
	for _, doc := range c.docs {
		if store.Match(doc, q.Conditions) {
			matched = append(matched, doc.Clone())
		}
	}
	if q.SortBy != "" {
		sort.SliceStable(matched, func(i, j int) bool {
			return store.Less(matched[i][q.SortBy], matched[j][q.SortBy])
		})
	}
	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *InMemory) Update(_ context.Context, name string, id document.ID, set document.Document) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	idx, ok := c.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	maps.Copy(c.docs[idx], set.Clone())
	return c.docs[idx].Clone(), nil
}

// Collections lists collections holding at least one document, sorted.
func (s *InMemory) Collections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := slices.Collect(maps.Keys(s.collections))
	slices.Sort(names)
	return names, nil
}

func (s *InMemory) Ping(context.Context) error {
	return nil
}

func (s *InMemory) Name() string {
	return s.name
}

func (s *InMemory) Close(context.Context) error {
	return nil
}

// Count returns the number of documents in a collection.
func (s *InMemory) Count(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.collections[name]; ok {
		return len(c.docs)
	}
	return 0
}

func (s *InMemory) insertLocked(name string, doc document.Document) error {
	id, ok := doc.ID()
	if !ok {
		return fmt.Errorf("insert into %s: document has no identifier", name)
	}
	c, ok := s.collections[name]
	if !ok {
		c = &collection{byID: make(map[document.ID]int)}
		s.collections[name] = c
	}
	if _, dup := c.byID[id]; dup {
		return fmt.Errorf("insert into %s: duplicate identifier %s: %w", name, id, sentinel.ErrConflict)
	}
	c.byID[id] = len(c.docs)
	c.docs = append(c.docs, doc.Clone())
	return nil
}

func (s *InMemory) findByKeyLocked(name string, key store.Key) document.Document {
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	for _, doc := range c.docs {
		if key.Matches(doc) {
			return doc
		}
	}
	return nil
}

var _ store.Backend = (*InMemory)(nil)
