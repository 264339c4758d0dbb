// Package storetest holds a behavioural suite every store.Backend must pass.
// Backend packages embed BackendSuite and supply a fresh backend per test.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"lms/internal/content/document"
	"lms/internal/content/store"
	"lms/pkg/platform/sentinel"
)

// BackendSuite exercises the store.Backend contract. NewBackend is called
// before every test and must return an empty backend.
type BackendSuite struct {
	suite.Suite
	NewBackend func() store.Backend

	Backend store.Backend
	Ctx     context.Context
}

func (s *BackendSuite) SetupTest() {
	s.Require().NotNil(s.NewBackend, "NewBackend must be set")
	s.Backend = s.NewBackend()
	s.Ctx = context.Background()
}

func newDoc(fields document.Document) document.Document {
	doc := fields.Clone()
	doc[document.IDField] = document.NewID()
	return doc
}

func (s *BackendSuite) TestInsertAndFindByID() {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := newDoc(document.Document{"title": "Intro", "tags": []string{"go"}, "created_at": created})
	s.Require().NoError(s.Backend.Insert(s.Ctx, "course", doc))

	id, _ := doc.ID()
	found, err := s.Backend.FindByID(s.Ctx, "course", id)
	s.Require().NoError(err)
	foundID, ok := found.ID()
	s.Require().True(ok)
	s.Equal(id, foundID)
	s.Equal("Intro", found["title"])

	_, err = s.Backend.FindByID(s.Ctx, "course", document.NewID())
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.ErrorIs(s.Backend.Insert(s.Ctx, "course", doc), sentinel.ErrConflict)
}

func (s *BackendSuite) TestFindFiltersAndOrders() {
	for i, title := range []string{"Intro to Systems", "Advanced SYSTEMS", "50% off_course", "Networks"} {
		tags := []string{}
		if i%2 == 0 {
			tags = []string{"core"}
		}
		s.Require().NoError(s.Backend.Insert(s.Ctx, "course", newDoc(document.Document{"title": title, "tags": tags})))
	}

	docs, err := s.Backend.Find(s.Ctx, "course", store.Query{})
	s.Require().NoError(err)
	s.Require().Len(docs, 4)
	s.Equal("Intro to Systems", docs[0]["title"])
	s.Equal("Networks", docs[3]["title"])

	docs, err = s.Backend.Find(s.Ctx, "course", store.Query{
		Conditions: []store.Condition{{Field: "title", Op: store.OpContainsFold, Value: "systems"}},
	})
	s.Require().NoError(err)
	s.Len(docs, 2)

	docs, err = s.Backend.Find(s.Ctx, "course", store.Query{
		Conditions: []store.Condition{{Field: "title", Op: store.OpContainsFold, Value: "% off_"}},
	})
	s.Require().NoError(err)
	s.Len(docs, 1)

	docs, err = s.Backend.Find(s.Ctx, "course", store.Query{
		Conditions: []store.Condition{{Field: "title", Op: store.OpContainsFold, Value: ".*"}},
	})
	s.Require().NoError(err)
	s.Empty(docs)

	docs, err = s.Backend.Find(s.Ctx, "course", store.Query{
		Conditions: []store.Condition{{Field: "tags", Op: store.OpEqual, Value: "core"}},
	})
	s.Require().NoError(err)
	s.Len(docs, 2)

	docs, err = s.Backend.Find(s.Ctx, "course", store.Query{Limit: 3})
	s.Require().NoError(err)
	s.Len(docs, 3)

	docs, err = s.Backend.Find(s.Ctx, "nothing", store.Query{})
	s.Require().NoError(err)
	s.Empty(docs)
}

func (s *BackendSuite) TestFindSortIsStable() {
	for i, order := range []int64{3, 1, 2, 1} {
		doc := newDoc(document.Document{"course_id": "c1", "order": order, "title": string(rune('a' + i))})
		s.Require().NoError(s.Backend.Insert(s.Ctx, "lesson", doc))
	}
	docs, err := s.Backend.Find(s.Ctx, "lesson", store.Query{
		Conditions: []store.Condition{{Field: "course_id", Op: store.OpEqual, Value: "c1"}},
		SortBy:     "order",
	})
	s.Require().NoError(err)
	var titles []string
	for _, d := range docs {
		titles = append(titles, d["title"].(string))
	}
	s.Equal([]string{"b", "d", "c", "a"}, titles)
}

func (s *BackendSuite) TestFindSortsTimestampsChronologically() {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	dues := []time.Time{
		base.Add(time.Second),
		base.Add(250 * time.Millisecond),
		base,
		base.Add(time.Second + time.Microsecond),
	}
	for i, due := range dues {
		doc := newDoc(document.Document{"course_id": "c1", "title": string(rune('a' + i)), "due_date": due})
		s.Require().NoError(s.Backend.Insert(s.Ctx, "assignment", doc))
	}
	docs, err := s.Backend.Find(s.Ctx, "assignment", store.Query{SortBy: "due_date"})
	s.Require().NoError(err)
	var titles []string
	for _, d := range docs {
		titles = append(titles, d["title"].(string))
	}
	s.Equal([]string{"c", "b", "a", "d"}, titles)
}

func (s *BackendSuite) TestInsertIfAbsent() {
	key := store.Key{{Name: "course_id", Value: "c1"}, {Name: "user_id", Value: "u1"}}
	first := newDoc(document.Document{"course_id": "c1", "user_id": "u1", "role": "student"})
	stored, inserted, err := s.Backend.InsertIfAbsent(s.Ctx, "enrollment", key, first)
	s.Require().NoError(err)
	s.True(inserted)

	second := newDoc(document.Document{"course_id": "c1", "user_id": "u1", "role": "ta"})
	again, inserted, err := s.Backend.InsertIfAbsent(s.Ctx, "enrollment", key, second)
	s.Require().NoError(err)
	s.False(inserted)
	s.Equal(stored[document.IDField], again[document.IDField])
	s.Equal("student", again["role"])

	docs, err := s.Backend.Find(s.Ctx, "enrollment", store.Query{})
	s.Require().NoError(err)
	s.Len(docs, 1)
}

func (s *BackendSuite) TestInsertIfAbsentConcurrent() {
	key := store.Key{{Name: "course_id", Value: "c9"}, {Name: "user_id", Value: "u9"}}
	const goroutines = 20

	var (
		mu       sync.Mutex
		ids      = make(map[any]struct{})
		inserted atomic.Int32
	)
	g, ctx := errgroup.WithContext(s.Ctx)
	for range goroutines {
		g.Go(func() error {
			doc := newDoc(document.Document{"course_id": "c9", "user_id": "u9"})
			stored, created, err := s.Backend.InsertIfAbsent(ctx, "enrollment", key, doc)
			if err != nil {
				return err
			}
			if created {
				inserted.Add(1)
			}
			mu.Lock()
			ids[stored[document.IDField]] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), inserted.Load())
	s.Len(ids, 1)
}

func (s *BackendSuite) TestUpsert() {
	key := store.Key{{Name: "assignment_id", Value: "a1"}, {Name: "user_id", Value: "u1"}}
	first := newDoc(document.Document{"assignment_id": "a1", "user_id": "u1", "content": "v1", "grade": nil})
	stored, inserted, err := s.Backend.Upsert(s.Ctx, "submission", key, document.Document{"content": "v1"}, first)
	s.Require().NoError(err)
	s.True(inserted)

	id, _ := stored.ID()
	_, err = s.Backend.Update(s.Ctx, "submission", id, document.Document{"grade": 8.5})
	s.Require().NoError(err)

	second := newDoc(document.Document{"assignment_id": "a1", "user_id": "u1", "content": "v2"})
	updated, inserted, err := s.Backend.Upsert(s.Ctx, "submission", key, document.Document{"content": "v2"}, second)
	s.Require().NoError(err)
	s.False(inserted)
	s.Equal(stored[document.IDField], updated[document.IDField])
	s.Equal("v2", updated["content"])
	s.EqualValues(8.5, updated["grade"])
}

func (s *BackendSuite) TestUpsertConcurrent() {
	key := store.Key{{Name: "assignment_id", Value: "a7"}, {Name: "user_id", Value: "u7"}}
	const goroutines = 20

	var inserted atomic.Int32
	g, ctx := errgroup.WithContext(s.Ctx)
	for i := range goroutines {
		g.Go(func() error {
			content := "v" + string(rune('a'+i))
			doc := newDoc(document.Document{"assignment_id": "a7", "user_id": "u7", "content": content})
			_, created, err := s.Backend.Upsert(ctx, "submission", key, document.Document{"content": content}, doc)
			if created {
				inserted.Add(1)
			}
			return err
		})
	}
	s.Require().NoError(g.Wait())
	s.Equal(int32(1), inserted.Load())

	docs, err := s.Backend.Find(s.Ctx, "submission", store.Query{})
	s.Require().NoError(err)
	s.Len(docs, 1)
}

func (s *BackendSuite) TestUpdate() {
	doc := newDoc(document.Document{"content": "v1"})
	s.Require().NoError(s.Backend.Insert(s.Ctx, "submission", doc))
	id, _ := doc.ID()

	updated, err := s.Backend.Update(s.Ctx, "submission", id, document.Document{"feedback": "nice"})
	s.Require().NoError(err)
	s.Equal("v1", updated["content"])
	s.Equal("nice", updated["feedback"])

	found, err := s.Backend.FindByID(s.Ctx, "submission", id)
	s.Require().NoError(err)
	s.Equal("nice", found["feedback"])

	_, err = s.Backend.Update(s.Ctx, "submission", document.NewID(), document.Document{"feedback": "x"})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *BackendSuite) TestCollectionsAndPing() {
	s.Require().NoError(s.Backend.Insert(s.Ctx, "lesson", newDoc(document.Document{})))
	s.Require().NoError(s.Backend.Insert(s.Ctx, "course", newDoc(document.Document{})))

	names, err := s.Backend.Collections(s.Ctx)
	s.Require().NoError(err)
	s.Contains(names, "course")
	s.Contains(names, "lesson")
	s.NotEmpty(s.Backend.Name())
	s.NoError(s.Backend.Ping(s.Ctx))
}
