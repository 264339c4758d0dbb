package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"lms/internal/content/document"
	"lms/internal/content/metrics"
	"lms/internal/content/schema"
	dErrors "lms/pkg/domain-errors"
	"lms/pkg/platform/sentinel"
	"lms/pkg/requestcontext"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Adapter maps typed entities onto a Backend, one collection per kind. It owns
// identifier generation and the created_at/updated_at envelope, and it hands
// callers decoded views, never stored documents.
type Adapter struct {
	backend      Backend
	defaultLimit int
	maxLimit     int
	metrics      *metrics.Metrics
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLimits overrides the default and maximum list sizes.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(a *Adapter) {
		if defaultLimit > 0 {
			a.defaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			a.maxLimit = maxLimit
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Adapter) {
		a.metrics = m
	}
}

// New builds an adapter over backend.
func New(backend Backend, opts ...Option) (*Adapter, error) {
	if backend == nil {
		return nil, errors.New("document backend is required")
	}
	a := &Adapter{
		backend:      backend,
		defaultLimit: DefaultLimit,
		maxLimit:     MaxLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.defaultLimit > a.maxLimit {
		a.defaultLimit = a.maxLimit
	}
	return a, nil
}

// Create validates e, assigns a fresh identifier and persists the document.
func (a *Adapter) Create(ctx context.Context, e document.Entity) (id document.ID, err error) {
	defer a.observe("create", time.Now(), &err)

	doc, err := a.prepare(ctx, e)
	if err != nil {
		return document.ID{}, err
	}
	id, _ = doc.ID()
	if err := a.backend.Insert(ctx, e.Kind().Collection(), doc); err != nil {
		return document.ID{}, translate(err, "create "+e.Kind().String())
	}
	return id, nil
}

// Get returns the view of the document with the given identifier, or a nil
// view when there is none. A malformed identifier fails before any storage call.
func (a *Adapter) Get(ctx context.Context, kind schema.Kind, rawID string) (view document.View, err error) {
	defer a.observe("get", time.Now(), &err)

	if _, err := schema.Describe(kind); err != nil {
		return nil, err
	}
	id, err := document.ParseID(rawID)
	if err != nil {
		return nil, err
	}
	doc, err := a.backend.FindByID(ctx, kind.Collection(), id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, translate(err, "get "+kind.String())
	}
	return a.render(kind, doc)
}

// List returns at most limit views matching filter. limit <= 0 selects the
// default; larger values are capped. Results follow insertion order unless the
// filter or the kind's schema names a sort key.
func (a *Adapter) List(ctx context.Context, kind schema.Kind, filter Filter, limit int) (views []document.View, err error) {
	defer a.observe("list", time.Now(), &err)

	def, err := schema.Describe(kind)
	if err != nil {
		return nil, err
	}
	for _, c := range filter.Conditions {
		if err := checkQueryField(def, c.Field); err != nil {
			return nil, err
		}
	}
	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = def.SortKey
	} else if err := checkQueryField(def, sortBy); err != nil {
		return nil, err
	}

	docs, err := a.backend.Find(ctx, kind.Collection(), Query{
		Conditions: filter.Conditions,
		SortBy:     sortBy,
		Limit:      a.clampLimit(limit),
	})
	if err != nil {
		return nil, translate(err, "list "+kind.String())
	}
	views = make([]document.View, 0, len(docs))
	for _, doc := range docs {
		view, err := a.render(kind, doc)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Update merges partial into the stored document in place. The identifier and
// omitted fields are untouched.
func (a *Adapter) Update(ctx context.Context, kind schema.Kind, rawID string, partial document.Fields) (view document.View, err error) {
	defer a.observe("update", time.Now(), &err)

	id, err := document.ParseID(rawID)
	if err != nil {
		return nil, err
	}
	set, err := document.EncodePartial(kind, partial)
	if err != nil {
		return nil, err
	}
	set[document.UpdatedAtField] = requestcontext.Now(ctx).UTC()

	doc, err := a.backend.Update(ctx, kind.Collection(), id, set)
	if err != nil {
		return nil, translate(err, "update "+kind.String())
	}
	return a.render(kind, doc)
}

// CreateOrGet stores e unless a document with the same dedup key exists, in
// which case that document is returned untouched. created reports which
// happened. Concurrent calls with one key leave exactly one document.
func (a *Adapter) CreateOrGet(ctx context.Context, e document.Entity) (view document.View, created bool, err error) {
	defer a.observe("create_or_get", time.Now(), &err)

	def, err := schema.Describe(e.Kind())
	if err != nil {
		return nil, false, err
	}
	doc, err := a.prepare(ctx, e)
	if err != nil {
		return nil, false, err
	}
	key, err := dedupKey(def, doc)
	if err != nil {
		return nil, false, err
	}
	stored, created, err := a.backend.InsertIfAbsent(ctx, e.Kind().Collection(), key, doc)
	if err != nil {
		return nil, false, translate(err, "create or get "+e.Kind().String())
	}
	view, err = a.render(e.Kind(), stored)
	return view, created, err
}

// Upsert stores e, or, when a document with the same dedup key exists,
// overwrites the replace fields of that document in place and keeps its
// identifier. Replace fields omitted by e are cleared.
func (a *Adapter) Upsert(ctx context.Context, e document.Entity, replace []string) (view document.View, created bool, err error) {
	defer a.observe("upsert", time.Now(), &err)

	def, err := schema.Describe(e.Kind())
	if err != nil {
		return nil, false, err
	}
	for _, name := range replace {
		if _, ok := def.Field(name); !ok || slices.Contains(def.DedupKey, name) {
			return nil, false, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("field %q cannot be replaced on %s", name, e.Kind()))
		}
	}
	doc, err := a.prepare(ctx, e)
	if err != nil {
		return nil, false, err
	}
	key, err := dedupKey(def, doc)
	if err != nil {
		return nil, false, err
	}
	set := doc.Pick(replace...)
	set[document.UpdatedAtField] = doc[document.UpdatedAtField]

	stored, created, err := a.backend.Upsert(ctx, e.Kind().Collection(), key, set, doc)
	if err != nil {
		return nil, false, translate(err, "upsert "+e.Kind().String())
	}
	view, err = a.render(e.Kind(), stored)
	return view, created, err
}

// Collections lists the collections present in the backing store.
func (a *Adapter) Collections(ctx context.Context) ([]string, error) {
	names, err := a.backend.Collections(ctx)
	if err != nil {
		return nil, translate(err, "list collections")
	}
	return names, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.backend.Ping(ctx); err != nil {
		return translate(err, "ping")
	}
	return nil
}

// Name identifies the backing database.
func (a *Adapter) Name() string {
	return a.backend.Name()
}

func (a *Adapter) prepare(ctx context.Context, e document.Entity) (document.Document, error) {
	doc, err := document.Encode(e)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	doc[document.IDField] = document.NewID()
	doc[document.CreatedAtField] = now
	doc[document.UpdatedAtField] = now
	return doc, nil
}

func (a *Adapter) render(kind schema.Kind, doc document.Document) (document.View, error) {
	restored, err := document.Restore(kind, doc)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "stored document is malformed")
	}
	return document.Decode(restored), nil
}

func (a *Adapter) clampLimit(limit int) int {
	if limit <= 0 {
		return a.defaultLimit
	}
	if limit > a.maxLimit {
		return a.maxLimit
	}
	return limit
}

func (a *Adapter) observe(operation string, start time.Time, errp *error) {
	if a.metrics == nil {
		return
	}
	a.metrics.ObserveStoreOperation(operation, time.Since(start))
	if errp != nil && *errp != nil {
		a.metrics.IncrementStoreErrors(operation, string(dErrors.CodeOf(*errp)))
	}
}

func dedupKey(def schema.Definition, doc document.Document) (Key, error) {
	if len(def.DedupKey) == 0 {
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("%s has no dedup key", def.Kind))
	}
	key := make(Key, 0, len(def.DedupKey))
	for _, name := range def.DedupKey {
		key = append(key, KeyField{Name: name, Value: doc[name]})
	}
	return key, nil
}

func checkQueryField(def schema.Definition, name string) error {
	switch name {
	case document.CreatedAtField, document.UpdatedAtField:
		return nil
	}
	if _, ok := def.Field(name); !ok {
		return dErrors.Validation(name, "is not a queryable field of "+def.Kind.String())
	}
	return nil
}

// translate turns backend storage facts into coded domain errors.
func translate(err error, op string) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, op+": document not found")
	case errors.Is(err, sentinel.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, op+": storage unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, op+" failed")
	}
}
