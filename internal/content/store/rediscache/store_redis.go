// Package rediscache decorates a store.Backend with a Redis read-through
// cache for lookups by identifier. The cache is optional: any Redis failure
// falls back to the wrapped backend, and repeated failures trip a breaker so
// an outage costs one timeout, not one per request.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"lms/internal/content/document"
	"lms/internal/content/store"
	"lms/pkg/platform/circuit"
)

const (
	DefaultTTL       = 5 * time.Minute
	keyPrefix        = "lms:doc:"
	generationPrefix = "lms:gen:"
)

// KEYS[1] entry, KEYS[2] generation; ARGV[1] generation seen on the miss,
// ARGV[2] payload, ARGV[3] ttl in milliseconds.
var fillScript = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '') ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// KEYS[1] entry, KEYS[2] generation; ARGV[1] generation ttl in milliseconds.
var evictScript = redis.NewScript(`
redis.call('INCR', KEYS[2])
redis.call('PEXPIRE', KEYS[2], ARGV[1])
return redis.call('DEL', KEYS[1])
`)

// CachedStore caches FindByID results. Writes go to the wrapped backend
// first; the cached copy of a modified document is then evicted.
type CachedStore struct {
	store.Backend
	client  redis.Cmdable
	ttl     time.Duration
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// Option configures a CachedStore.
type Option func(*CachedStore)

func WithTTL(ttl time.Duration) Option {
	return func(s *CachedStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *CachedStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *CachedStore) {
		if b != nil {
			s.breaker = b
		}
	}
}

// New wraps backend. The Redis client stays owned by the caller.
func New(backend store.Backend, client redis.Cmdable, opts ...Option) (*CachedStore, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &CachedStore{
		Backend: backend,
		client:  client,
		ttl:     DefaultTTL,
		breaker: circuit.New("redis-cache"),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *CachedStore) FindByID(ctx context.Context, collection string, id document.ID) (document.Document, error) {
	key := cacheKey(collection, id)
	doc, gen, ok := s.lookup(ctx, key)
	if ok {
		return doc, nil
	}
	doc, err := s.Backend.FindByID(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if gen != nil {
		s.fill(ctx, key, *gen, doc)
	}
	return doc, nil
}

func (s *CachedStore) Update(ctx context.Context, collection string, id document.ID, set document.Document) (document.Document, error) {
	doc, err := s.Backend.Update(ctx, collection, id, set)
	if err != nil {
		return nil, err
	}
	s.evict(ctx, cacheKey(collection, id))
	return doc, nil
}

func (s *CachedStore) Upsert(ctx context.Context, collection string, key store.Key, set, doc document.Document) (document.Document, bool, error) {
	stored, inserted, err := s.Backend.Upsert(ctx, collection, key, set, doc)
	if err != nil {
		return nil, false, err
	}
	if id, ok := stored.ID(); ok && !inserted {
		s.evict(ctx, cacheKey(collection, id))
	}
	return stored, inserted, nil
}

// lookup reads the entry and its generation in one round trip. On a miss the
// generation is returned so the later fill can detect an intervening evict;
// a nil generation means the fill must be skipped.
func (s *CachedStore) lookup(ctx context.Context, key string) (document.Document, *string, bool) {
	if !s.breaker.Allow() {
		return nil, nil, false
	}
	vals, err := s.client.MGet(ctx, key, generationKey(key)).Result()
	if err != nil || len(vals) != 2 {
		if err == nil {
			err = fmt.Errorf("mget returned %d values", len(vals))
		}
		s.failed(ctx, "mget", key, err)
		return nil, nil, false
	}
	s.breaker.RecordSuccess()
	gen, _ := vals[1].(string)
	raw, hit := vals[0].(string)
	if !hit {
		return nil, &gen, false
	}
	doc, err := decodeEntry([]byte(raw))
	if err != nil {
		s.logger.WarnContext(ctx, "discarding unreadable cache entry", "key", key, "error", err)
		s.evict(ctx, key)
		return nil, nil, false
	}
	return doc, nil, true
}

// fill stores doc only if the generation still matches the one seen on the
// miss. An evict between the miss and the fill bumps the generation, so a
// read that raced a write cannot cache the pre-write copy.
func (s *CachedStore) fill(ctx context.Context, key, gen string, doc document.Document) {
	if !s.breaker.Allow() {
		return
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		s.logger.WarnContext(ctx, "document not cacheable", "key", key, "error", err)
		return
	}
	stored, err := fillScript.Run(ctx, s.client, []string{key, generationKey(key)}, gen, raw, s.ttl.Milliseconds()).Int()
	if err != nil {
		s.failed(ctx, "fill", key, err)
		return
	}
	s.breaker.RecordSuccess()
	if stored == 0 {
		s.logger.DebugContext(ctx, "cache fill skipped after concurrent write", "key", key)
	}
}

// evict runs even while the breaker is open; a stale entry outliving an
// outage would otherwise be served once Redis returns.
func (s *CachedStore) evict(ctx context.Context, key string) {
	err := evictScript.Run(ctx, s.client, []string{key, generationKey(key)}, generationTTL(s.ttl).Milliseconds()).Err()
	if err != nil {
		s.failed(ctx, "evict", key, err)
		return
	}
	s.breaker.RecordSuccess()
}

func (s *CachedStore) failed(ctx context.Context, op, key string, err error) {
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.WarnContext(ctx, "redis cache disabled after repeated failures", "op", op, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "redis cache operation failed", "op", op, "key", key, "error", err)
}

func cacheKey(collection string, id document.ID) string {
	return keyPrefix + collection + ":" + id.String()
}

func generationKey(key string) string {
	return generationPrefix + key
}

// generationTTL keeps the counter alive well past any in-flight read. An
// expired counter reads as empty, which never matches a bumped value.
func generationTTL(ttl time.Duration) time.Duration {
	return max(2*ttl, time.Hour)
}

// decodeEntry reverses json.Marshal of a document. JSON loses Go types, so
// the identifier is parsed back and the rest is left for document.Restore.
func decodeEntry(raw []byte) (document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	rawID, _ := doc[document.IDField].(string)
	id, err := document.ParseID(rawID)
	if err != nil {
		return nil, fmt.Errorf("cache entry identifier: %w", err)
	}
	doc[document.IDField] = id
	return doc, nil
}

var _ store.Backend = (*CachedStore)(nil)
