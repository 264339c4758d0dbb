// Package mongodb stores each kind in its own MongoDB collection. Dedup keys
// are backed by unique indexes and the conditional writes are single
// FindOneAndUpdate upserts.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"

	"lms/internal/content/document"
	"lms/internal/content/store"
	"lms/pkg/platform/sentinel"
)

// duplicateKeyRetries bounds how often an upsert that lost a race on a
// unique index is replayed. The replay finds the winner's document.
const duplicateKeyRetries = 3

// MongoStore implements store.Backend on MongoDB.
type MongoStore struct {
	client    *mongo.Client
	db        *mongo.Database
	dedupKeys map[string][]string
}

// Option configures a MongoStore.
type Option func(*MongoStore)

// WithDedupKeys names the fields forming each collection's dedup key.
// EnsureIndexes creates one unique index per entry.
func WithDedupKeys(keys map[string][]string) Option {
	return func(s *MongoStore) {
		s.dedupKeys = keys
	}
}

// NewMongo wraps a connected client.
func NewMongo(client *mongo.Client, database string, opts ...Option) *MongoStore {
	s := &MongoStore{
		client:    client,
		db:        client.Database(database),
		dedupKeys: map[string][]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open connects to uri, verifies the primary is reachable and ensures the
// dedup indexes exist.
func Open(ctx context.Context, uri, database string, opts ...Option) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", classify(err))
	}
	s := NewMongo(client, database, opts...)
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the unique dedup indexes. Existing indexes with the
// same definition are left alone.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	for collection, fields := range s.dedupKeys {
		keys := bson.D{}
		for _, f := range fields {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
		model := mongo.IndexModel{
			Keys:    keys,
			Options: options.Index().SetUnique(true).SetName(strings.Join(fields, "_") + "_unique"),
		}
		if _, err := s.db.Collection(collection).Indexes().CreateOne(ctx, model); err != nil {
			return fmt.Errorf("ensure %s dedup index: %w", collection, classify(err))
		}
	}
	return nil
}

func (s *MongoStore) Insert(ctx context.Context, collection string, doc document.Document) error {
	if _, err := s.db.Collection(collection).InsertOne(ctx, toBSON(doc)); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, classify(err))
	}
	return nil
}

func (s *MongoStore) InsertIfAbsent(ctx context.Context, collection string, key store.Key, doc document.Document) (document.Document, bool, error) {
	update := bson.M{"$setOnInsert": toBSON(doc)}
	return s.upsert(ctx, collection, key, update, doc)
}

func (s *MongoStore) Upsert(ctx context.Context, collection string, key store.Key, set, doc document.Document) (document.Document, bool, error) {
	onInsert := toBSON(doc)
	for name := range set {
		delete(onInsert, name)
	}
	update := bson.M{"$set": toBSON(set), "$setOnInsert": onInsert}
	return s.upsert(ctx, collection, key, update, doc)
}

func (s *MongoStore) upsert(ctx context.Context, collection string, key store.Key, update bson.M, doc document.Document) (document.Document, bool, error) {
	id, _ := doc.ID()
	filter := keyFilter(key)
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var err error
	for range duplicateKeyRetries {
		var raw bson.M
		err = s.db.Collection(collection).FindOneAndUpdate(ctx, filter, update, opts).Decode(&raw)
		if mongo.IsDuplicateKeyError(err) {
			continue
		}
		if err != nil {
			break
		}
		stored := fromBSON(raw)
		storedID, _ := stored.ID()
		return stored, storedID == id, nil
	}
	return nil, false, fmt.Errorf("upsert into %s: %w", collection, classify(err))
}

func (s *MongoStore) FindByID(ctx context.Context, collection string, id document.ID) (document.Document, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{document.IDField: id.ObjectID()}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s by id: %w", collection, classify(err))
	}
	return fromBSON(raw), nil
}

func (s *MongoStore) Find(ctx context.Context, collection string, q store.Query) ([]document.Document, error) {
	filter, err := queryFilter(q.Conditions)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(querySort(q.SortBy))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, classify(err))
	}
	defer cursor.Close(ctx)

	docs := make([]document.Document, 0)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", collection, err)
		}
		docs = append(docs, fromBSON(raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", collection, classify(err))
	}
	return docs, nil
}

func (s *MongoStore) Update(ctx context.Context, collection string, id document.ID, set document.Document) (document.Document, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var raw bson.M
	err := s.db.Collection(collection).FindOneAndUpdate(ctx,
		bson.M{document.IDField: id.ObjectID()},
		bson.M{"$set": toBSON(set)},
		opts,
	).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", collection, classify(err))
	}
	return fromBSON(raw), nil
}

// Collections lists the database's collections, sorted.
func (s *MongoStore) Collections(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", classify(err))
	}
	slices.Sort(names)
	return names, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", classify(err))
	}
	return nil
}

func (s *MongoStore) Name() string {
	return s.db.Name()
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func keyFilter(key store.Key) bson.D {
	filter := make(bson.D, 0, len(key))
	for _, f := range key {
		filter = append(filter, bson.E{Key: f.Name, Value: f.Value})
	}
	return filter
}

// queryFilter renders conditions as a filter document. Equality on an array
// field matches membership natively. Substring input is quoted so it matches
// literally.
func queryFilter(conds []store.Condition) (bson.D, error) {
	filter := bson.D{}
	for _, c := range conds {
		switch c.Op {
		case store.OpEqual:
			filter = append(filter, bson.E{Key: c.Field, Value: c.Value})
		case store.OpContainsFold:
			sub, _ := c.Value.(string)
			filter = append(filter, bson.E{Key: c.Field, Value: primitive.Regex{Pattern: regexp.QuoteMeta(sub), Options: "i"}})
		default:
			return nil, fmt.Errorf("unsupported filter operator %d", c.Op)
		}
	}
	return filter, nil
}

// querySort orders by the sort key, then by _id. Identifiers are generated in
// creation order, so _id alone reproduces insertion order.
func querySort(sortBy string) bson.D {
	if sortBy == "" {
		return bson.D{{Key: document.IDField, Value: 1}}
	}
	return bson.D{{Key: sortBy, Value: 1}, {Key: document.IDField, Value: 1}}
}

func toBSON(doc document.Document) bson.M {
	out := make(bson.M, len(doc))
	for k, v := range doc {
		if id, ok := v.(document.ID); ok {
			out[k] = id.ObjectID()
			continue
		}
		out[k] = v
	}
	return out
}

func fromBSON(raw bson.M) document.Document {
	doc := make(document.Document, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case primitive.ObjectID:
			doc[k] = document.ID(t)
		case primitive.A:
			doc[k] = []any(t)
		default:
			doc[k] = v
		}
	}
	return doc
}

// classify maps driver errors onto storage sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var selection topology.ServerSelectionError
	switch {
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
	case mongo.IsNetworkError(err),
		mongo.IsTimeout(err),
		errors.Is(err, mongo.ErrClientDisconnected),
		errors.As(err, &selection):
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}

var _ store.Backend = (*MongoStore)(nil)
