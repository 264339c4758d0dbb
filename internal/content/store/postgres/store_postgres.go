// Package postgres stores documents as JSONB rows in a single table keyed by
// (collection, id). Dedup keys are enforced by a partial unique index, so the
// conditional writes are single INSERT ... ON CONFLICT statements.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"lms/internal/content/document"
	"lms/internal/content/store"
	"lms/pkg/platform/sentinel"
	txcontext "lms/pkg/platform/tx"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS documents (
	seq        BIGSERIAL,
	collection TEXT  NOT NULL,
	id         TEXT  NOT NULL,
	dedup_key  TEXT,
	body       JSONB NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_dedup_key_idx
	ON documents (collection, dedup_key) WHERE dedup_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS documents_collection_seq_idx
	ON documents (collection, seq);
`

const uniqueViolation = "23505"

// PostgresStore implements store.Backend on PostgreSQL.
type PostgresStore struct {
	db        *sql.DB
	name      string
	dedupKeys map[string][]string
}

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithDedupKeys names the fields forming each collection's dedup key. Plain
// inserts into these collections also claim the key.
func WithDedupKeys(keys map[string][]string) Option {
	return func(s *PostgresStore) {
		s.dedupKeys = keys
	}
}

// WithName overrides the reported database name.
func WithName(name string) Option {
	return func(s *PostgresStore) {
		if name != "" {
			s.name = name
		}
	}
}

// NewPostgres wraps an open database handle.
func NewPostgres(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{
		db:        db,
		name:      "postgres",
		dedupKeys: map[string][]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Open connects to dsn, verifies reachability, and creates the documents
// table when missing.
func Open(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	var name string
	if err := db.QueryRowContext(ctx, `SELECT current_database()`).Scan(&name); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect postgres: %w", classify(err))
	}
	s := NewPostgres(db, append([]Option{WithName(name)}, opts...)...)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the documents table and its indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure documents schema: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) conn(ctx context.Context) txcontext.Querier {
	return txcontext.Conn(ctx, s.db)
}

func (s *PostgresStore) Insert(ctx context.Context, collection string, doc document.Document) error {
	id, body, err := encodeRow(doc)
	if err != nil {
		return err
	}
	_, err = s.conn(ctx).ExecContext(ctx,
		`INSERT INTO documents (collection, id, dedup_key, body) VALUES ($1, $2, $3, $4)`,
		collection, id, s.dedupKeyOf(collection, doc), body)
	if err != nil {
		return fmt.Errorf("insert into %s: %w", collection, classify(err))
	}
	return nil
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, collection string, key store.Key, doc document.Document) (document.Document, bool, error) {
	id, body, err := encodeRow(doc)
	if err != nil {
		return nil, false, err
	}
	var raw []byte
	err = s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, dedup_key, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, dedup_key) WHERE dedup_key IS NOT NULL DO NOTHING
		RETURNING body`,
		collection, id, key.String(), body).Scan(&raw)
	if err == nil {
		stored, err := decodeRow(id, raw)
		return stored, true, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("insert if absent into %s: %w", collection, classify(err))
	}

	// The conflicting row is committed by the time DO NOTHING returns.
	var existingID string
	err = s.conn(ctx).QueryRowContext(ctx,
		`SELECT id, body FROM documents WHERE collection = $1 AND dedup_key = $2`,
		collection, key.String()).Scan(&existingID, &raw)
	if err != nil {
		return nil, false, fmt.Errorf("load existing %s: %w", collection, classify(err))
	}
	stored, err := decodeRow(existingID, raw)
	return stored, false, err
}

func (s *PostgresStore) Upsert(ctx context.Context, collection string, key store.Key, set, doc document.Document) (document.Document, bool, error) {
	id, body, err := encodeRow(doc)
	if err != nil {
		return nil, false, err
	}
	patch, err := json.Marshal(jsonbFields(set))
	if err != nil {
		return nil, false, fmt.Errorf("encode %s update: %w", collection, err)
	}
	var (
		storedID string
		raw      []byte
		inserted bool
	)
	err = s.conn(ctx).QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, dedup_key, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, dedup_key) WHERE dedup_key IS NOT NULL
		DO UPDATE SET body = documents.body || $5::jsonb
		RETURNING id, body, (xmax = 0)`,
		collection, id, key.String(), body, patch).Scan(&storedID, &raw, &inserted)
	if err != nil {
		return nil, false, fmt.Errorf("upsert into %s: %w", collection, classify(err))
	}
	stored, err := decodeRow(storedID, raw)
	return stored, inserted, err
}

func (s *PostgresStore) FindByID(ctx context.Context, collection string, id document.ID) (document.Document, error) {
	var raw []byte
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = $1 AND id = $2`,
		collection, id.String()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find %s by id: %w", collection, classify(err))
	}
	return decodeRow(id.String(), raw)
}

func (s *PostgresStore) Find(ctx context.Context, collection string, q store.Query) ([]document.Document, error) {
	query, args, err := buildFind(collection, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, classify(err))
	}
	defer rows.Close()

	docs := make([]document.Document, 0)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", collection, err)
		}
		doc, err := decodeRow(id, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", collection, classify(err))
	}
	return docs, nil
}

// Update merges set into one row under a row lock. The dedup key is
// recomputed so a changed key field keeps the unique index honest.
func (s *PostgresStore) Update(ctx context.Context, collection string, id document.ID, set document.Document) (document.Document, error) {
	var merged document.Document
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		var raw []byte
		err := s.conn(ctx).QueryRowContext(ctx,
			`SELECT body FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`,
			collection, id.String()).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return sentinel.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock %s: %w", collection, classify(err))
		}
		current, err := decodeRow(id.String(), raw)
		if err != nil {
			return err
		}
		merged = current.Merge(set)
		_, body, err := encodeRow(merged)
		if err != nil {
			return err
		}
		_, err = s.conn(ctx).ExecContext(ctx,
			`UPDATE documents SET body = $3, dedup_key = $4 WHERE collection = $1 AND id = $2`,
			collection, id.String(), body, s.dedupKeyOf(collection, merged))
		if err != nil {
			return classify(err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update %s: %w", collection, classify(err))
	}
	return merged, nil
}

// Collections lists collections holding at least one document, sorted.
func (s *PostgresStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", classify(err))
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list collections: %w", classify(err))
	}
	return names, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) Name() string {
	return s.name
}

func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *PostgresStore) dedupKeyOf(collection string, doc document.Document) sql.NullString {
	fields, ok := s.dedupKeys[collection]
	if !ok || len(fields) == 0 {
		return sql.NullString{}
	}
	key := make(store.Key, 0, len(fields))
	for _, name := range fields {
		if doc[name] == nil {
			return sql.NullString{}
		}
		key = append(key, store.KeyField{Name: name, Value: doc[name]})
	}
	return sql.NullString{String: key.String(), Valid: true}
}

// buildFind renders a Query as SQL. Field names and values travel as
// parameters; only placeholders are spliced into the text.
func buildFind(collection string, q store.Query) (string, []any, error) {
	var sb strings.Builder
	args := []any{collection}
	next := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	sb.WriteString(`SELECT id, body FROM documents WHERE collection = $1`)
	for _, c := range q.Conditions {
		field := next(c.Field)
		switch c.Op {
		case store.OpEqual:
			value, err := json.Marshal(jsonbValue(c.Value))
			if err != nil {
				return "", nil, fmt.Errorf("encode filter on %s: %w", c.Field, err)
			}
			v := next(string(value))
			fmt.Fprintf(&sb, ` AND (body -> %[1]s::text = %[2]s::jsonb OR (jsonb_typeof(body -> %[1]s::text) = 'array' AND body -> %[1]s::text @> jsonb_build_array(%[2]s::jsonb)))`, field, v)
		case store.OpContainsFold:
			sub, _ := c.Value.(string)
			fmt.Fprintf(&sb, ` AND body ->> %s::text ILIKE %s`, field, next("%"+escapeLike(sub)+"%"))
		default:
			return "", nil, fmt.Errorf("unsupported filter operator %d", c.Op)
		}
	}
	sb.WriteString(` ORDER BY `)
	if q.SortBy != "" {
		fmt.Fprintf(&sb, `body -> %s::text ASC NULLS FIRST, `, next(q.SortBy))
	}
	sb.WriteString(`seq ASC`)
	if q.Limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT %s`, next(q.Limit))
	}
	return sb.String(), args, nil
}

// escapeLike makes s match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func encodeRow(doc document.Document) (string, []byte, error) {
	id, ok := doc.ID()
	if !ok {
		return "", nil, errors.New("document has no identifier")
	}
	body := jsonbFields(doc)
	delete(body, document.IDField)
	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, fmt.Errorf("encode document %s: %w", id, err)
	}
	return id.String(), raw, nil
}

// storedTimeLayout is fixed width and always UTC, so JSONB text ordering of
// timestamps matches chronological ordering.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// jsonbFields copies doc with timestamps in storedTimeLayout.
func jsonbFields(doc document.Document) document.Document {
	out := make(document.Document, len(doc))
	for k, v := range doc {
		out[k] = jsonbValue(v)
	}
	return out
}

func jsonbValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(storedTimeLayout)
	}
	return v
}

func decodeRow(rawID string, raw []byte) (document.Document, error) {
	id, err := document.ParseID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored identifier %q: %w", rawID, err)
	}
	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", rawID, err)
	}
	if doc == nil {
		doc = document.Document{}
	}
	doc[document.IDField] = id
	return doc, nil
}

// classify maps driver errors onto storage sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == uniqueViolation:
			return fmt.Errorf("%w: %w", sentinel.ErrConflict, err)
		case pqErr.Code.Class() == "08", pqErr.Code == "57P01", pqErr.Code == "57P03":
			return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", sentinel.ErrUnavailable, err)
	}
	return err
}

var _ store.Backend = (*PostgresStore)(nil)
