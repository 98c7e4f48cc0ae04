package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pumpledger/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	version BIGINT NOT NULL DEFAULT 1,
	body JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_body_gin ON documents USING GIN (body jsonb_path_ops);
`

// Store keeps every collection in one JSONB documents table. Transactions run
// at SERIALIZABLE isolation and are retried when Postgres reports a
// serialization failure, which gives the same optimistic contract as the
// in-memory store.
type Store struct {
	db          *sql.DB
	maxAttempts int
}

func New(ctx context.Context, databaseURL string, maxAttempts int) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate documents table: %w", err)
	}

	if maxAttempts < 1 {
		maxAttempts = store.DefaultMaxAttempts
	}
	return &Store{db: db, maxAttempts: maxAttempts}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	return get(ctx, s.db, c, id)
}

func (s *Store) Find(ctx context.Context, c store.Collection, q store.Query) ([]store.Document, error) {
	return find(ctx, s.db, c, q)
}

func (s *Store) Batch(ctx context.Context, writes []store.Write) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, w := range writes {
		if w.Value == nil {
			err = del(ctx, tx, w.Collection, w.ID)
		} else {
			err = put(ctx, tx, w.Collection, w.ID, w.Value)
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", store.ErrConflict, s.maxAttempts, lastErr)
}

func (s *Store) runOnce(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type tx struct {
	q queryer
}

func (t *tx) Get(ctx context.Context, c store.Collection, id string) (store.Document, error) {
	return get(ctx, t.q, c, id)
}

func (t *tx) Find(ctx context.Context, c store.Collection, q store.Query) ([]store.Document, error) {
	return find(ctx, t.q, c, q)
}

func (t *tx) Put(ctx context.Context, c store.Collection, id string, value any) error {
	return put(ctx, t.q, c, id, value)
}

func (t *tx) Delete(ctx context.Context, c store.Collection, id string) error {
	return del(ctx, t.q, c, id)
}

func get(ctx context.Context, q queryer, c store.Collection, id string) (store.Document, error) {
	doc := store.Document{ID: id}
	err := q.QueryRowContext(ctx, `
		SELECT version, body
		FROM documents
		WHERE collection = $1 AND id = $2
	`, string(c), id).Scan(&doc.Version, &doc.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, store.ErrNotFound
		}
		return store.Document{}, err
	}
	return doc, nil
}

func find(ctx context.Context, q queryer, c store.Collection, query store.Query) ([]store.Document, error) {
	sqlText, args := buildFind(c, query)
	rows, err := q.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := make([]store.Document, 0, 32)
	for rows.Next() {
		var doc store.Document
		if err := rows.Scan(&doc.ID, &doc.Version, &doc.Data); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func buildFind(c store.Collection, query store.Query) (string, []any) {
	var b strings.Builder
	args := []any{string(c)}
	b.WriteString("SELECT id, version, body FROM documents WHERE collection = $1")
	for _, f := range query.Filters {
		args = append(args, f.Field, f.Value)
		fmt.Fprintf(&b, " AND body ->> $%d = $%d", len(args)-1, len(args))
	}
	if query.OrderBy != "" {
		args = append(args, query.OrderBy)
		direction := "ASC"
		if query.Desc {
			direction = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY COALESCE((body ->> $%d)::numeric, 0) %s, id ASC", len(args), direction)
	} else {
		b.WriteString(" ORDER BY id ASC")
	}
	if query.Limit > 0 {
		args = append(args, query.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func put(ctx context.Context, q queryer, c store.Collection, id string, value any) error {
	data, err := store.Encode(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", c, id, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO documents (collection, id, version, body, updated_at)
		VALUES ($1, $2, 1, $3::jsonb, now())
		ON CONFLICT (collection, id)
		DO UPDATE SET body = EXCLUDED.body, version = documents.version + 1, updated_at = now()
	`, string(c), id, string(data))
	return err
}

func del(ctx context.Context, q queryer, c store.Collection, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, string(c), id)
	return err
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
