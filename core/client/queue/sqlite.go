package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the queue to a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS offline_requests (
        id TEXT PRIMARY KEY,
        method TEXT,
        endpoint TEXT,
        payload BLOB,
        enqueued_at INTEGER,
        retries INTEGER
    );`
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, req Request) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO offline_requests (id, method, endpoint, payload, enqueued_at, retries)
         VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.Method, req.Endpoint, []byte(req.Payload), req.EnqueuedAt.UnixNano(), req.Retries)
	return err
}

func (s *SQLiteStore) List(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, method, endpoint, payload, enqueued_at, retries
         FROM offline_requests ORDER BY enqueued_at`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []Request
	for rows.Next() {
		var r Request
		var payload []byte
		var enq int64
		if err := rows.Scan(&r.ID, &r.Method, &r.Endpoint, &payload, &enq, &r.Retries); err != nil {
			return nil, err
		}
		r.Payload = payload
		r.EnqueuedAt = unixNano(enq)
		res = append(res, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SQLiteStore) Update(ctx context.Context, req Request) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE offline_requests SET retries = ? WHERE id = ?`, req.Retries, req.ID)
	return err
}

func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_requests WHERE id = ?`, id)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func unixNano(n int64) time.Time { return time.Unix(0, n) }

