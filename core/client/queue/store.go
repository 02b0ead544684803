// Package queue persists write requests made while both servers were
// unreachable until they are delivered or abandoned.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Request is one queued write. Payload is kept as raw JSON so the flusher
// can replay it byte-for-byte.
type Request struct {
	ID         string          `json:"id"`
	Method     string          `json:"method"`
	Endpoint   string          `json:"endpoint"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Retries    int             `json:"retries"`
}

// Store persists queued requests in FIFO order.
type Store interface {
	Append(ctx context.Context, req Request) error
	// List returns all pending requests, oldest first.
	List(ctx context.Context) ([]Request, error)
	// Update rewrites the stored request matching req.ID.
	Update(ctx context.Context, req Request) error
	Remove(ctx context.Context, id string) error
	Close() error
}

// NewStore opens the backend selected by name: "jsonl" or "sqlite".
func NewStore(backend, path string) (Store, error) {
	switch backend {
	case "jsonl":
		return NewJSONLStore(path)
	case "sqlite":
		return NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unknown queue backend %s", backend)
	}
}
