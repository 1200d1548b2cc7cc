package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Store is the durable set of identifiers already sent.
//
// Insert is a set-add: inserting an identifier that is already present is not
// an error and does not change membership. List returns identifiers in
// insertion order.
type Store interface {
	Contains(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, ids ...string) error
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or empty): SQLite database file
//   - "file": append-only journal (<prefix>.sent.jsonl)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
