package session

import (
	"context"
	"errors"
	"time"

	"github.com/toolrelay/toolrelay/internal/schema"
)

// ErrNotFound is returned for an unknown session id.
var ErrNotFound = errors.New("session: not found")

// Record is an archived conversation.
type Record struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	EndedAt   time.Time    `json:"endedAt"`
	Turns     schema.Turns `json:"turns"`
}

// Summary describes an archived conversation without its turns.
type Summary struct {
	ID        string
	CreatedAt time.Time
	EndedAt   time.Time
	Turns     int
}

// Store keeps finished conversations.
type Store interface {
	Archive(ctx context.Context, rec Record) error
	Load(ctx context.Context, id string) (Record, error)
	// List returns the newest archives first; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]Summary, error)
	Close() error
}

// NopStore discards archives.
type NopStore struct{}

func (NopStore) Archive(context.Context, Record) error { return nil }

func (NopStore) Load(context.Context, string) (Record, error) { return Record{}, ErrNotFound }

func (NopStore) List(context.Context, int) ([]Summary, error) { return nil, nil }

func (NopStore) Close() error { return nil }
