// Package blob stores compressed context bodies outside the database.
package blob

import (
	"context"
	"errors"
)

var (
	ErrDisabled = errors.New("blob store disabled")
	ErrNotFound = errors.New("blob not found")
)

type Store interface {
	Enabled() bool
	Put(ctx context.Context, key string, body []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Noop is used when no bucket is configured; artifacts keep their text
// inline.
type Noop struct{}

func (Noop) Enabled() bool { return false }

func (Noop) Put(context.Context, string, []byte, string) error { return ErrDisabled }

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrDisabled }
