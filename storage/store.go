package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrValueTooLarge = errors.New("value is larger than the store")
	ErrClosed        = errors.New("store is closed")
)

type Stats struct {
	Keys      int    `json:"keys"`
	Bytes     int    `json:"bytes"`
	MaxBytes  int    `json:"maxBytes"`
	Evictions uint64 `json:"evictions"`
}

type Store interface {
	Set(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)

	Restore(snapshot []byte) error
	Backup() ([]byte, error)

	Stats() Stats
	MaxValueSize() int

	Close() error
}
