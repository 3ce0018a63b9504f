package storage

import (
	"errors"
	"time"

	"steamwatch/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound
	ErrClosed   = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): Path is the database file
//   - "postgres": DSN is a pgx connection string
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means 5s
	MaxOpenConns int           // postgres only; 0 means 8
}
