// Package durable implements the persisted FIFO both pipeline queues are
// built on.
//
// The in-memory form is a backing slice plus a read offset. Pop advances the
// offset; once offset*2 >= len the consumed prefix is dropped. A snapshot is
// the JSON object {"offset": N, "queue": [...]} written atomically (tmp +
// rename). A missing snapshot means an empty queue; a malformed one is
// logged and ignored.
package durable

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"

	logx "steamwatch/pkg/logx"
)

var ErrClosed = errors.New("durable: queue closed")

type snapshot[T any] struct {
	Offset int `json:"offset"`
	Queue  []T `json:"queue"`
}

// Queue is a persisted FIFO. All methods are safe for concurrent use.
type Queue[T any] struct {
	path string
	log  logx.Logger

	mu     sync.Mutex
	offset int
	items  []T
	closed bool
}

// New creates an empty queue persisted at path. An empty path keeps the
// queue in memory only.
func New[T any](path string, log logx.Logger) *Queue[T] {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue[T]{path: path, log: log}
}

// Load replaces the queue contents with the snapshot on disk.
func (q *Queue[T]) Load() error {
	if q.path == "" {
		return nil
	}
	b, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("durable: read snapshot: %w", err)
	}

	var snap snapshot[T]
	if err := json.Unmarshal(b, &snap); err != nil {
		q.log.Warn("ignoring malformed queue snapshot", logx.String("path", q.path), logx.Err(err))
		return nil
	}
	if snap.Offset < 0 || snap.Offset > len(snap.Queue) {
		q.log.Warn("ignoring queue snapshot with invalid offset",
			logx.String("path", q.path), logx.Int("offset", snap.Offset), logx.Int("len", len(snap.Queue)))
		return nil
	}

	q.mu.Lock()
	q.items = snap.Queue
	q.offset = snap.Offset
	q.compactLocked()
	q.mu.Unlock()
	return nil
}

// Push appends items at the tail.
func (q *Queue[T]) Push(items ...T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, items...)
	return nil
}

// Pop removes and returns the head item.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if q.offset >= len(q.items) {
		return zero, false
	}
	v := q.items[q.offset]
	q.items[q.offset] = zero
	q.offset++
	q.compactLocked()
	return v, true
}

// PopN removes and returns up to n head items.
func (q *Queue[T]) PopN(n int) []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	avail := len(q.items) - q.offset
	if n > avail {
		n = avail
	}
	if n <= 0 {
		return nil
	}
	out := make([]T, n)
	copy(out, q.items[q.offset:q.offset+n])
	var zero T
	for i := q.offset; i < q.offset+n; i++ {
		q.items[i] = zero
	}
	q.offset += n
	q.compactLocked()
	return out
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.offset
}

// Items returns a copy of the pending items in queue order.
func (q *Queue[T]) Items() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items)-q.offset)
	copy(out, q.items[q.offset:])
	return out
}

func (q *Queue[T]) compactLocked() {
	if q.offset == 0 || q.offset*2 < len(q.items) {
		return
	}
	q.items = append([]T(nil), q.items[q.offset:]...)
	q.offset = 0
}

// Snapshot writes the queue to disk.
func (q *Queue[T]) Snapshot() error {
	if q.path == "" {
		return nil
	}
	q.mu.Lock()
	b, err := json.Marshal(snapshot[T]{Offset: q.offset, Queue: q.items})
	q.mu.Unlock()
	if err != nil {
		return fmt.Errorf("durable: encode snapshot: %w", err)
	}
	return writeAtomic(q.path, b)
}

// Close writes a final snapshot and rejects further pushes.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	return q.Snapshot()
}

func writeAtomic(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
