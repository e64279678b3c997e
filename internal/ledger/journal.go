// ABOUTME: Asynchronous journal that queues ledger entries for a single writer goroutine
// ABOUTME: Append never blocks the caller; entries are dropped when the queue is full

package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBufferSize = 256
	writeTimeout      = 5 * time.Second
)

// Journal queues entries and writes them to a Store in order.
type Journal struct {
	store  *Store
	queue  chan Entry
	done   chan struct{}
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewJournal starts the writer goroutine. Pass nil logger for default.
func NewJournal(store *Store, bufferSize int, logger *slog.Logger) *Journal {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		store:  store,
		queue:  make(chan Entry, bufferSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "journal"),
	}
	go j.run()
	return j
}

// Append enqueues e. ID and RecordedAt are stamped here so the stored time
// reflects when the mutation happened, not when it was written.
func (j *Journal) Append(e Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}

	select {
	case j.queue <- e:
	default:
		j.logger.Debug("journal queue full, dropping entry",
			"session_id", e.SessionID,
			"action", e.Action)
	}
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := j.store.Insert(ctx, &e); err != nil {
			j.logger.Warn("writing ledger entry", "error", err, "session_id", e.SessionID)
		}
		cancel()
	}
}

// Close stops accepting entries, drains the queue and closes the store.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.queue)
	j.mu.Unlock()

	<-j.done
	return j.store.Close()
}
