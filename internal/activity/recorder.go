// Package activity is the best-effort audit trail of scheduler decisions.
// Recording never blocks or fails the caller; sink problems are reported on
// a fallback logger and dropped.
package activity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one human-readable activity record
type Entry struct {
	ID          string
	OwnerID     string
	EventType   string
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// Sink persists entries
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Config holds recorder configuration
type Config struct {
	Sink         Sink
	Fallback     *slog.Logger
	BufferSize   int
	WriteTimeout time.Duration
}

// Recorder buffers entries and writes them from a background goroutine
type Recorder struct {
	sink         Sink
	fallback     *slog.Logger
	writeTimeout time.Duration

	mu      sync.RWMutex
	closed  bool
	entries chan Entry
	done    chan struct{}
}

// NewRecorder creates a recorder and starts its writer goroutine
func NewRecorder(cfg *Config) *Recorder {
	size := cfg.BufferSize
	if size <= 0 {
		size = 256
	}

	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	fallback := cfg.Fallback
	if fallback == nil {
		fallback = slog.Default()
	}

	r := &Recorder{
		sink:         cfg.Sink,
		fallback:     fallback,
		writeTimeout: timeout,
		entries:      make(chan Entry, size),
		done:         make(chan struct{}),
	}

	go r.loop()
	return r
}

// Record enqueues an entry without blocking. A full buffer drops the entry.
func (r *Recorder) Record(ownerID, eventType, description string, metadata map[string]any) {
	entry := Entry{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		EventType:   eventType,
		Description: description,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		r.reportDropped(entry, "recorder closed")
		return
	}

	select {
	case r.entries <- entry:
	default:
		r.reportDropped(entry, "buffer full")
	}
}

// Close stops accepting entries and waits for buffered ones until ctx expires
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.entries)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		r.fallback.Warn("Activity recorder closed before draining",
			slog.Int("pending", len(r.entries)),
		)
		return ctx.Err()
	}
}

func (r *Recorder) loop() {
	defer close(r.done)

	for entry := range r.entries {
		r.write(entry)
	}
}

func (r *Recorder) write(entry Entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.fallback.Error("Activity sink panicked",
				slog.String("owner_id", entry.OwnerID),
				slog.String("event_type", entry.EventType),
				slog.String("description", entry.Description),
				slog.Any("panic", rec),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if err := r.sink.Write(ctx, entry); err != nil {
		r.fallback.Error("Failed to write activity entry",
			slog.String("owner_id", entry.OwnerID),
			slog.String("event_type", entry.EventType),
			slog.String("description", entry.Description),
			slog.Any("error", err),
		)
	}
}

func (r *Recorder) reportDropped(entry Entry, reason string) {
	r.fallback.Warn("Dropped activity entry",
		slog.String("reason", reason),
		slog.String("owner_id", entry.OwnerID),
		slog.String("event_type", entry.EventType),
		slog.String("description", entry.Description),
	)
}
