// Package auditlog provides an async, buffered writer over the delivery
// audit trail so that recording an attempt outcome never adds latency to
// the queue worker's hot path.
package auditlog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wisbric/auditdelivery/internal/db"
)

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// AppendStore is the subset of db.DeliveryLogStore the writer flushes
// batches through.
type AppendStore interface {
	Append(ctx context.Context, p db.AppendParams) (db.DeliveryLog, error)
}

// Writer batches delivery log appends and flushes them to the database from
// a single background goroutine, so concurrent workers never contend on the
// per-delivery upsert. Entries for the same deliveryId are flushed in the
// order they were logged, preserving the attempts-list and
// first-successful-delivered-at semantics of a direct Append.
type Writer struct {
	store   AppendStore
	logger  *slog.Logger
	entries chan db.AppendParams
	wg      sync.WaitGroup
}

// NewWriter creates a Writer over store. Call Start to begin flushing.
func NewWriter(store AppendStore, logger *slog.Logger) *Writer {
	return &Writer{
		store:   store,
		logger:  logger,
		entries: make(chan db.AppendParams, bufferSize),
	}
}

// Start launches the background flush loop in its own goroutine and returns
// immediately. The loop exits once ctx is cancelled or Close is called,
// flushing buffered entries on the way out.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close stops accepting new entries and waits for the buffer to drain.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Append satisfies queue.DeliveryLogStore: it enqueues p for async writing
// and returns immediately. The zero DeliveryLog it returns is never
// inspected by callers on the hot path — they only check the error, which
// is always nil here since the real write happens later. Flush failures are
// logged, not surfaced to the caller.
func (w *Writer) Append(_ context.Context, p db.AppendParams) (db.DeliveryLog, error) {
	select {
	case w.entries <- p:
	default:
		w.logger.Warn("delivery log buffer full, dropping entry", "deliveryId", p.DeliveryID)
	}
	return db.DeliveryLog{}, nil
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]db.AppendParams, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case p, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, p)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case p, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, p)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries in arrival order. Sequential writes (not
// a pipelined batch insert) matter here: Append does a read-modify-write on
// the accumulated attempts list, so two entries for the same deliveryId
// must apply in the order they were recorded.
func (w *Writer) flush(entries []db.AppendParams) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, p := range entries {
		if _, err := w.store.Append(ctx, p); err != nil {
			w.logger.Error("flushing delivery log entry", "error", err, "deliveryId", p.DeliveryID)
		}
	}
}
