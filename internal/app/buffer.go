package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/medtec-labs/caseship/internal/domain"
	"github.com/medtec-labs/caseship/internal/ports"
)

// Buffer is the offline write buffer. Writes are tried against the shared
// store first; when the store is unreachable they are appended to the
// durable local queue and replayed by Flush once connectivity returns.
//
// All mutations are serialized through one mutex, so sequence numbers are
// assigned without interleaving and a flush never races an enqueue.
type Buffer struct {
	mu      sync.Mutex
	store   ports.OperationStore
	queue   ports.QueueRepository
	logger  ports.Logger
	conn    *domain.Connectivity
	nextSeq int64
}

// NewBuffer creates a Buffer. The sequence counter is seeded from the
// highest sequence number already queued, so operations buffered by a
// previous process run keep their place ahead of new ones.
func NewBuffer(ctx context.Context, store ports.OperationStore, queue ports.QueueRepository, logger ports.Logger) (*Buffer, error) {
	ops, err := queue.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load queue: %w", err)
	}

	var maxSeq int64
	for _, op := range ops {
		if op.Seq > maxSeq {
			maxSeq = op.Seq
		}
	}

	return &Buffer{
		store:   store,
		queue:   queue,
		logger:  logger,
		conn:    domain.NewConnectivity(false),
		nextSeq: maxSeq + 1,
	}, nil
}

// Submit attempts to apply op directly to the store. When the store is
// unreachable the operation is appended to the local queue instead and
// Submit reports success with deferred=true: the write is not lost, but not
// yet durable remotely. Validation failures surface immediately and are
// never buffered.
func (b *Buffer) Submit(ctx context.Context, op domain.Operation) (deferred bool, err error) {
	if err := op.Validate(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if op.SubmittedAt.IsZero() {
		op.SubmittedAt = time.Now().UTC()
	}

	applyErr := b.store.Apply(ctx, op)
	if applyErr == nil {
		b.observe(true)
		return false, nil
	}
	if !errors.Is(applyErr, domain.ErrStoreUnreachable) {
		// Data error: the payload would be rejected on replay too.
		return false, applyErr
	}

	b.observe(false)

	op.Seq = b.nextSeq
	if err := b.queue.Append(ctx, op); err != nil {
		return false, fmt.Errorf("buffer operation: %w", err)
	}
	b.nextSeq++

	b.logger.Warn("store unreachable, operation buffered",
		ports.String("kind", string(op.Kind)),
		ports.String("entity", op.Entity),
		ports.Int64("seq", op.Seq),
	)
	return true, nil
}

// Flush replays queued operations in ascending sequence order, removing each
// from the queue only after the store confirmed its application. The first
// failure stops the flush: the failing operation and everything after it
// stay queued for the next attempt.
func (b *Buffer) Flush(ctx context.Context) (applied int, remaining int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ops, err := b.queue.Load(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load queue: %w", err)
	}
	if len(ops) == 0 {
		// Nothing to replay; refresh the connectivity flag anyway.
		b.observe(b.store.Ping(ctx) == nil)
		return 0, 0, nil
	}

	sort.Slice(ops, func(i, j int) bool { return ops[i].Seq < ops[j].Seq })

	for i, op := range ops {
		select {
		case <-ctx.Done():
			return applied, len(ops) - i, ctx.Err()
		default:
		}

		if applyErr := b.store.Apply(ctx, op); applyErr != nil {
			if errors.Is(applyErr, domain.ErrStoreUnreachable) {
				b.observe(false)
			}
			b.logger.Error("flush stopped",
				ports.Err(applyErr),
				ports.Int64("seq", op.Seq),
				ports.String("kind", string(op.Kind)),
				ports.Int("applied", applied),
				ports.Int("remaining", len(ops)-i),
			)
			return applied, len(ops) - i, applyErr
		}

		if err := b.queue.Remove(ctx, op.Seq); err != nil {
			return applied, len(ops) - i, fmt.Errorf("dequeue seq %d: %w", op.Seq, err)
		}
		applied++
	}

	b.observe(true)
	b.logger.Info("flush complete", ports.Int("applied", applied))
	return applied, 0, nil
}

// PendingCount reports the local queue depth.
func (b *Buffer) PendingCount(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ops, err := b.queue.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Online reports whether the store was reachable at the last attempt.
func (b *Buffer) Online() bool {
	return b.conn.Online()
}

// Probe pings the store and updates the connectivity flag.
func (b *Buffer) Probe(ctx context.Context) bool {
	online := b.store.Ping(ctx) == nil
	b.observe(online)
	return online
}

func (b *Buffer) observe(online bool) {
	if b.conn.Observe(online) {
		b.logger.Info("connectivity changed", ports.Bool("online", online))
	}
}
