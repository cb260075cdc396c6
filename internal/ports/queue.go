package ports

import (
	"context"

	"github.com/medtec-labs/caseship/internal/domain"
)

// QueueRepository is the durable local queue of pending operations.
// Implementations persist mutations atomically (e.g., write to temp file,
// then rename) so a crash never leaves a half-written queue.
type QueueRepository interface {
	// Load returns all pending operations in ascending sequence order.
	// A missing queue is an empty queue, not an error.
	Load(ctx context.Context) ([]domain.Operation, error)

	// Append adds one operation to the end of the queue.
	Append(ctx context.Context, op domain.Operation) error

	// Remove deletes the operation with the given sequence number.
	// Removing an absent sequence number is not an error.
	Remove(ctx context.Context, seq int64) error
}
