package ports

import (
	"context"

	"github.com/medtec-labs/caseship/internal/domain"
)

// OperationStore applies operations to the shared store.
// Implementations must make connectivity failures distinguishable from data
// errors: an unreachable or locked store wraps domain.ErrStoreUnreachable,
// a rejected payload wraps domain.ErrValidation.
type OperationStore interface {
	// Apply executes one operation against the store. Apply must be
	// idempotent for create operations (upsert-by-identifier), since a
	// partially applied replay may be retried.
	Apply(ctx context.Context, op domain.Operation) error

	// Ping reports whether the store is currently reachable.
	Ping(ctx context.Context) error
}
