package engine

import (
	"context"

	"n3n.dev/core/flow"
)

// Store persists Execution state across the lifetime of a run, including
// across the pause implied by a waiting node. Implementations must make
// Create/Get/Update safe for concurrent use by multiple engine goroutines.
type Store interface {
	Create(ctx context.Context, ex flow.Execution) error
	Get(ctx context.Context, id flow.Ident) (flow.Execution, error)
	Update(ctx context.Context, ex flow.Execution) error
}
