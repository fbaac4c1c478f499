package storage

import (
	"context"

	"github.com/absmach/fedguard/pkg/fl"
)

// Storage is the ordered, write-once key-value store behind the memory
// backend. Run history and model snapshots are never rewritten.
type Storage interface {
	Create(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string) (any, error)
	// List pages through the values whose key starts with prefix, in
	// ascending key order, and reports how many keys match.
	List(ctx context.Context, prefix string, offset, limit uint64) ([]any, uint64, error)
	// Last returns the value with the greatest key starting with prefix.
	Last(ctx context.Context, prefix string) (any, error)
}

// RoundRepository is an append-only log of finished rounds keyed by run and
// round index. A second Create for the same key fails with ErrEntityExists.
type RoundRepository interface {
	Create(ctx context.Context, m fl.RoundMetrics) error
	Get(ctx context.Context, runID string, round uint64) (fl.RoundMetrics, error)
	// List returns the run's rounds in ascending round order together with
	// the total number stored for the run.
	List(ctx context.Context, runID string, offset, limit uint64) ([]fl.RoundMetrics, uint64, error)
}

// ModelRepository keeps a snapshot of the global model per committed round.
type ModelRepository interface {
	SaveModel(ctx context.Context, runID string, state fl.GlobalModelState) error
	LoadModel(ctx context.Context, runID string, round uint64) (fl.GlobalModelState, error)
	LatestModel(ctx context.Context, runID string) (fl.GlobalModelState, error)
}
