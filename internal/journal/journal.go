// Package journal persists the append-only record of deployment lifecycle
// events. The journal is observability only: every transition is written,
// history and stats are read back, and nothing is ever replayed to restore
// deployment state.
package journal

import (
	"context"

	"github.com/abhisheknishant138/rotor/internal/model"
)

// Stats holds aggregate journal statistics.
type Stats struct {
	Total       int            `json:"total"`
	Deployments int            `json:"deployments"`
	CountByType map[string]int `json:"count_by_type"`
}

// Journal defines the persistence operations for lifecycle events.
type Journal interface {
	// Append records one event.
	Append(ctx context.Context, ev model.Event) error

	// ListByDeployment returns up to limit of the most recent events for a
	// deployment name, oldest first. A limit <= 0 means no limit.
	ListByDeployment(ctx context.Context, name string, limit int) ([]model.Event, error)

	// ListRecent returns up to limit events across all deployments, newest
	// first. A limit <= 0 means no limit.
	ListRecent(ctx context.Context, limit int) ([]model.Event, error)

	// Stats reports totals and a per-type breakdown.
	Stats(ctx context.Context) (*Stats, error)

	Close() error
}
