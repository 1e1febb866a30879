package store

import (
	"context"

	"github.com/daas8085/dashdeploy/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store persists release history.
type Store interface {
	// CreateRelease inserts a new pending release.
	CreateRelease(ctx context.Context, release *domain.Release) error

	// FinishRelease persists the outcome of a run: terminal status, step
	// records, endpoint and error message.
	FinishRelease(ctx context.Context, release *domain.Release) error

	// GetRelease fetches one release by ID.
	GetRelease(ctx context.Context, id string) (*domain.Release, error)

	// ListReleases returns releases, most recent first.
	ListReleases(ctx context.Context, opts ListOptions) ([]domain.Release, error)

	// ListReleasesByEnvironment returns releases for one environment,
	// most recent first.
	ListReleasesByEnvironment(ctx context.Context, environment string, opts ListOptions) ([]domain.Release, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
