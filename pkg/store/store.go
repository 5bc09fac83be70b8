// Package store defines persistence for analysis runs and their execution
// threads.
package store

import (
	"context"

	"github.com/nebelbild/data-analysis/pkg/domain"
)

// RunStore records analysis runs and the execution threads they produce.
type RunStore interface {
	// CreateRun inserts a new run in its initial state.
	CreateRun(ctx context.Context, run *domain.Run) error
	// FinishRun records the terminal status and error of a run.
	FinishRun(ctx context.Context, runID, status, errMsg string) error
	// AppendThread stores one completed execution thread for a run.
	AppendThread(ctx context.Context, runID string, thread *domain.DataThread) error
	// GetRun returns a single run by id.
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	// ListRuns returns all runs for a session, most recent first.
	ListRuns(ctx context.Context, sessionID string) ([]domain.Run, error)
	// ListThreads returns a run's threads in execution order.
	ListThreads(ctx context.Context, runID string) ([]domain.DataThread, error)
	// Close releases the underlying resources.
	Close() error
}
