package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/briefcast/internal/domain"
	"github.com/cuongbtq/briefcast/internal/store"
)

// JobReader is the read side of the Status Store
type JobReader interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	JobTransitions(ctx context.Context, id string) ([]domain.Transition, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.Job, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Jobs   JobReader
	// Health reports whether backing services are reachable. Optional.
	Health func(ctx context.Context) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobReader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
	}
}
