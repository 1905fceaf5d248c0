package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/post-scheduler/internal/api/model"
	"github.com/cuongbtq/post-scheduler/internal/api/storage"
	"github.com/cuongbtq/post-scheduler/internal/scheduler"
)

// PostReader is the read side of the post table
type PostReader interface {
	GetPostByID(ctx context.Context, postID string) (*model.Post, error)
	ListPosts(ctx context.Context, filter storage.PostFilter) ([]model.Post, error)
}

// SchedulerControl is the operator view of a running scheduler
type SchedulerControl interface {
	TriggerNow(ctx context.Context) (*scheduler.TickReport, error)
	Status() scheduler.Status
}

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	ServiceName string
	Logger      *slog.Logger
	Health      HealthChecker
	Posts       PostReader
	Scheduler   SchedulerControl
}

// PostHandler handles post-related HTTP requests
type PostHandler struct {
	logger  *slog.Logger
	storage PostReader
}

// NewPostHandler creates a new PostHandler instance
func NewPostHandler(deps *Dependencies) *PostHandler {
	return &PostHandler{
		logger:  deps.Logger,
		storage: deps.Posts,
	}
}

// SchedulerHandler exposes scheduler operations
type SchedulerHandler struct {
	logger    *slog.Logger
	scheduler SchedulerControl
}

// NewSchedulerHandler creates a new SchedulerHandler instance
func NewSchedulerHandler(deps *Dependencies) *SchedulerHandler {
	return &SchedulerHandler{
		logger:    deps.Logger,
		scheduler: deps.Scheduler,
	}
}
