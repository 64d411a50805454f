package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ldi/signoff/internal/db"
	"github.com/ldi/signoff/pkg/models"
)

// LocalTaskStore backs the TaskStore collaborator with the engine's own
// database, for deployments where task management and QA share one file.
// A remote task system can replace it; the engine only sees the interface.
type LocalTaskStore struct {
	db *db.DB
}

var _ TaskStore = (*LocalTaskStore)(nil)

func NewLocalTaskStore(database *db.DB) *LocalTaskStore {
	return &LocalTaskStore{db: database}
}

func (s *LocalTaskStore) IsWorkComplete(ctx context.Context, taskID string) (bool, error) {
	task, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, fmt.Errorf("%w: task %s", models.ErrNotFound, taskID)
	}
	return task.WorkComplete(), nil
}

func (s *LocalTaskStore) GetCategoryArea(ctx context.Context, taskID string) (string, string, error) {
	task, err := s.db.GetTask(ctx, taskID)
	if err != nil {
		return "", "", err
	}
	if task == nil {
		return "", "", fmt.Errorf("%w: task %s", models.ErrNotFound, taskID)
	}
	return task.Category, task.Area, nil
}

func (s *LocalTaskStore) NotifyFinalized(ctx context.Context, taskID string) error {
	// The work lifecycle already sits at completed; the local store has
	// nothing to move, so finalization is only announced.
	log.Info().Str("task_id", taskID).Msg("task finalized")
	return nil
}
