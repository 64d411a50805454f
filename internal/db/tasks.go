package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/signoff/pkg/models"
)

// CreateTask inserts a new task. If t.ID is empty, a new UUID is generated.
func (db *DB) CreateTask(ctx context.Context, t *models.Task) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskStatusPending
	}
	t.QAState = models.QAStateNotTriggered

	query := `
		INSERT INTO tasks (id, name, description, category, area, status)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING created_at, updated_at
	`
	err := db.QueryRowContext(ctx, query,
		t.ID, t.Name, t.Description, t.Category, t.Area, t.Status,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

const taskColumns = `id, name, description, category, area, status, qa_state, current_round, created_at, updated_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(
		&t.ID, &t.Name, &t.Description, &t.Category, &t.Area, &t.Status,
		&t.QAState, &t.CurrentRound, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// GetTask retrieves a task by its ID.
func (db *DB) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, db.DB, id)
}

// GetTask retrieves a task inside the transaction's snapshot.
func (t *Tx) GetTask(ctx context.Context, id string) (*models.Task, error) {
	return getTask(ctx, t.tx, id)
}

func getTask(ctx context.Context, exec executor, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	task, err := scanTask(exec.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks, optionally filtered by work status or QA state.
func (db *DB) ListTasks(ctx context.Context, status *models.TaskStatus, qaState *models.QAState) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`
	args := []any{}

	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	if qaState != nil {
		query += " AND qa_state = ?"
		args = append(args, *qaState)
	}
	query += " ORDER BY created_at ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus moves a task through its work lifecycle. QA state is not
// touched here; only the engine moves that facet.
func (db *DB) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error {
	current, err := db.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: task %s", models.ErrNotFound, id)
	}

	if err := models.ValidateTaskTransition(current.Status, status); err != nil {
		return err
	}

	query := `UPDATE tasks SET status = ? WHERE id = ?`
	if _, err := db.ExecContext(ctx, query, status, id); err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// SetQAState records a QA facet transition and returns whether this statement
// performed it. The from-state guard makes concurrent finalization race-free:
// only one transaction observes rows affected == 1.
func (t *Tx) SetQAState(ctx context.Context, taskID string, from, to models.QAState) (bool, error) {
	query := `UPDATE tasks SET qa_state = ? WHERE id = ? AND qa_state = ?`
	res, err := t.tx.ExecContext(ctx, query, to, taskID, from)
	if err != nil {
		return false, fmt.Errorf("failed to set qa state: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

// OpenRound advances the task to the next round number and into
// pending_review, returning the new round. Returns ErrDuplicateTrigger when a
// round is already open.
func (t *Tx) OpenRound(ctx context.Context, taskID string) (int, error) {
	query := `
		UPDATE tasks
		SET qa_state = ?, current_round = current_round + 1
		WHERE id = ? AND qa_state != ?
		RETURNING current_round
	`
	var round int
	err := t.tx.QueryRowContext(ctx, query,
		models.QAStatePendingReview, taskID, models.QAStatePendingReview,
	).Scan(&round)
	if err == sql.ErrNoRows {
		return 0, models.ErrDuplicateTrigger
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open review round: %w", err)
	}
	return round, nil
}
