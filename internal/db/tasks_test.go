package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ldi/signoff/pkg/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("Failed to init database: %v", err)
	}
	return db
}

func createTestTask(t *testing.T, db *DB, category, area string) *models.Task {
	t.Helper()

	task := &models.Task{
		Name:        "Test Task",
		Description: "Task Description",
		Category:    category,
		Area:        area,
	}
	if err := db.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}
	return task
}

func TestTaskLifecycle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := createTestTask(t, db, "feature", "authentication")

	if len(task.ID) != 36 || !strings.Contains(task.ID, "-") {
		t.Errorf("Expected UUID task ID, got %s", task.ID)
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Errorf("Expected CreatedAt and UpdatedAt to be set")
	}
	if task.QAState != models.QAStateNotTriggered {
		t.Errorf("Expected qa_state not_triggered, got %s", task.QAState)
	}

	fetched, err := db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if fetched == nil {
		t.Fatalf("Task not found")
	}
	if fetched.Category != "feature" || fetched.Area != "authentication" {
		t.Errorf("Expected feature/authentication, got %s/%s", fetched.Category, fetched.Area)
	}
	if fetched.Status != models.TaskStatusPending {
		t.Errorf("Expected status pending, got %s", fetched.Status)
	}

	// Work lifecycle: pending -> in_progress -> completed
	if err := db.UpdateTaskStatus(ctx, task.ID, models.TaskStatusInProgress); err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}
	if err := db.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted); err != nil {
		t.Fatalf("Failed to complete task: %v", err)
	}

	fetched, err = db.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if fetched.Status != models.TaskStatusCompleted {
		t.Errorf("Expected status completed, got %s", fetched.Status)
	}
	if fetched.CompletedAt == nil {
		t.Errorf("Expected CompletedAt to be set")
	}
	if !fetched.WorkComplete() {
		t.Errorf("Expected WorkComplete true")
	}
}

func TestTaskInvalidTransition(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := createTestTask(t, db, "feature", "general")

	// pending -> completed skips in_progress
	err := db.UpdateTaskStatus(ctx, task.ID, models.TaskStatusCompleted)
	if err == nil {
		t.Fatal("Expected invalid transition error, got nil")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	db := testDB(t)

	task, err := db.GetTask(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Expected no error for missing task, got %v", err)
	}
	if task != nil {
		t.Errorf("Expected nil task, got %+v", task)
	}
}

func TestListTasksFilters(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	a := createTestTask(t, db, "feature", "auth")
	createTestTask(t, db, "bugfix", "general")

	if err := db.UpdateTaskStatus(ctx, a.ID, models.TaskStatusInProgress); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	status := models.TaskStatusInProgress
	tasks, err := db.ListTasks(ctx, &status, nil)
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != a.ID {
		t.Errorf("Expected only the in_progress task, got %d tasks", len(tasks))
	}

	all, err := db.ListTasks(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Failed to list tasks: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 tasks, got %d", len(all))
	}
}

func TestOpenRound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := createTestTask(t, db, "feature", "auth")

	var round int
	err := db.InTx(ctx, func(tx *Tx) error {
		var err error
		round, err = tx.OpenRound(ctx, task.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to open round: %v", err)
	}
	if round != 1 {
		t.Errorf("Expected round 1, got %d", round)
	}

	// A second open while pending_review must fail.
	err = db.InTx(ctx, func(tx *Tx) error {
		_, err := tx.OpenRound(ctx, task.ID)
		return err
	})
	if !errors.Is(err, models.ErrDuplicateTrigger) {
		t.Errorf("Expected ErrDuplicateTrigger, got %v", err)
	}

	// Round numbers are never reused: closing and reopening advances to 2.
	err = db.InTx(ctx, func(tx *Tx) error {
		moved, err := tx.SetQAState(ctx, task.ID, models.QAStatePendingReview, models.QAStateIssuesOpen)
		if err != nil {
			return err
		}
		if !moved {
			t.Errorf("Expected qa state guard to pass")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to set qa state: %v", err)
	}

	err = db.InTx(ctx, func(tx *Tx) error {
		var err error
		round, err = tx.OpenRound(ctx, task.ID)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to reopen round: %v", err)
	}
	if round != 2 {
		t.Errorf("Expected round 2, got %d", round)
	}
}

func TestSetQAStateGuard(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	task := createTestTask(t, db, "feature", "auth")

	// Guard fails when the from-state does not match.
	err := db.InTx(ctx, func(tx *Tx) error {
		moved, err := tx.SetQAState(ctx, task.ID, models.QAStatePendingReview, models.QAStateApproved)
		if err != nil {
			return err
		}
		if moved {
			t.Errorf("Expected guard to reject transition from not_triggered")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}
