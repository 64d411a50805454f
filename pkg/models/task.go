package models

import (
	"fmt"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusBlocked    TaskStatus = "blocked"
)

// QAState is the QA facet of a task. The engine owns this column exclusively;
// the work lifecycle (TaskStatus) belongs to the task store.
type QAState string

const (
	QAStateNotTriggered  QAState = "not_triggered"
	QAStatePendingReview QAState = "pending_review"
	QAStateApproved      QAState = "approved"
	QAStateIssuesOpen    QAState = "issues_open"
)

type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Category     string     `json:"category"`
	Area         string     `json:"area"`
	Status       TaskStatus `json:"status"`
	QAState      QAState    `json:"qa_state"`
	CurrentRound int        `json:"current_round"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

// WorkComplete reports whether the task's work lifecycle allows QA to start.
func (t *Task) WorkComplete() bool {
	return t.Status == TaskStatusCompleted
}

func ValidateTaskTransition(from, to TaskStatus) error {
	if from == to {
		return nil
	}

	switch from {
	case TaskStatusPending:
		if to != TaskStatusInProgress && to != TaskStatusBlocked {
			return fmt.Errorf("invalid transition from %s to %s", from, to)
		}
	case TaskStatusInProgress:
		if to != TaskStatusCompleted && to != TaskStatusBlocked && to != TaskStatusPending {
			return fmt.Errorf("invalid transition from %s to %s", from, to)
		}
	case TaskStatusCompleted:
		// Rework after a rejected review round moves the task back.
		if to != TaskStatusInProgress {
			return fmt.Errorf("invalid transition from %s to %s", from, to)
		}
	case TaskStatusBlocked:
		if to != TaskStatusPending && to != TaskStatusInProgress {
			return fmt.Errorf("invalid transition from %s to %s", from, to)
		}
	}

	return nil
}
