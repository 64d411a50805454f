package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/signoff/pkg/models"
)

// CreateIssue records a defect against a task's round. Only the engine calls
// this, inside the submit-review transaction.
func (t *Tx) CreateIssue(ctx context.Context, issue *models.QAIssue) error {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.Severity == "" {
		issue.Severity = models.SeverityMedium
	}
	issue.Status = models.IssueStatusOpen

	query := `
		INSERT INTO qa_issues (id, task_id, round, reported_by, severity, title, description)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING created_at, updated_at
	`
	err := t.tx.QueryRowContext(ctx, query,
		issue.ID, issue.TaskID, issue.Round, issue.ReportedBy, issue.Severity, issue.Title, issue.Description,
	).Scan(&issue.CreatedAt, &issue.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}
	return nil
}

// GetIssue retrieves an issue by ID.
func (db *DB) GetIssue(ctx context.Context, id string) (*models.QAIssue, error) {
	return getIssue(ctx, db.DB, id)
}

func (t *Tx) GetIssue(ctx context.Context, id string) (*models.QAIssue, error) {
	return getIssue(ctx, t.tx, id)
}

func getIssue(ctx context.Context, exec executor, id string) (*models.QAIssue, error) {
	query := `
		SELECT id, task_id, round, reported_by, severity, title, description, status, is_deleted, created_at, updated_at
		FROM qa_issues
		WHERE id = ?
	`
	issue, err := scanIssue(exec.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return issue, nil
}

func scanIssue(row interface{ Scan(...any) error }) (*models.QAIssue, error) {
	issue := &models.QAIssue{}
	var deleted int
	err := row.Scan(
		&issue.ID, &issue.TaskID, &issue.Round, &issue.ReportedBy, &issue.Severity,
		&issue.Title, &issue.Description, &issue.Status, &deleted, &issue.CreatedAt, &issue.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	issue.IsDeleted = deleted == 1
	return issue, nil
}

// AdvanceIssue moves an issue forward through its lifecycle. The transition
// is validated in code and, independently, by a schema trigger: even a buggy
// caller cannot move an issue backward or delete it.
func (t *Tx) AdvanceIssue(ctx context.Context, id string, next models.IssueStatus) (*models.QAIssue, error) {
	issue, err := t.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("%w: issue %s", models.ErrNotFound, id)
	}

	if err := models.ValidateIssueTransition(issue.Status, next); err != nil {
		return nil, err
	}

	query := `UPDATE qa_issues SET status = ? WHERE id = ?`
	if _, err := t.tx.ExecContext(ctx, query, next, id); err != nil {
		return nil, integrityErr(fmt.Errorf("failed to advance issue: %w", err))
	}

	issue.Status = next
	return issue, nil
}

// CountBlockingIssues counts the round's issues that are not yet closed.
// Any such issue keeps the round from finalizing, even when every sign-off
// is an approval.
func (t *Tx) CountBlockingIssues(ctx context.Context, taskID string, round int) (int, error) {
	query := `
		SELECT COUNT(*) FROM qa_issues
		WHERE task_id = ? AND round = ? AND status != 'closed'
	`
	var count int
	if err := t.tx.QueryRowContext(ctx, query, taskID, round).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count blocking issues: %w", err)
	}
	return count, nil
}

// ListIssues returns a task's issues across all rounds, optionally narrowed
// to one status.
func (db *DB) ListIssues(ctx context.Context, taskID string, status *models.IssueStatus) ([]*models.QAIssue, error) {
	query := `
		SELECT id, task_id, round, reported_by, severity, title, description, status, is_deleted, created_at, updated_at
		FROM qa_issues
		WHERE task_id = ?
	`
	args := []any{taskID}
	if status != nil {
		query += " AND status = ?"
		args = append(args, *status)
	}
	query += " ORDER BY round ASC, created_at ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []*models.QAIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return issues, nil
}
