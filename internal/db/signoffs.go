package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ldi/signoff/pkg/models"
)

// CreateSignOff opens one pending ledger entry for (task, reviewer, round).
// The unique constraint rejects a second active entry for the same triple.
func (t *Tx) CreateSignOff(ctx context.Context, taskID, reviewerID string, round int) (*models.SignOff, error) {
	s := &models.SignOff{
		ID:         uuid.New().String(),
		TaskID:     taskID,
		ReviewerID: reviewerID,
		Round:      round,
		Status:     models.SignOffStatusPending,
	}

	query := `
		INSERT INTO signoffs (id, task_id, reviewer_id, round, status)
		VALUES (?, ?, ?, ?, ?)
		RETURNING created_at
	`
	err := t.tx.QueryRowContext(ctx, query, s.ID, s.TaskID, s.ReviewerID, s.Round, s.Status).Scan(&s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create signoff: %w", err)
	}
	return s, nil
}

// DecideSignOff records a reviewer's verdict for the given round. The WHERE
// guard makes the decision single-shot: if the row is not pending (already
// decided, or never opened) the caller gets ErrStaleReview.
func (t *Tx) DecideSignOff(ctx context.Context, taskID, reviewerID string, round int, status models.SignOffStatus, notes string) (*models.SignOff, error) {
	query := `
		UPDATE signoffs
		SET status = ?, notes = ?, decided_at = CURRENT_TIMESTAMP
		WHERE task_id = ? AND reviewer_id = ? AND round = ? AND status = 'pending'
		RETURNING id, task_id, reviewer_id, round, status, notes, created_at, decided_at
	`
	s := &models.SignOff{}
	err := t.tx.QueryRowContext(ctx, query, status, notes, taskID, reviewerID, round).Scan(
		&s.ID, &s.TaskID, &s.ReviewerID, &s.Round, &s.Status, &s.Notes, &s.CreatedAt, &s.DecidedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: no pending signoff for task %s reviewer %s round %d",
			models.ErrStaleReview, taskID, reviewerID, round)
	}
	if err != nil {
		return nil, integrityErr(fmt.Errorf("failed to decide signoff: %w", err))
	}
	return s, nil
}

// RoundTally is the verdict count for a single round.
type RoundTally struct {
	Approvals  int
	Rejections int
	Pending    int
}

// CountRoundDecisions tallies verdicts for one round only. Prior rounds are
// history and never feed quorum evaluation.
func (t *Tx) CountRoundDecisions(ctx context.Context, taskID string, round int) (RoundTally, error) {
	query := `
		SELECT
			COUNT(CASE WHEN status = 'approved' THEN 1 END),
			COUNT(CASE WHEN status = 'rejected' THEN 1 END),
			COUNT(CASE WHEN status = 'pending' THEN 1 END)
		FROM signoffs
		WHERE task_id = ? AND round = ?
	`
	var tally RoundTally
	if err := t.tx.QueryRowContext(ctx, query, taskID, round).Scan(&tally.Approvals, &tally.Rejections, &tally.Pending); err != nil {
		return RoundTally{}, fmt.Errorf("failed to count round decisions: %w", err)
	}
	return tally, nil
}

// PendingReviewers returns reviewers who have not yet decided in the round.
func (db *DB) PendingReviewers(ctx context.Context, taskID string, round int) ([]string, error) {
	query := `
		SELECT reviewer_id FROM signoffs
		WHERE task_id = ? AND round = ? AND status = 'pending'
		ORDER BY reviewer_id
	`
	rows, err := db.QueryContext(ctx, query, taskID, round)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviewers []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("failed to scan reviewer: %w", err)
		}
		reviewers = append(reviewers, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reviewers, nil
}

// ListSignOffs returns the full ledger for a task, oldest round first. Pass a
// round to narrow to one round.
func (db *DB) ListSignOffs(ctx context.Context, taskID string, round *int) ([]*models.SignOff, error) {
	query := `
		SELECT id, task_id, reviewer_id, round, status, notes, created_at, decided_at
		FROM signoffs
		WHERE task_id = ?
	`
	args := []any{taskID}
	if round != nil {
		query += " AND round = ?"
		args = append(args, *round)
	}
	query += " ORDER BY round ASC, reviewer_id ASC"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var signoffs []*models.SignOff
	for rows.Next() {
		s := &models.SignOff{}
		err := rows.Scan(&s.ID, &s.TaskID, &s.ReviewerID, &s.Round, &s.Status, &s.Notes, &s.CreatedAt, &s.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signoff: %w", err)
		}
		signoffs = append(signoffs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return signoffs, nil
}
