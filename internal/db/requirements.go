package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ldi/signoff/pkg/models"
)

// UpsertRequirement creates or replaces the quorum rule for (category, area).
// Requirements are configuration, not history, so replacement is allowed here.
func (db *DB) UpsertRequirement(ctx context.Context, r *models.SignOffRequirement) error {
	if r.MinApprovers <= 0 {
		return fmt.Errorf("min_approvers must be positive, got %d", r.MinApprovers)
	}
	if len(r.Reviewers) < r.MinApprovers {
		return fmt.Errorf("requirement lists %d reviewers but needs %d approvers", len(r.Reviewers), r.MinApprovers)
	}

	reviewers, err := json.Marshal(r.Reviewers)
	if err != nil {
		return fmt.Errorf("failed to marshal reviewers: %w", err)
	}

	unanimous := 0
	if r.Unanimous {
		unanimous = 1
	}

	query := `
		INSERT INTO signoff_requirements (category, area, min_approvers, unanimous, reviewers)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (category, area) DO UPDATE SET
			min_approvers = excluded.min_approvers,
			unanimous = excluded.unanimous,
			reviewers = excluded.reviewers,
			updated_at = CURRENT_TIMESTAMP
		RETURNING created_at, updated_at
	`
	err = db.QueryRowContext(ctx, query, r.Category, r.Area, r.MinApprovers, unanimous, string(reviewers)).
		Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert requirement: %w", err)
	}
	return nil
}

// ResolveRequirement returns the quorum rule for (category, area), falling
// back to (category, *), (*, area), then (*, *). Returns ErrConfiguration
// when nothing matches; the caller must not open a round in that case.
func (t *Tx) ResolveRequirement(ctx context.Context, category, area string) (*models.SignOffRequirement, error) {
	return resolveRequirement(ctx, t.tx, category, area)
}

// ResolveRequirement is the read-only counterpart outside a transaction.
func (db *DB) ResolveRequirement(ctx context.Context, category, area string) (*models.SignOffRequirement, error) {
	return resolveRequirement(ctx, db.DB, category, area)
}

func resolveRequirement(ctx context.Context, exec executor, category, area string) (*models.SignOffRequirement, error) {
	candidates := [][2]string{
		{category, area},
		{category, models.Wildcard},
		{models.Wildcard, area},
		{models.Wildcard, models.Wildcard},
	}

	for _, c := range candidates {
		r, err := getRequirement(ctx, exec, c[0], c[1])
		if err != nil {
			return nil, err
		}
		if r != nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w for category=%q area=%q", models.ErrConfiguration, category, area)
}

func getRequirement(ctx context.Context, exec executor, category, area string) (*models.SignOffRequirement, error) {
	query := `
		SELECT category, area, min_approvers, unanimous, reviewers, created_at, updated_at
		FROM signoff_requirements
		WHERE category = ? AND area = ?
	`
	r := &models.SignOffRequirement{}
	var unanimous int
	var reviewers string
	err := exec.QueryRowContext(ctx, query, category, area).Scan(
		&r.Category, &r.Area, &r.MinApprovers, &unanimous, &reviewers, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get requirement: %w", err)
	}

	r.Unanimous = unanimous == 1
	if err := json.Unmarshal([]byte(reviewers), &r.Reviewers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reviewers: %w", err)
	}
	return r, nil
}

// ListRequirements returns all configured quorum rules.
func (db *DB) ListRequirements(ctx context.Context) ([]*models.SignOffRequirement, error) {
	query := `
		SELECT category, area, min_approvers, unanimous, reviewers, created_at, updated_at
		FROM signoff_requirements
		ORDER BY category, area
	`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*models.SignOffRequirement
	for rows.Next() {
		r := &models.SignOffRequirement{}
		var unanimous int
		var reviewers string
		if err := rows.Scan(&r.Category, &r.Area, &r.MinApprovers, &unanimous, &reviewers, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan requirement: %w", err)
		}
		r.Unanimous = unanimous == 1
		if err := json.Unmarshal([]byte(reviewers), &r.Reviewers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reviewers: %w", err)
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return reqs, nil
}
