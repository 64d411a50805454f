package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/ldi/signoff/internal/db"
	"github.com/ldi/signoff/pkg/models"
)

// IssueTracker owns QAIssue status transitions. The orchestrator only ever
// creates issues; moving one through open -> in_progress -> verified ->
// closed happens here, so issue resolution stays independently auditable.
type IssueTracker struct {
	db *db.DB
}

func NewIssueTracker(database *db.DB) *IssueTracker {
	return &IssueTracker{db: database}
}

// Advance moves an issue forward through its lifecycle and seals an audit
// event for the transition. Backward movement fails with
// ErrIntegrityViolation before any write happens.
func (it *IssueTracker) Advance(ctx context.Context, issueID string, next models.IssueStatus) (*models.QAIssue, error) {
	var issue *models.QAIssue
	err := it.db.InTx(ctx, func(tx *db.Tx) error {
		var err error
		issue, err = tx.AdvanceIssue(ctx, issueID, next)
		if err != nil {
			return err
		}

		_, err = tx.AppendAudit(ctx, models.AuditPayload{
			EventType: models.EventIssueAdvanced,
			TaskID:    issue.TaskID,
			Round:     issue.Round,
			IssueID:   issue.ID,
			Status:    string(issue.Status),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Str("issue_id", issueID).Str("status", string(next)).Msg("issue advanced")
	return issue, nil
}

// Get returns a single issue.
func (it *IssueTracker) Get(ctx context.Context, issueID string) (*models.QAIssue, error) {
	return it.db.GetIssue(ctx, issueID)
}
