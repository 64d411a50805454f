// Package engine implements the QA sign-off state machine. Every public
// operation runs inside a single database transaction, so concurrent reviewer
// submissions each observe a snapshot that includes their own just-written
// decision plus everything already committed for the round.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/ldi/signoff/internal/db"
	"github.com/ldi/signoff/pkg/models"
)

// TaskStore is the external task-management collaborator. The engine never
// mutates a task's general fields through it; it only asks about the work
// lifecycle and reports QA finalization back.
type TaskStore interface {
	IsWorkComplete(ctx context.Context, taskID string) (bool, error)
	GetCategoryArea(ctx context.Context, taskID string) (category, area string, err error)
	NotifyFinalized(ctx context.Context, taskID string) error
}

type Engine struct {
	db    *db.DB
	tasks TaskStore
}

func New(database *db.DB, tasks TaskStore) *Engine {
	return &Engine{db: database, tasks: tasks}
}

// TriggerResult describes a freshly opened review round.
type TriggerResult struct {
	Round             int      `json:"round"`
	RequiredReviewers []string `json:"required_reviewers"`
}

// TriggerReview opens the next review round for a task whose work is
// complete. It resolves the quorum rule first: with no rule configured no
// round is opened and no ledger entry is written. A round that is already
// open surfaces as ErrDuplicateTrigger, which concurrent duplicate callers
// are expected to treat as "read status instead".
func (e *Engine) TriggerReview(ctx context.Context, taskID string) (*TriggerResult, error) {
	complete, err := e.tasks.IsWorkComplete(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, fmt.Errorf("task %s is not work-complete", taskID)
	}

	category, area, err := e.tasks.GetCategoryArea(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var result *TriggerResult
	err = e.db.InTx(ctx, func(tx *db.Tx) error {
		req, err := tx.ResolveRequirement(ctx, category, area)
		if err != nil {
			return err
		}

		round, err := tx.OpenRound(ctx, taskID)
		if err != nil {
			return err
		}

		for _, reviewerID := range req.Reviewers {
			if _, err := tx.CreateSignOff(ctx, taskID, reviewerID, round); err != nil {
				return err
			}
		}

		_, err = tx.AppendAudit(ctx, models.AuditPayload{
			EventType: models.EventReviewTriggered,
			TaskID:    taskID,
			Round:     round,
			Detail:    fmt.Sprintf("opened %d sign-offs (min %d, unanimous %t)", len(req.Reviewers), req.MinApprovers, req.Unanimous),
		})
		if err != nil {
			return err
		}

		result = &TriggerResult{Round: round, RequiredReviewers: req.Reviewers}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("task_id", taskID).Int("round", result.Round).
		Int("reviewers", len(result.RequiredReviewers)).Msg("review round opened")
	return result, nil
}

// IssueReport is a defect description attached to a rejection.
type IssueReport struct {
	Title       string               `json:"title"`
	Description string               `json:"description,omitempty"`
	Severity    models.IssueSeverity `json:"severity,omitempty"`
}

// SubmitResult reports the task state after a verdict was recorded.
type SubmitResult struct {
	State models.QAState `json:"new_state"`
	Round int            `json:"round"`
}

// SubmitReview records one reviewer's verdict and re-evaluates quorum in the
// same transaction. A verdict is single-shot: once recorded it is immutable
// and a second submission for the same round fails with ErrStaleReview, as
// does any submission after the round closed or the task was finalized
// concurrently. NotifyFinalized fires exactly once, from the transaction that
// performed the pending_review -> approved transition, after commit.
func (e *Engine) SubmitReview(ctx context.Context, taskID, reviewerID string, decision models.Decision, notes string, issues []IssueReport) (*SubmitResult, error) {
	status, ok := decision.SignOffStatus()
	if !ok {
		return nil, fmt.Errorf("unknown decision %q", decision)
	}
	if status == models.SignOffStatusRejected && len(issues) == 0 {
		return nil, fmt.Errorf("a rejection must report at least one issue")
	}

	var result *SubmitResult
	var finalized bool

	err := e.db.InTx(ctx, func(tx *db.Tx) error {
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task == nil {
			return fmt.Errorf("%w: task %s", models.ErrNotFound, taskID)
		}
		if task.QAState != models.QAStatePendingReview {
			return fmt.Errorf("%w: task %s has no open round (state %s)", models.ErrStaleReview, taskID, task.QAState)
		}
		round := task.CurrentRound

		signoff, err := tx.DecideSignOff(ctx, taskID, reviewerID, round, status, notes)
		if err != nil {
			return err
		}

		_, err = tx.AppendAudit(ctx, models.AuditPayload{
			EventType:  models.EventSignOffDecided,
			TaskID:     taskID,
			Round:      round,
			ReviewerID: reviewerID,
			Status:     string(signoff.Status),
			Detail:     notes,
		})
		if err != nil {
			return err
		}

		if status == models.SignOffStatusRejected {
			for _, report := range issues {
				issue := &models.QAIssue{
					TaskID:      taskID,
					Round:       round,
					ReportedBy:  reviewerID,
					Severity:    report.Severity,
					Title:       report.Title,
					Description: report.Description,
				}
				if err := tx.CreateIssue(ctx, issue); err != nil {
					return err
				}
				_, err = tx.AppendAudit(ctx, models.AuditPayload{
					EventType:  models.EventIssueOpened,
					TaskID:     taskID,
					Round:      round,
					ReviewerID: reviewerID,
					IssueID:    issue.ID,
					Detail:     issue.Title,
				})
				if err != nil {
					return err
				}
			}
		}

		state, didFinalize, err := e.evaluateQuorum(ctx, tx, task, round)
		if err != nil {
			return err
		}

		finalized = didFinalize
		result = &SubmitResult{State: state, Round: round}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if finalized {
		if err := e.tasks.NotifyFinalized(ctx, taskID); err != nil {
			// The approval is already durable; a failed notification must not
			// unwind it. The collaborator can reconcile from status reads.
			log.Error().Err(err).Str("task_id", taskID).Msg("finalization notification failed")
		}
	}
	return result, nil
}

// evaluateQuorum applies the resolved rule to the current round's tally and
// moves the task's QA facet accordingly. Rows from prior rounds never count.
func (e *Engine) evaluateQuorum(ctx context.Context, tx *db.Tx, task *models.Task, round int) (models.QAState, bool, error) {
	req, err := tx.ResolveRequirement(ctx, task.Category, task.Area)
	if err != nil {
		return "", false, err
	}

	tally, err := tx.CountRoundDecisions(ctx, task.ID, round)
	if err != nil {
		return "", false, err
	}
	blocking, err := tx.CountBlockingIssues(ctx, task.ID, round)
	if err != nil {
		return "", false, err
	}

	rule := models.QuorumRule{MinApprovers: req.MinApprovers, Unanimous: req.Unanimous, Reviewers: req.Reviewers}

	switch {
	case rule.Unanimous && tally.Rejections > 0:
		// One rejection sinks a unanimous round immediately.
		return e.closeRound(ctx, tx, task.ID, round, models.QAStateIssuesOpen)

	case rule.Satisfied(tally.Approvals, tally.Rejections, tally.Pending, blocking):
		state, finalized, err := e.closeRound(ctx, tx, task.ID, round, models.QAStateApproved)
		if err != nil {
			return "", false, err
		}
		if finalized {
			log.Info().Str("task_id", task.ID).Int("round", round).
				Int("approvals", tally.Approvals).Msg("quorum reached, task approved")
		}
		return state, finalized, nil

	case tally.Pending == 0:
		// Every reviewer has decided and the rule still is not satisfied
		// (insufficient approvals, or approvals gated by unresolved issues).
		// The round is over; the task parks in issues_open until rework.
		return e.closeRound(ctx, tx, task.ID, round, models.QAStateIssuesOpen)

	default:
		return models.QAStatePendingReview, false, nil
	}
}

func (e *Engine) closeRound(ctx context.Context, tx *db.Tx, taskID string, round int, to models.QAState) (models.QAState, bool, error) {
	moved, err := tx.SetQAState(ctx, taskID, models.QAStatePendingReview, to)
	if err != nil {
		return "", false, err
	}
	if !moved {
		// The state was checked pending_review inside this same transaction;
		// failing the guard here means a bug, not a race.
		return "", false, fmt.Errorf("%w: task %s left pending_review mid-transaction", models.ErrIntegrityViolation, taskID)
	}

	eventType := models.EventTaskIssuesOpen
	if to == models.QAStateApproved {
		eventType = models.EventTaskFinalized
	}
	_, err = tx.AppendAudit(ctx, models.AuditPayload{
		EventType: eventType,
		TaskID:    taskID,
		Round:     round,
		Status:    string(to),
	})
	if err != nil {
		return "", false, err
	}

	return to, to == models.QAStateApproved, nil
}

// Status is the read-only view of a task's QA position.
type Status struct {
	TaskID           string            `json:"task_id"`
	State            models.QAState    `json:"state"`
	Round            int               `json:"round"`
	PendingReviewers []string          `json:"pending_reviewers"`
	OpenIssues       []*models.QAIssue `json:"open_issues"`
}

// GetStatus reports the task's QA state, who still owes a verdict in the
// current round, and every not-yet-closed issue across rounds. It never
// mutates anything.
func (e *Engine) GetStatus(ctx context.Context, taskID string) (*Status, error) {
	task, err := e.db.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: task %s", models.ErrNotFound, taskID)
	}

	pending, err := e.db.PendingReviewers(ctx, taskID, task.CurrentRound)
	if err != nil {
		return nil, err
	}

	all, err := e.db.ListIssues(ctx, taskID, nil)
	if err != nil {
		return nil, err
	}
	open := make([]*models.QAIssue, 0, len(all))
	for _, issue := range all {
		if issue.Blocking() {
			open = append(open, issue)
		}
	}

	return &Status{
		TaskID:           taskID,
		State:            task.QAState,
		Round:            task.CurrentRound,
		PendingReviewers: pending,
		OpenIssues:       open,
	}, nil
}

// VerifyAuditChain recomputes the task's audit hash chain. A broken chain is
// returned as (false, ErrIntegrityViolation) and logged; it is never
// swallowed anywhere in the call path.
func (e *Engine) VerifyAuditChain(ctx context.Context, taskID string) (bool, error) {
	err := e.db.VerifyAuditChain(ctx, taskID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, models.ErrIntegrityViolation) {
		log.Error().Err(err).Str("task_id", taskID).Msg("audit chain verification failed")
		return false, err
	}
	return false, err
}
