package models

import (
	"fmt"
	"time"
)

type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusVerified   IssueStatus = "verified"
	IssueStatusClosed     IssueStatus = "closed"
)

type IssueSeverity string

const (
	SeverityLow      IssueSeverity = "low"
	SeverityMedium   IssueSeverity = "medium"
	SeverityHigh     IssueSeverity = "high"
	SeverityCritical IssueSeverity = "critical"
)

// QAIssue is a defect raised by a reviewer against a task in a specific round.
// Issues have their own verification lifecycle, independent from the task, and
// are never hard-deleted; IsDeleted exists as a logical marker only and stays
// false for the lifetime of the row.
type QAIssue struct {
	ID          string        `json:"id"`
	TaskID      string        `json:"task_id"`
	Round       int           `json:"round"`
	ReportedBy  string        `json:"reported_by"`
	Severity    IssueSeverity `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Status      IssueStatus   `json:"status"`
	IsDeleted   bool          `json:"is_deleted"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Blocking reports whether the issue still blocks its round from approval.
func (i *QAIssue) Blocking() bool {
	return i.Status != IssueStatusClosed
}

var issueRank = map[IssueStatus]int{
	IssueStatusOpen:       0,
	IssueStatusInProgress: 1,
	IssueStatusVerified:   2,
	IssueStatusClosed:     3,
}

// ValidateIssueTransition permits only forward movement through the issue
// lifecycle. Backward movement is an integrity violation, not a validation
// error, because it would rewrite history.
func ValidateIssueTransition(from, to IssueStatus) error {
	fromRank, ok := issueRank[from]
	if !ok {
		return fmt.Errorf("unknown issue status %q", from)
	}
	toRank, ok := issueRank[to]
	if !ok {
		return fmt.Errorf("unknown issue status %q", to)
	}
	if toRank <= fromRank {
		return fmt.Errorf("%w: issue transition %s -> %s moves backward", ErrIntegrityViolation, from, to)
	}
	return nil
}
