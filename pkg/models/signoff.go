package models

import "time"

type SignOffStatus string

const (
	SignOffStatusPending  SignOffStatus = "pending"
	SignOffStatusApproved SignOffStatus = "approved"
	SignOffStatusRejected SignOffStatus = "rejected"
)

// Decision is a reviewer's verdict as submitted. It maps onto the terminal
// SignOffStatus values.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

func (d Decision) SignOffStatus() (SignOffStatus, bool) {
	switch d {
	case DecisionApprove:
		return SignOffStatusApproved, true
	case DecisionReject:
		return SignOffStatusRejected, true
	}
	return "", false
}

// SignOff is one reviewer's recorded verdict for a task in a given round.
// Exactly one row exists per (task, reviewer, round); once DecidedAt is set
// the row is immutable and any correction requires a new round.
type SignOff struct {
	ID         string        `json:"id"`
	TaskID     string        `json:"task_id"`
	ReviewerID string        `json:"reviewer_id"`
	Round      int           `json:"round"`
	Status     SignOffStatus `json:"status"`
	Notes      string        `json:"notes,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	DecidedAt  *time.Time    `json:"decided_at"`
}
