package models

import "time"

// Wildcard matches any category or area in a sign-off requirement.
const Wildcard = "*"

// SignOffRequirement is administrator-owned configuration: the quorum rule and
// reviewer roster applied to tasks of a given (category, area). Either key may
// be the wildcard.
type SignOffRequirement struct {
	Category     string    `json:"category" yaml:"category"`
	Area         string    `json:"area" yaml:"area"`
	MinApprovers int       `json:"min_approvers" yaml:"min_approvers"`
	Unanimous    bool      `json:"unanimous" yaml:"unanimous"`
	Reviewers    []string  `json:"reviewers" yaml:"reviewers"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"-"`
}

// QuorumRule is the resolved policy for one review round.
type QuorumRule struct {
	MinApprovers int      `json:"min_approvers"`
	Unanimous    bool     `json:"unanimous"`
	Reviewers    []string `json:"reviewers"`
}

// Satisfied evaluates the rule against one round's sign-off tally and the
// count of still-blocking issues for that round. A unanimous rule holds the
// round open until every reviewer has decided, so each keeps their veto even
// after the approval threshold is met.
func (r QuorumRule) Satisfied(approvals, rejections, pending, blockingIssues int) bool {
	if r.Unanimous && (rejections > 0 || pending > 0) {
		return false
	}
	if blockingIssues > 0 {
		return false
	}
	return approvals >= r.MinApprovers
}
