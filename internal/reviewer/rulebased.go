package reviewer

import (
	"context"
	"fmt"
	"strings"

	"github.com/ldi/signoff/internal/engine"
	"github.com/ldi/signoff/pkg/models"
)

// Check inspects a task and returns a defect, or nil when satisfied.
type Check func(task models.Task) *engine.IssueReport

// RuleBased is a scripted reviewer: it runs a checklist and rejects with one
// issue per failed check. Zero failed checks means approval.
type RuleBased struct {
	Checks []Check
}

var _ Reviewer = (*RuleBased)(nil)

// NewRuleBased builds a rule-based reviewer with the default checklist.
func NewRuleBased() *RuleBased {
	return &RuleBased{Checks: []Check{
		CheckHasDescription,
		CheckNameLength,
	}}
}

func (r *RuleBased) Review(_ context.Context, req Request) (Verdict, error) {
	var issues []engine.IssueReport
	for _, check := range r.Checks {
		if report := check(req.Task); report != nil {
			issues = append(issues, *report)
		}
	}

	if len(issues) > 0 {
		return Verdict{
			Decision: models.DecisionReject,
			Notes:    fmt.Sprintf("%d checklist item(s) failed", len(issues)),
			Issues:   issues,
		}, nil
	}

	return Verdict{Decision: models.DecisionApprove, Notes: "checklist passed"}, nil
}

// CheckHasDescription flags tasks submitted for review without any
// description of the completed work.
func CheckHasDescription(task models.Task) *engine.IssueReport {
	if strings.TrimSpace(task.Description) != "" {
		return nil
	}
	return &engine.IssueReport{
		Title:    "missing task description",
		Severity: models.SeverityMedium,
	}
}

// CheckNameLength flags unusably short task names.
func CheckNameLength(task models.Task) *engine.IssueReport {
	if len(strings.TrimSpace(task.Name)) >= 3 {
		return nil
	}
	return &engine.IssueReport{
		Title:    "task name too short to identify the work",
		Severity: models.SeverityLow,
	}
}
