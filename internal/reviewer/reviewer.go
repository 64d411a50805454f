// Package reviewer defines the capability an independent reviewer agent
// implements. The engine never cares how a verdict was produced; LLM-backed,
// rule-based, and human-in-the-loop reviewers all submit through the same
// surface.
package reviewer

import (
	"context"

	"github.com/ldi/signoff/internal/engine"
	"github.com/ldi/signoff/pkg/models"
)

// Request is everything a reviewer gets to look at.
type Request struct {
	Task  models.Task
	Round int
}

// Verdict is the reviewer's decision, ready to hand to SubmitReview.
type Verdict struct {
	Decision models.Decision
	Notes    string
	Issues   []engine.IssueReport
}

// Reviewer produces a verdict for one review request.
type Reviewer interface {
	Review(ctx context.Context, req Request) (Verdict, error)
}
