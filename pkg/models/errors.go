package models

import "errors"

// Error taxonomy for the sign-off engine. Callers classify with errors.Is.
var (
	// ErrConfiguration means no quorum rule could be resolved for a task's
	// category/area. Not retryable; an administrator has to add a rule.
	ErrConfiguration = errors.New("no sign-off requirement configured")

	// ErrDuplicateTrigger means a review round is already open for the task.
	// Expected under concurrent triggering; callers should read status instead.
	ErrDuplicateTrigger = errors.New("review round already open")

	// ErrStaleReview means the targeted sign-off is no longer pending: the
	// round closed, the task was finalized concurrently, or the reviewer
	// already decided. Expected under concurrent review; callers re-fetch status.
	ErrStaleReview = errors.New("sign-off is no longer pending")

	// ErrIntegrityViolation means an operation would break the never-delete
	// or forward-only-transition guarantees, or the audit chain failed
	// verification. Never recovered from silently.
	ErrIntegrityViolation = errors.New("integrity violation")

	// ErrNotFound means the referenced task, sign-off, or issue does not exist.
	ErrNotFound = errors.New("not found")
)
