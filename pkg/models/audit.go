package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

type AuditEventType string

const (
	EventReviewTriggered AuditEventType = "review_triggered"
	EventSignOffDecided  AuditEventType = "signoff_decided"
	EventIssueOpened     AuditEventType = "issue_opened"
	EventIssueAdvanced   AuditEventType = "issue_advanced"
	EventTaskFinalized   AuditEventType = "task_finalized"
	EventTaskIssuesOpen  AuditEventType = "task_issues_open"
	EventTaskReopened    AuditEventType = "task_reopened"
)

// AuditPayload is the hashed body of an audit record. All fields are concrete
// types so json.Marshal produces a deterministic byte sequence; a map here
// would make the hash depend on iteration order.
type AuditPayload struct {
	EventType  AuditEventType `json:"event_type"`
	TaskID     string         `json:"task_id"`
	Round      int            `json:"round,omitempty"`
	ReviewerID string         `json:"reviewer_id,omitempty"`
	IssueID    string         `json:"issue_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	Detail     string         `json:"detail,omitempty"`
}

// Hash returns the hex sha256 of the canonical JSON encoding of the payload.
func (p AuditPayload) Hash() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	return HashPayload(data), nil
}

// HashPayload hashes the payload bytes exactly as stored. Verification uses
// this rather than re-encoding a decoded struct, so any byte-level edit to a
// stored payload breaks the hash even when it decodes to the same values.
func HashPayload(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChainHash links a record to its predecessor: sha256 over the previous
// record's hash concatenated with this record's payload hash.
func ChainHash(prevHash, payloadHash string) string {
	sum := sha256.Sum256([]byte(prevHash + payloadHash))
	return hex.EncodeToString(sum[:])
}

// AuditRecord is one sealed entry in the append-only audit log. Records are
// totally ordered by SequenceNo; PrevHash chains to the previous record for
// the same task so tampering with any historical payload is detectable.
type AuditRecord struct {
	SequenceNo  int64          `json:"sequence_no"`
	TaskID      string         `json:"task_id"`
	EventType   AuditEventType `json:"event_type"`
	Payload     string         `json:"payload"`
	PayloadHash string         `json:"payload_hash"`
	PrevHash    string         `json:"prev_hash"`
	CreatedAt   time.Time      `json:"created_at"`
}
