package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ldi/signoff/pkg/models"
)

// The audit log is strictly append-only. This file deliberately contains no
// UPDATE or DELETE statement for audit_records, and the schema aborts either
// one at the trigger level.

// AppendAudit seals one event onto the task's hash chain. prev_hash is the
// chain hash of the task's latest record (empty for the first event), so each
// record commits to the entire history before it.
func (t *Tx) AppendAudit(ctx context.Context, p models.AuditPayload) (*models.AuditRecord, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit payload: %w", err)
	}
	// Hash the exact bytes that get stored; verification re-hashes the same.
	payloadHash := models.HashPayload(payload)

	prevHash := ""
	last, err := lastAuditRecord(ctx, t.tx, p.TaskID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		prevHash = models.ChainHash(last.PrevHash, last.PayloadHash)
	}

	rec := &models.AuditRecord{
		TaskID:      p.TaskID,
		EventType:   p.EventType,
		Payload:     string(payload),
		PayloadHash: payloadHash,
		PrevHash:    prevHash,
	}

	query := `
		INSERT INTO audit_records (task_id, event_type, payload, payload_hash, prev_hash)
		VALUES (?, ?, ?, ?, ?)
		RETURNING sequence_no, created_at
	`
	err = t.tx.QueryRowContext(ctx, query,
		rec.TaskID, rec.EventType, rec.Payload, rec.PayloadHash, rec.PrevHash,
	).Scan(&rec.SequenceNo, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}
	return rec, nil
}

func lastAuditRecord(ctx context.Context, exec executor, taskID string) (*models.AuditRecord, error) {
	query := `
		SELECT sequence_no, task_id, event_type, payload, payload_hash, prev_hash, created_at
		FROM audit_records
		WHERE task_id = ?
		ORDER BY sequence_no DESC
		LIMIT 1
	`
	rec := &models.AuditRecord{}
	err := exec.QueryRowContext(ctx, query, taskID).Scan(
		&rec.SequenceNo, &rec.TaskID, &rec.EventType, &rec.Payload, &rec.PayloadHash, &rec.PrevHash, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last audit record: %w", err)
	}
	return rec, nil
}

// ListAuditRecords returns a task's audit trail in sequence order.
func (db *DB) ListAuditRecords(ctx context.Context, taskID string) ([]*models.AuditRecord, error) {
	query := `
		SELECT sequence_no, task_id, event_type, payload, payload_hash, prev_hash, created_at
		FROM audit_records
		WHERE task_id = ?
		ORDER BY sequence_no ASC
	`
	rows, err := db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		rec := &models.AuditRecord{}
		err := rows.Scan(&rec.SequenceNo, &rec.TaskID, &rec.EventType, &rec.Payload, &rec.PayloadHash, &rec.PrevHash, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return records, nil
}

// VerifyAuditChain recomputes the task's hash chain from stored payloads.
// Any mismatch, in a payload hash or a link, returns ErrIntegrityViolation
// naming the first bad sequence number.
func (db *DB) VerifyAuditChain(ctx context.Context, taskID string) error {
	records, err := db.ListAuditRecords(ctx, taskID)
	if err != nil {
		return err
	}

	prevHash := ""
	for _, rec := range records {
		// Stored bytes, not a decoded struct: edits that survive a JSON
		// round-trip (whitespace, key order, injected fields) still break this.
		if models.HashPayload([]byte(rec.Payload)) != rec.PayloadHash {
			return fmt.Errorf("%w: audit record %d payload hash mismatch",
				models.ErrIntegrityViolation, rec.SequenceNo)
		}
		if rec.PrevHash != prevHash {
			return fmt.Errorf("%w: audit record %d chain link mismatch",
				models.ErrIntegrityViolation, rec.SequenceNo)
		}

		prevHash = models.ChainHash(rec.PrevHash, rec.PayloadHash)
	}
	return nil
}
