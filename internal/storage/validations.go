package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cmzoo/menagerie/internal/model"
)

// InsertValidationResult appends an immutable validation record for audit.
// Triggered rules and coverage gaps are stored as JSONB — they are read
// back whole for diagnostics, never queried field-by-field.
func (db *DB) InsertValidationResult(ctx context.Context, v model.ValidationResult) error {
	triggered, err := json.Marshal(v.TriggeredRules)
	if err != nil {
		return fmt.Errorf("storage: marshal triggered rules: %w", err)
	}
	gaps, err := json.Marshal(v.CoverageGaps)
	if err != nil {
		return fmt.Errorf("storage: marshal coverage gaps: %w", err)
	}

	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO validation_results
		   (id, guardrail_id, verdict, risk_score, triggered_rules, coverage_gaps,
		    processing_ms, reason, user_message, safe_alternative, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.GuardrailID, string(v.Verdict), v.RiskScore, triggered, gaps,
		v.ProcessingMs, v.Reason, v.UserMessage, v.SafeAlternative, v.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert validation result: %w", err)
	}
	return nil
}

// ListRecentValidations returns the newest validation records for a
// guardrail, for the admin diagnostics view.
func (db *DB) ListRecentValidations(ctx context.Context, guardrailID uuid.UUID, limit int) ([]model.ValidationResult, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, guardrail_id, verdict, risk_score, triggered_rules, coverage_gaps,
		        processing_ms, reason, user_message, safe_alternative, created_at
		 FROM validation_results WHERE guardrail_id = $1
		 ORDER BY created_at DESC LIMIT $2`, guardrailID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent validations: %w", err)
	}
	defer rows.Close()

	var out []model.ValidationResult
	for rows.Next() {
		var v model.ValidationResult
		var verdict string
		var triggered, gaps []byte
		if err := rows.Scan(&v.ID, &v.GuardrailID, &verdict, &v.RiskScore,
			&triggered, &gaps, &v.ProcessingMs, &v.Reason,
			&v.UserMessage, &v.SafeAlternative, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan validation result: %w", err)
		}
		v.Verdict = model.Verdict(verdict)
		if err := json.Unmarshal(triggered, &v.TriggeredRules); err != nil {
			return nil, fmt.Errorf("storage: unmarshal triggered rules: %w", err)
		}
		if err := json.Unmarshal(gaps, &v.CoverageGaps); err != nil {
			return nil, fmt.Errorf("storage: unmarshal coverage gaps: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// PurgeValidationsBefore deletes audit records older than the cutoff.
// Called by the retention sweep alongside sandbox reclamation.
func (db *DB) PurgeValidationsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`DELETE FROM validation_results WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("storage: purge validations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
