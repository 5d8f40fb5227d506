package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cmzoo/menagerie/internal/model"
)

const assistantColumns = `id, animal_id, personality_id, guardrail_id, system_prompt, status, created_at, modified_at`

func scanAssistant(row pgx.Row) (model.Assistant, error) {
	var a model.Assistant
	var status string
	err := row.Scan(&a.ID, &a.AnimalID, &a.PersonalityID, &a.GuardrailID,
		&a.SystemPrompt, &status, &a.CreatedAt, &a.ModifiedAt)
	a.Status = model.AssistantStatus(status)
	return a, err
}

// GetAssistant retrieves an assistant by ID.
func (db *DB) GetAssistant(ctx context.Context, id uuid.UUID) (model.Assistant, error) {
	a, err := scanAssistant(db.pool.QueryRow(ctx,
		`SELECT `+assistantColumns+` FROM assistants WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Assistant{}, fmt.Errorf("storage: assistant %s: %w", id, ErrNotFound)
		}
		return model.Assistant{}, fmt.Errorf("storage: get assistant: %w", err)
	}
	return a, nil
}

// ListAssistants returns assistants, paginated.
func (db *DB) ListAssistants(ctx context.Context, limit, offset int) ([]model.Assistant, int, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM assistants`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count assistants: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+assistantColumns+` FROM assistants ORDER BY created_at ASC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list assistants: %w", err)
	}
	defer rows.Close()

	var out []model.Assistant
	for rows.Next() {
		a, err := scanAssistant(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan assistant: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// UpdateAssistantStatus sets an assistant's operational status.
func (db *DB) UpdateAssistantStatus(ctx context.Context, id uuid.UUID, status model.AssistantStatus) (model.Assistant, error) {
	a, err := scanAssistant(db.pool.QueryRow(ctx,
		`UPDATE assistants SET status = $1, modified_at = now() WHERE id = $2
		 RETURNING `+assistantColumns, string(status), id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Assistant{}, fmt.Errorf("storage: assistant %s: %w", id, ErrNotFound)
		}
		return model.Assistant{}, fmt.Errorf("storage: update assistant status: %w", err)
	}
	return a, nil
}

// UpsertAssistant writes an assistant outside a promotion (administrative
// CRUD path). Promotion uses PromoteSandbox's transactional upsert.
func (db *DB) UpsertAssistant(ctx context.Context, a model.Assistant) (model.Assistant, error) {
	now := time.Now().UTC()
	a.ModifiedAt = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO assistants (`+assistantColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   animal_id = EXCLUDED.animal_id,
		   personality_id = EXCLUDED.personality_id,
		   guardrail_id = EXCLUDED.guardrail_id,
		   system_prompt = EXCLUDED.system_prompt,
		   status = EXCLUDED.status,
		   modified_at = EXCLUDED.modified_at
		 RETURNING created_at`,
		a.ID, a.AnimalID, a.PersonalityID, a.GuardrailID, a.SystemPrompt,
		string(a.Status), a.CreatedAt, a.ModifiedAt,
	).Scan(&a.CreatedAt)
	if err != nil {
		return model.Assistant{}, fmt.Errorf("storage: upsert assistant: %w", err)
	}
	return a, nil
}
