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

const sandboxColumns = `id, animal_id, personality_id, guardrail_id, knowledge_file_ids,
	created_at, expires_at, conversation_count, promoted, version`

func scanSandbox(row pgx.Row) (model.Sandbox, error) {
	var s model.Sandbox
	err := row.Scan(&s.ID, &s.AnimalID, &s.PersonalityID, &s.GuardrailID,
		&s.KnowledgeFileIDs, &s.CreatedAt, &s.ExpiresAt,
		&s.ConversationCount, &s.Promoted, &s.Version)
	return s, err
}

// CreateSandbox inserts a new sandbox.
func (db *DB) CreateSandbox(ctx context.Context, s model.Sandbox) (model.Sandbox, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	if s.KnowledgeFileIDs == nil {
		s.KnowledgeFileIDs = []uuid.UUID{}
	}
	s.Version = 1

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sandboxes (`+sandboxColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.AnimalID, s.PersonalityID, s.GuardrailID, s.KnowledgeFileIDs,
		s.CreatedAt, s.ExpiresAt, s.ConversationCount, s.Promoted, s.Version,
	)
	if err != nil {
		return model.Sandbox{}, fmt.Errorf("storage: create sandbox: %w", err)
	}
	return s, nil
}

// GetSandbox retrieves a sandbox by ID. Status is not stored; callers
// derive it from the returned fields and their own clock.
func (db *DB) GetSandbox(ctx context.Context, id uuid.UUID) (model.Sandbox, error) {
	s, err := scanSandbox(db.pool.QueryRow(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Sandbox{}, fmt.Errorf("storage: sandbox %s: %w", id, ErrNotFound)
		}
		return model.Sandbox{}, fmt.Errorf("storage: get sandbox: %w", err)
	}
	return s, nil
}

// ListSandboxes returns sandboxes newest-first, paginated.
func (db *DB) ListSandboxes(ctx context.Context, limit, offset int) ([]model.Sandbox, int, error) {
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
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sandboxes`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count sandboxes: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes
		 ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list sandboxes: %w", err)
	}
	defer rows.Close()

	var out []model.Sandbox
	for rows.Next() {
		s, err := scanSandbox(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("storage: scan sandbox: %w", err)
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// RecordSandboxTurn increments the conversation counter and bumps the
// version, guarded by the caller's expected version, non-promotion, and
// the TTL. Returns the updated sandbox. A zero-row update is disambiguated
// by re-reading the row: missing ⇒ ErrNotFound, otherwise ErrVersionConflict
// (expiry and promotion are checked by the service before calling, and the
// WHERE clause re-checks them against races).
func (db *DB) RecordSandboxTurn(ctx context.Context, id uuid.UUID, expectedVersion int) (model.Sandbox, error) {
	s, err := scanSandbox(db.pool.QueryRow(ctx,
		`UPDATE sandboxes
		 SET conversation_count = conversation_count + 1, version = version + 1
		 WHERE id = $1 AND version = $2 AND NOT promoted AND expires_at > now()
		 RETURNING `+sandboxColumns, id, expectedVersion))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Sandbox{}, fmt.Errorf("storage: record sandbox turn: %w", err)
	}

	if _, err := db.GetSandbox(ctx, id); err != nil {
		return model.Sandbox{}, err
	}
	return model.Sandbox{}, fmt.Errorf("storage: sandbox %s version %d: %w", id, expectedVersion, ErrVersionConflict)
}

// PromoteSandbox marks a sandbox promoted and upserts the corresponding
// assistant in a single transaction. The assistant ID is deterministic, so
// a retry after a crash overwrites the same row instead of creating a
// duplicate. The WHERE clause re-checks promotability under the tx to
// close the race with a concurrent promote or the expiry sweep.
func (db *DB) PromoteSandbox(ctx context.Context, id uuid.UUID, a model.Assistant) (model.Sandbox, model.Assistant, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("storage: begin promote tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	s, err := scanSandbox(tx.QueryRow(ctx,
		`UPDATE sandboxes
		 SET promoted = TRUE, version = version + 1
		 WHERE id = $1 AND NOT promoted AND expires_at > now() AND conversation_count >= 1
		 RETURNING `+sandboxColumns, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Sandbox{}, model.Assistant{}, fmt.Errorf("storage: sandbox %s not promotable: %w", id, ErrVersionConflict)
		}
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("storage: promote sandbox: %w", err)
	}

	now := time.Now().UTC()
	a.ModifiedAt = now
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO assistants (id, animal_id, personality_id, guardrail_id, system_prompt, status, created_at, modified_at)
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
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("storage: upsert assistant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Sandbox{}, model.Assistant{}, fmt.Errorf("storage: commit promote tx: %w", err)
	}
	return s, a, nil
}

// DeleteSandbox removes a sandbox regardless of status.
func (db *DB) DeleteSandbox(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sandboxes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete sandbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: sandbox %s: %w", id, ErrNotFound)
	}
	return nil
}

// SweepExpiredSandboxes deletes sandboxes whose TTL has passed. Purely a
// reclamation optimization — correctness never depends on the sweep,
// because status is derived from expires_at on every read.
func (db *DB) SweepExpiredSandboxes(ctx context.Context) (int, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sandboxes WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("storage: sweep expired sandboxes: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
