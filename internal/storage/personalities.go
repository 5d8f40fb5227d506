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

// CreatePersonality inserts a new personality.
func (db *DB) CreatePersonality(ctx context.Context, p model.Personality) (model.Personality, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Traits == nil {
		p.Traits = []string{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO personalities (id, name, tone, formality, enthusiasm, traits, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.Name, p.Tone, p.Formality, p.Enthusiasm, p.Traits, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return model.Personality{}, fmt.Errorf("storage: create personality: %w", err)
	}
	return p, nil
}

// GetPersonality retrieves a personality by ID.
func (db *DB) GetPersonality(ctx context.Context, id uuid.UUID) (model.Personality, error) {
	var p model.Personality
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, tone, formality, enthusiasm, traits, created_at, updated_at
		 FROM personalities WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.Tone, &p.Formality, &p.Enthusiasm, &p.Traits, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Personality{}, fmt.Errorf("storage: personality %s: %w", id, ErrNotFound)
		}
		return model.Personality{}, fmt.Errorf("storage: get personality: %w", err)
	}
	return p, nil
}

// ListPersonalities returns personalities, paginated.
func (db *DB) ListPersonalities(ctx context.Context, limit, offset int) ([]model.Personality, int, error) {
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
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM personalities`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count personalities: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, name, tone, formality, enthusiasm, traits, created_at, updated_at
		 FROM personalities ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list personalities: %w", err)
	}
	defer rows.Close()

	var out []model.Personality
	for rows.Next() {
		var p model.Personality
		if err := rows.Scan(&p.ID, &p.Name, &p.Tone, &p.Formality, &p.Enthusiasm,
			&p.Traits, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan personality: %w", err)
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// UpdatePersonality replaces a personality's mutable fields. Rejected with
// ErrReferenced while any live assistant references it — changes to a live
// personality must go through a new sandbox and promotion.
func (db *DB) UpdatePersonality(ctx context.Context, p model.Personality) (model.Personality, error) {
	refs, err := db.countPersonalityRefs(ctx, p.ID)
	if err != nil {
		return model.Personality{}, err
	}
	if refs > 0 {
		return model.Personality{}, fmt.Errorf("storage: personality %s: %w", p.ID, ErrReferenced)
	}

	if p.Traits == nil {
		p.Traits = []string{}
	}
	err = db.pool.QueryRow(ctx,
		`UPDATE personalities
		 SET name = $1, tone = $2, formality = $3, enthusiasm = $4, traits = $5, updated_at = now()
		 WHERE id = $6
		 RETURNING id, name, tone, formality, enthusiasm, traits, created_at, updated_at`,
		p.Name, p.Tone, p.Formality, p.Enthusiasm, p.Traits, p.ID,
	).Scan(&p.ID, &p.Name, &p.Tone, &p.Formality, &p.Enthusiasm, &p.Traits, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Personality{}, fmt.Errorf("storage: personality %s: %w", p.ID, ErrNotFound)
		}
		return model.Personality{}, fmt.Errorf("storage: update personality: %w", err)
	}
	return p, nil
}

// DeletePersonality removes a personality unless a live assistant
// references it.
func (db *DB) DeletePersonality(ctx context.Context, id uuid.UUID) error {
	refs, err := db.countPersonalityRefs(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("storage: personality %s: %w", id, ErrReferenced)
	}

	tag, err := db.pool.Exec(ctx, `DELETE FROM personalities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete personality: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: personality %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) countPersonalityRefs(ctx context.Context, id uuid.UUID) (int, error) {
	var refs int
	if err := db.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM assistants WHERE personality_id = $1)
		      + (SELECT COUNT(*) FROM sandboxes WHERE personality_id = $1)`, id,
	).Scan(&refs); err != nil {
		return 0, fmt.Errorf("storage: count personality references: %w", err)
	}
	return refs, nil
}
