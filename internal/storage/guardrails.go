package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cmzoo/menagerie/internal/model"
)

// CreateGuardrail inserts a guardrail and its rules atomically. Rule
// insertion order is preserved via an explicit position column.
func (db *DB) CreateGuardrail(ctx context.Context, g model.Guardrail) (model.Guardrail, error) {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	now := time.Now().UTC()
	g.CreatedAt = now
	g.UpdatedAt = now
	g.Version = 1

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: begin create guardrail tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO guardrails (id, name, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		g.ID, g.Name, g.Version, g.CreatedAt, g.UpdatedAt,
	); err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: create guardrail: %w", err)
	}

	if err := insertRulesTx(ctx, tx, g.ID, g.Rules); err != nil {
		return model.Guardrail{}, err
	}
	for i := range g.Rules {
		if g.Rules[i].ID == uuid.Nil {
			g.Rules[i].ID = uuid.New()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: commit create guardrail tx: %w", err)
	}
	return db.GetGuardrail(ctx, g.ID)
}

// insertRulesTx inserts the full rule set for a guardrail, assigning IDs
// to rules that lack one.
func insertRulesTx(ctx context.Context, tx pgx.Tx, guardrailID uuid.UUID, rules []model.Rule) error {
	for i, r := range rules {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
			rules[i].ID = r.ID
		}
		examples := r.Examples
		if examples == nil {
			examples = []string{}
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO guardrail_rules
			   (id, guardrail_id, position, text, type, category, severity, active, priority, examples)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			r.ID, guardrailID, i, r.Text, string(r.Type), r.Category,
			string(r.Severity), r.Active, r.Priority, examples,
		); err != nil {
			return fmt.Errorf("storage: insert rule %d: %w", i, err)
		}
	}
	return nil
}

// GetGuardrail retrieves a guardrail with its rules in insertion order.
func (db *DB) GetGuardrail(ctx context.Context, id uuid.UUID) (model.Guardrail, error) {
	var g model.Guardrail
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, version, created_at, updated_at FROM guardrails WHERE id = $1`, id,
	).Scan(&g.ID, &g.Name, &g.Version, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Guardrail{}, fmt.Errorf("storage: guardrail %s: %w", id, ErrNotFound)
		}
		return model.Guardrail{}, fmt.Errorf("storage: get guardrail: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, text, type, category, severity, active, priority, examples
		 FROM guardrail_rules WHERE guardrail_id = $1 ORDER BY position ASC`, id,
	)
	if err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: get guardrail rules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.Rule
		var rtype, severity string
		if err := rows.Scan(&r.ID, &r.Text, &rtype, &r.Category, &severity,
			&r.Active, &r.Priority, &r.Examples); err != nil {
			return model.Guardrail{}, fmt.Errorf("storage: scan rule: %w", err)
		}
		r.Type = model.RuleType(rtype)
		r.Severity = model.Severity(severity)
		g.Rules = append(g.Rules, r)
	}
	return g, rows.Err()
}

// ListGuardrails returns guardrails without their rule sets, paginated.
func (db *DB) ListGuardrails(ctx context.Context, limit, offset int) ([]model.Guardrail, int, error) {
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
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM guardrails`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count guardrails: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, name, version, created_at, updated_at
		 FROM guardrails ORDER BY created_at ASC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list guardrails: %w", err)
	}
	defer rows.Close()

	var out []model.Guardrail
	for rows.Next() {
		var g model.Guardrail
		if err := rows.Scan(&g.ID, &g.Name, &g.Version, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan guardrail: %w", err)
		}
		out = append(out, g)
	}
	return out, total, rows.Err()
}

// UpdateGuardrail replaces a guardrail's name and full rule set atomically
// and bumps its version. Guardrail updates create a new immutable snapshot
// as far as readers are concerned — concurrent validations against the old
// rule set keep the slice they already loaded.
func (db *DB) UpdateGuardrail(ctx context.Context, g model.Guardrail) (model.Guardrail, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: begin update guardrail tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE guardrails SET name = $1, version = version + 1, updated_at = now() WHERE id = $2`,
		g.Name, g.ID,
	)
	if err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: update guardrail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.Guardrail{}, fmt.Errorf("storage: guardrail %s: %w", g.ID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM guardrail_rules WHERE guardrail_id = $1`, g.ID); err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: clear guardrail rules: %w", err)
	}
	if err := insertRulesTx(ctx, tx, g.ID, g.Rules); err != nil {
		return model.Guardrail{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Guardrail{}, fmt.Errorf("storage: commit update guardrail tx: %w", err)
	}
	return db.GetGuardrail(ctx, g.ID)
}

// DeleteGuardrail removes a guardrail and its rules unless a live
// assistant references it.
func (db *DB) DeleteGuardrail(ctx context.Context, id uuid.UUID) error {
	var refs int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM assistants WHERE guardrail_id = $1`, id,
	).Scan(&refs); err != nil {
		return fmt.Errorf("storage: count guardrail references: %w", err)
	}
	if refs > 0 {
		return fmt.Errorf("storage: guardrail %s: %w", id, ErrReferenced)
	}

	tag, err := db.pool.Exec(ctx, `DELETE FROM guardrails WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete guardrail: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: guardrail %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateRuleEmbedding stores the precomputed embedding for a rule. The
// semantic classifier warms these at guardrail load instead of embedding
// every rule on every validation.
func (db *DB) UpdateRuleEmbedding(ctx context.Context, ruleID uuid.UUID, vec pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE guardrail_rules SET embedding = $1 WHERE id = $2`, vec, ruleID,
	)
	if err != nil {
		return fmt.Errorf("storage: update rule embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: rule %s: %w", ruleID, ErrNotFound)
	}
	return nil
}

// GetRuleEmbeddings returns the stored embeddings for a guardrail's rules.
// Rules without a computed embedding are absent from the map.
func (db *DB) GetRuleEmbeddings(ctx context.Context, guardrailID uuid.UUID) (map[uuid.UUID]pgvector.Vector, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, embedding FROM guardrail_rules
		 WHERE guardrail_id = $1 AND embedding IS NOT NULL`, guardrailID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get rule embeddings: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]pgvector.Vector)
	for rows.Next() {
		var id uuid.UUID
		var vec pgvector.Vector
		if err := rows.Scan(&id, &vec); err != nil {
			return nil, fmt.Errorf("storage: scan rule embedding: %w", err)
		}
		out[id] = vec
	}
	return out, rows.Err()
}
