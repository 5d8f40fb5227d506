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

// Operator is an administrative user of the configuration console.
// Credentials are an argon2id-hashed API key exchanged for a JWT.
type Operator struct {
	ID         uuid.UUID  `json:"id"`
	OperatorID string     `json:"operator_id"`
	Name       string     `json:"name"`
	Role       model.Role `json:"role"`
	APIKeyHash string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeen   *time.Time `json:"last_seen,omitempty"`
}

// CreateOperator inserts a new operator.
func (db *DB) CreateOperator(ctx context.Context, op Operator) (Operator, error) {
	if op.ID == uuid.Nil {
		op.ID = uuid.New()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO operators (id, operator_id, name, role, api_key_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		op.ID, op.OperatorID, op.Name, string(op.Role), op.APIKeyHash, op.CreatedAt,
	)
	if err != nil {
		return Operator{}, fmt.Errorf("storage: create operator: %w", err)
	}
	return op, nil
}

// GetOperatorByOperatorID retrieves an operator by its login identifier.
func (db *DB) GetOperatorByOperatorID(ctx context.Context, operatorID string) (Operator, error) {
	var op Operator
	var role string
	err := db.pool.QueryRow(ctx,
		`SELECT id, operator_id, name, role, api_key_hash, created_at, last_seen
		 FROM operators WHERE operator_id = $1`, operatorID,
	).Scan(&op.ID, &op.OperatorID, &op.Name, &role, &op.APIKeyHash, &op.CreatedAt, &op.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operator{}, fmt.Errorf("storage: operator %s: %w", operatorID, ErrNotFound)
		}
		return Operator{}, fmt.Errorf("storage: get operator: %w", err)
	}
	op.Role = model.Role(role)
	return op, nil
}

// TouchOperatorLastSeen updates last_seen to now(). Fire-and-forget from
// the auth path — callers should not block on the result.
func (db *DB) TouchOperatorLastSeen(ctx context.Context, operatorID string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE operators SET last_seen = now() WHERE operator_id = $1`, operatorID)
	if err != nil {
		return fmt.Errorf("storage: touch operator last_seen: %w", err)
	}
	return nil
}

// CountOperators returns the number of registered operators. Used at boot
// to decide whether to seed the bootstrap admin.
func (db *DB) CountOperators(ctx context.Context) (int, error) {
	var count int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM operators`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: count operators: %w", err)
	}
	return count, nil
}
