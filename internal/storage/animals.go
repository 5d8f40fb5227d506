package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cmzoo/menagerie/internal/model"
)

// GetAnimal retrieves an animal reference record. The core only reads
// animals — their lifecycle belongs to the administrative CRUD screens.
func (db *DB) GetAnimal(ctx context.Context, id uuid.UUID) (model.Animal, error) {
	var a model.Animal
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, species, habitat, created_at FROM animals WHERE id = $1`, id,
	).Scan(&a.ID, &a.Name, &a.Species, &a.Habitat, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Animal{}, fmt.Errorf("storage: animal %s: %w", id, ErrNotFound)
		}
		return model.Animal{}, fmt.Errorf("storage: get animal: %w", err)
	}
	return a, nil
}

// ListAnimals returns animal records, paginated.
func (db *DB) ListAnimals(ctx context.Context, limit, offset int) ([]model.Animal, int, error) {
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
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM animals`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count animals: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, name, species, habitat, created_at
		 FROM animals ORDER BY name ASC LIMIT $1 OFFSET $2`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list animals: %w", err)
	}
	defer rows.Close()

	var out []model.Animal
	for rows.Next() {
		var a model.Animal
		if err := rows.Scan(&a.ID, &a.Name, &a.Species, &a.Habitat, &a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan animal: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// CreateAnimal inserts an animal record. Exposed for seeding and tests;
// the admin screens own animal CRUD in production.
func (db *DB) CreateAnimal(ctx context.Context, a model.Animal) (model.Animal, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO animals (id, name, species, habitat) VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		a.ID, a.Name, a.Species, a.Habitat,
	).Scan(&a.CreatedAt)
	if err != nil {
		return model.Animal{}, fmt.Errorf("storage: create animal: %w", err)
	}
	return a, nil
}
