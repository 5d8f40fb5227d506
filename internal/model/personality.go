package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Personality describes how an assistant speaks. A personality referenced
// by a live assistant is immutable in place — changes go through a new
// sandbox and a fresh promotion. Storage enforces the reference check.
type Personality struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Tone       string    `json:"tone"`
	Formality  int       `json:"formality"`
	Enthusiasm int       `json:"enthusiasm"`
	Traits     []string  `json:"traits"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Formality and enthusiasm are bounded 1-10 scales.
const (
	PersonalityScaleMin = 1
	PersonalityScaleMax = 10
)

// Validate checks the personality's shape at the administrative boundary.
func (p Personality) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("personality name is required")
	}
	if p.Formality < PersonalityScaleMin || p.Formality > PersonalityScaleMax {
		return fmt.Errorf("formality must be between %d and %d", PersonalityScaleMin, PersonalityScaleMax)
	}
	if p.Enthusiasm < PersonalityScaleMin || p.Enthusiasm > PersonalityScaleMax {
		return fmt.Errorf("enthusiasm must be between %d and %d", PersonalityScaleMin, PersonalityScaleMax)
	}
	return nil
}
