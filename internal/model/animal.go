package model

import (
	"time"

	"github.com/google/uuid"
)

// Animal is a zoo-animal reference record. The core only reads animals to
// resolve the optional animal link on sandbox creation; the record itself
// is managed by the administrative CRUD screens.
type Animal struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Species   string    `json:"species"`
	Habitat   string    `json:"habitat,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
