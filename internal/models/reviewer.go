package models

import (
	"time"

	"github.com/google/uuid"
)

// Reviewer is an account allowed to move opportunities through the workflow.
type Reviewer struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
