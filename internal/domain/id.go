package domain

import (
	"github.com/google/uuid"
)

// NewID generates a UUIDv7 string for runs and recorded events.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
