package utils

import "github.com/google/uuid"

// NewParticleID generates a UUIDv4 string for use as a particle id.
func NewParticleID() string {
	return uuid.NewString()
}
