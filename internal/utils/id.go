package utils

import "github.com/google/uuid"

// NewID returns a random (v4) identifier for ephemeral objects such as connections.
func NewID() string {
	return uuid.NewString()
}

// IsID reports whether s parses as an identifier produced by NewID.
func IsID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
