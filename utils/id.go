package utils

import "github.com/google/uuid"

// GenerateUniqueID returns a random RFC 4122 identifier.
func GenerateUniqueID() string {
	return uuid.NewString()
}
