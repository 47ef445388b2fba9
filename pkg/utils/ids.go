package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GenerateID generates a random identifier
func GenerateID() string {
	return uuid.New().String()
}

// ShortID returns the first block of a generated id, handy for log correlation
func ShortID() string {
	id := GenerateID()
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}
