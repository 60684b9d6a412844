package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time. Services take one so expiry can be tested deterministically.
type Clock func() time.Time

// GenerateID generates a new unique ID with the given prefix
func GenerateID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

// GetCurrentTime returns the current time in UTC
func GetCurrentTime() time.Time {
	return time.Now().UTC()
}
