package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerateID returns prefix-<first uuid block>, e.g. evt-1a2b3c4d
func GenerateID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

// GetCurrentTime returns the current time in UTC, truncated to the
// microsecond precision Postgres stores
func GetCurrentTime() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
