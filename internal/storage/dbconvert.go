package storage

import (
	"fmt"
	"time"

	"gatekeeper/internal/models"
)

// toUnixMillis converts a timestamp for the SQLite INTEGER columns.
func toUnixMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// fromUnixMillis converts a SQLite INTEGER column back to UTC time.
func fromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// parseRole validates a role read from the database.
func parseRole(s string) (models.Role, error) {
	role := models.Role(s)
	if !role.Valid() {
		return "", fmt.Errorf("invalid role %q in users table", s)
	}
	return role, nil
}
