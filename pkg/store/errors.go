package store

import (
	"errors"
	"strings"
)

// ErrDuplicate signals a uniqueness violation. The service layer
// translates it to a CONFLICT at the API boundary.
var ErrDuplicate = errors.New("duplicate row")

// isUniqueViolation matches driver-level unique constraint failures so
// both Postgres and the in-memory store report them the same way.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
