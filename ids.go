package craftbot

import (
	"regexp"

	"github.com/google/uuid"
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// NewSessionID returns a random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// ValidSessionID reports whether id is usable as a session key. Ids double as
// asset directory names and may not contain path separators.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
