// Package uuid provides UUID v4 generation plus the namespaced temporary
// record ids used before the remote authority issues a real id.
package uuid

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// LocalPrefix namespaces locally-generated record ids. The remote authority
// never issues ids with this prefix, so a prefixed id is always a record
// that has not yet been created remotely.
const LocalPrefix = "local_"

// UUID v4 format: xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx
// where y is one of [8, 9, a, b] (variant bits)
var uuidV4Regex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)

// New generates a new UUID v4.
func New() string {
	return uuid.New().String()
}

// NewLocal generates a namespaced temporary record id.
func NewLocal() string {
	return LocalPrefix + uuid.New().String()
}

// IsLocal reports whether an id is a locally-generated temporary id.
func IsLocal(id string) bool {
	return strings.HasPrefix(id, LocalPrefix)
}

// IsValid checks if a string is a valid UUID v4.
// Enforces strict format with dashes and correct variant bits.
func IsValid(s string) bool {
	return uuidV4Regex.MatchString(s)
}

// Validate returns an error if the string is not a valid UUID v4.
func Validate(s string) error {
	if !IsValid(s) {
		return fmt.Errorf("invalid UUID v4 format: %q", s)
	}
	return nil
}
