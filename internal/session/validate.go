package session

import (
	"errors"
	"fmt"
)

// MaxNameLength bounds session names, which become directory names.
const MaxNameLength = 64

// ErrInvalidName is wrapped by every ValidateName failure.
var ErrInvalidName = errors.New("invalid session name")

// ValidateName accepts lowercase letters, digits, '-' and '_', 1 to 64
// characters long.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w %q: longer than %d characters", ErrInvalidName, name, MaxNameLength)
	}
	for i, r := range name {
		if !validNameRune(r) {
			return fmt.Errorf("%w %q: character %q at %d (use a-z, 0-9, '-' or '_')", ErrInvalidName, name, r, i)
		}
	}
	return nil
}

func validNameRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}
