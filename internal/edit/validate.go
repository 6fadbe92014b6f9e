package edit

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/dmsync/internal/msgstore"
)

// MaxContentLength is the longest accepted message content, in characters.
const MaxContentLength = 5000

var (
	// ErrValidation wraps every content validation failure.
	ErrValidation      = errors.New("invalid edit content")
	ErrEmptyContent    = fmt.Errorf("%w: content is empty", ErrValidation)
	ErrTooLong         = fmt.Errorf("%w: content exceeds %d characters", ErrValidation, MaxContentLength)
	ErrNotEditable     = errors.New("message is not editable")
	ErrMessageNotFound = errors.New("message not found")
	ErrVersionNotFound = errors.New("version not found")
)

// Validate checks new message content. A nil error means valid.
func Validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrTooLong
	}
	return nil
}

// CanEdit reports whether userID may edit m. There is no time limit.
func CanEdit(m msgstore.Message, userID string) bool {
	return !m.IsRecalled && m.Type == msgstore.TypeText && m.SenderID == userID
}
