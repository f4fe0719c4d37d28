package engagement

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxCommentLength bounds a comment message in runes.
const MaxCommentLength = 1000

var (
	ErrEmptyMessage   = errors.New("message is required")
	ErrMessageTooLong = fmt.Errorf("message must be at most %d characters", MaxCommentLength)
	ErrEmptyViewer    = errors.New("viewer id is required")
)

type Comment struct {
	ID        int64
	SessionID int64
	Ref       Ref
	Message   string
	CreatedAt time.Time
}

type Counts struct {
	Likes    int
	Comments int
}

// NormalizeMessage trims message and checks it is a storable comment body.
func NormalizeMessage(message string) (string, error) {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return "", ErrEmptyMessage
	}
	if utf8.RuneCountInString(trimmed) > MaxCommentLength {
		return "", ErrMessageTooLong
	}
	return trimmed, nil
}

// IsValidation reports whether err was caused by bad caller input rather
// than by the store.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidEntity) ||
		errors.Is(err, ErrInvalidSession) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrMessageTooLong) ||
		errors.Is(err, ErrEmptyViewer)
}
