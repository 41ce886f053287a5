package util

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewID returns a time-ordered identifier, optionally prefixed ("er_01J...").
func NewID(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// Truncate shortens value to at most limit runes, marking the cut with an ellipsis.
func Truncate(value string, limit int) string {
	runes := []rune(value)
	if limit <= 0 || len(runes) <= limit {
		return value
	}
	if limit <= 3 {
		return string(runes[:limit])
	}
	return string(runes[:limit-3]) + "..."
}
