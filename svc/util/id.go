package util

import (
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pkg/errors"
)

const (
	base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	// 18 base62 symbols carry ~107 bits before truncation.
	randomLen = 18
	MaxIDLen  = 24
)

// NewID returns base36(now in ms) + "-" + random, cut to MaxIDLen.
// No shared counter is involved, so concurrent processes can mint IDs freely.
func NewID(now time.Time) (string, error) {
	random, err := gonanoid.Generate(base62Chars, randomLen)
	if err != nil {
		return "", errors.Wrap(err, "rand fail")
	}
	id := strconv.FormatInt(now.UnixMilli(), 36) + "-" + random
	if len(id) > MaxIDLen {
		id = id[:MaxIDLen]
	}
	return id, nil
}

// ValidID reports whether s could have been produced by NewID.
func ValidID(s string) bool {
	if s == "" || len(s) > MaxIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
		default:
			return false
		}
	}
	return true
}
