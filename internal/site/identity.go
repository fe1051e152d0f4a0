package site

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
)

// randomIDBytes gives 8 hex characters
const randomIDBytes = 4

// CandidateID derives a site id from the requested alias, or a random token
// when no alias is given. The result is only a candidate: aliases are user
// controlled and may collide with earlier aliases or random tokens, so the
// caller must still reserve it atomically. An alias made entirely of
// disallowed characters yields "" and goes through the same reservation.
func CandidateID(alias string, rnd io.Reader) (string, error) {
	if alias != "" {
		return SanitizeAlias(alias), nil
	}
	if rnd == nil {
		rnd = rand.Reader
	}
	var b [randomIDBytes]byte
	if _, err := io.ReadFull(rnd, b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// SanitizeAlias lower-cases s and drops every character outside [a-z0-9-].
// Runs of whitespace between words become a single hyphen first, so
// "My Cool Site!!" becomes "my-cool-site".
func SanitizeAlias(s string) string {
	s = strings.Join(strings.Fields(strings.ToLower(s)), "-")
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// ValidID reports whether id is non-empty and made only of [a-z0-9-]
func ValidID(id string) bool {
	return id != "" && SanitizeAlias(id) == id
}
