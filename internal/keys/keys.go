package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Hash returns a short, stable digest of s for embedding in cache keys.
// 16 hex chars keeps keys readable; collisions are accepted at that width.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}

// EscapeGlob escapes Redis glob metacharacters so s matches only itself
// inside a SCAN pattern.
func EscapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// Join glues key segments with ':'.
func Join(parts ...string) string { return strings.Join(parts, ":") }
