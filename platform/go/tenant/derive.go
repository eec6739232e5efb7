package tenant

import (
	"strings"
)

// MaxDatabaseNameLen is the PostgreSQL identifier limit (NAMEDATALEN - 1).
const MaxDatabaseNameLen = 63

// DatabaseName derives the physical database name for a slug using MaxDatabaseNameLen.
func DatabaseName(slug string) string {
	return DatabaseNameWithLimit(slug, MaxDatabaseNameLen)
}

// DatabaseNameWithLimit lowercases the slug, replaces every character outside
// [a-z0-9_] with an underscore, prefixes "t_" when the result starts with a digit
// and truncates to maxLen bytes. A non-positive maxLen falls back to MaxDatabaseNameLen.
func DatabaseNameWithLimit(slug string, maxLen int) string {
	if maxLen <= 0 || maxLen > MaxDatabaseNameLen {
		maxLen = MaxDatabaseNameLen
	}

	lowered := strings.ToLower(strings.TrimSpace(slug))
	var b strings.Builder
	b.Grow(len(lowered) + 2)
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := b.String()
	if name != "" && name[0] >= '0' && name[0] <= '9' {
		name = "t_" + name
	}
	if len(name) > maxLen {
		name = name[:maxLen]
	}
	return name
}
