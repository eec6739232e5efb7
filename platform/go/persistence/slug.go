package persistence

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// MaxSlugLen bounds tenant slugs; database names derived from them are capped separately.
const MaxSlugLen = 100

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// NormalizeSlug trims whitespace and lowercases the value, then checks it is
// made of lowercase letters, digits and hyphens only.
func NormalizeSlug(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", errors.New("slug is required")
	}

	normalized := strings.ToLower(trimmed)
	if len(normalized) > MaxSlugLen {
		return "", fmt.Errorf("invalid slug %q: must not exceed %d characters", input, MaxSlugLen)
	}
	if !slugPattern.MatchString(normalized) {
		return "", fmt.Errorf("invalid slug %q: must match ^[a-z0-9-]+$", input)
	}

	return normalized, nil
}
