package spam

import (
	"strings"
	"unicode"
)

// normalizeContent lowercases message text and strips everything except
// letters, digits and spaces so cosmetic variation does not defeat
// comparison.
func normalizeContent(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	for _, r := range strings.ToLower(content) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// tokenSet splits normalized content into its unique tokens.
func tokenSet(content string) map[string]struct{} {
	fields := strings.Fields(normalizeContent(content))
	set := make(map[string]struct{}, len(fields))

	for _, field := range fields {
		set[field] = struct{}{}
	}

	return set
}

// intersect keeps only the tokens of a that also appear in b,
// mutating and returning a.
func intersect(a, b map[string]struct{}) map[string]struct{} {
	for token := range a {
		if _, exists := b[token]; !exists {
			delete(a, token)
		}
	}

	return a
}

// overlapCount returns how many tokens the two sets share.
func overlapCount(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}

	count := 0

	for token := range a {
		if _, exists := b[token]; exists {
			count++
		}
	}

	return count
}

// containsAll reports whether every token of sub appears in set.
func containsAll(set, sub map[string]struct{}) bool {
	if len(sub) == 0 {
		return false
	}

	for token := range sub {
		if _, exists := set[token]; !exists {
			return false
		}
	}

	return true
}
