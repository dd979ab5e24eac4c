package matching

import (
	"sort"
	"strings"
)

// Suffix tokens that carry no identity signal in timing exports. Stripped
// repeatedly from the tail, so "Foo RC Team" loses both.
var noiseSuffixes = map[string]struct{}{
	"rc":      {},
	"raceway": {},
	"club":    {},
	"inc":     {},
	"team":    {},
}

// Normalize canonicalizes a free-text driver name into a comparison key.
// It is pure and deterministic; an empty result is valid and simply never
// matches anything non-empty.
//
// Short names ("John Smith" / "Smith John") normalize identically because
// their tokens are sorted. Multi-word names that contained a literal hyphen
// keep their token order: those are plausible team or double-barreled names
// where order matters.
//
// The hyphen exemption makes Normalize non-idempotent for hyphenated names
// of three or more tokens: the output has no hyphen left, so a second pass
// would sort the tokens. Always normalize from the raw name, never from a
// stored key.
func Normalize(name string) string {
	if name == "" {
		return ""
	}

	hadHyphen := strings.Contains(name, "-")

	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, "&", "and")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.ReplaceAll(s, "_", " ")
	s = strings.ReplaceAll(s, "'", "")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	tokens := strings.Fields(b.String())

	for len(tokens) > 0 {
		if _, ok := noiseSuffixes[tokens[len(tokens)-1]]; !ok {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}

	if len(tokens) > 1 && (len(tokens) <= 2 || !hadHyphen) {
		sort.Strings(tokens)
	}

	return strings.Join(tokens, " ")
}
