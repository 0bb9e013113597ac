package ranking

import (
	"strings"
	"unicode"
)

// noisePunctuation is dropped outright during normalization.
var noisePunctuation = map[rune]bool{
	'!': true, '?': true, '$': true, '@': true, '#': true, '%': true,
	'^': true, '&': true, '*': true, '(': true, ')': true, '{': true,
	'}': true, '[': true, ']': true, '~': true, '`': true, '"': true,
	'\'': true,
}

// Normalize lower-cases, strips noise punctuation, collapses whitespace and
// repeated dash separators, and trims a raw query, per spec.md §4.4 step 1.
func Normalize(raw string) NormalizedQuery {
	working := strings.TrimSpace(raw)
	if runes := []rune(working); len(runes) >= 2 {
		first, last := runes[0], runes[len(runes)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			working = string(runes[1 : len(runes)-1])
		}
	}

	var b strings.Builder
	b.Grow(len(working))

	for _, ch := range working {
		if noisePunctuation[ch] {
			continue
		}
		if ch == '–' || ch == '—' {
			ch = '-'
		}

		current := b.String()

		if unicode.IsSpace(ch) {
			if current == "" {
				continue
			}
			prev := rune(current[len(current)-1])
			if unicode.IsSpace(prev) || prev == '-' {
				continue
			}
			b.WriteRune(' ')
			continue
		}

		if ch == '-' {
			if current != "" {
				prev := rune(current[len(current)-1])
				if prev == '-' {
					continue
				}
				if unicode.IsSpace(prev) {
					trimmed := strings.TrimSuffix(current, " ")
					if strings.HasSuffix(trimmed, "-") {
						continue
					}
					b.Reset()
					b.WriteString(trimmed)
				}
			}
			b.WriteRune('-')
			continue
		}

		b.WriteRune(unicode.ToLower(ch))
	}

	return NormalizedQuery{
		Original:   raw,
		Normalized: strings.TrimSpace(b.String()),
	}
}
