package ranking

import (
	"regexp"
	"strings"

	"github.com/agnivade/levenshtein"
)

var dashSeparator = regexp.MustCompile(`\s*[-\x{2013}\x{2014}_]+\s*`)
var multiSpace = regexp.MustCompile(`\s{2,}`)

func normalizeSeparators(s string) string {
	s = dashSeparator.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// StripExtension removes a trailing ".ext" suffix, leaving dotfiles like
// ".bashrc" untouched.
func StripExtension(fileName string) string {
	dot := strings.LastIndex(fileName, ".")
	if dot <= 0 {
		return fileName
	}
	return fileName[:dot]
}

const defaultFuzzyMaxDistance = 2

// IsFuzzyMatch reports whether fileName's basename (without extension) is
// within maxDistance edits of query.
func IsFuzzyMatch(query, fileName string, maxDistance int) (bool, int) {
	if query == "" || fileName == "" {
		return false, 0
	}
	nameNoExt := StripExtension(fileName)
	dist := levenshtein.ComputeDistance(strings.ToLower(query), strings.ToLower(nameNoExt))
	return dist <= maxDistance, dist
}

// ClassifyMatch computes a candidate's MatchType in priority order, per
// spec.md §4.4 step 5. When no structural match is found, fuzzy matching
// against the basename is attempted last; how the caller already classified
// the candidate plays no part.
func ClassifyMatch(query, fileName, filePath string) (MatchType, int) {
	if query == "" {
		return MatchContent, 0
	}

	queryLower := strings.ToLower(query)
	nameLower := strings.ToLower(fileName)
	nameNoExtLower := strings.ToLower(StripExtension(fileName))

	queryNorm := normalizeSeparators(queryLower)
	nameNoExtNorm := normalizeSeparators(nameNoExtLower)

	if nameNoExtNorm == queryNorm {
		return MatchExactName, 0
	}
	if strings.HasPrefix(nameLower, queryLower) {
		return MatchPrefixName, 0
	}
	if strings.Contains(nameLower, queryLower) {
		return MatchContainsName, 0
	}
	if filePath == query {
		return MatchExactPath, 0
	}
	if strings.HasPrefix(filePath, query) {
		return MatchPrefixPath, 0
	}
	if ok, dist := IsFuzzyMatch(query, fileName, defaultFuzzyMaxDistance); ok {
		return MatchFuzzy, dist
	}

	return MatchContent, 0
}
