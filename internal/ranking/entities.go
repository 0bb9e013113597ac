package ranking

import (
	"strings"
	"unicode"
)

var capitalizedStopwords = map[string]bool{
	"The": true, "A": true, "My": true, "And": true, "Or": true, "In": true,
	"On": true, "At": true, "To": true, "For": true, "Of": true, "With": true,
	"That": true, "This": true, "It": true,
}

var placeSuffixes = map[string]bool{
	"desert": true, "mountain": true, "river": true, "city": true,
	"island": true, "lake": true, "valley": true, "park": true,
	"ocean": true, "sea": true, "bay": true, "canyon": true,
	"heights": true, "falls": true, "peninsula": true, "harbor": true,
	"port": true, "strait": true, "glacier": true, "forest": true,
	"beach": true,
}

var orgMarkers = map[string]bool{
	"inc": true, "corp": true, "llc": true, "ltd": true, "co": true,
	"group": true, "bank": true, "university": true, "college": true,
	"institute": true, "foundation": true, "association": true,
}

func isCapitalized(word string) bool {
	if word == "" {
		return false
	}
	return unicode.IsUpper([]rune(word)[0])
}

func classifySequence(words []string) EntityType {
	if len(words) == 0 {
		return EntityOther
	}

	lastLower := strings.ToLower(words[len(words)-1])
	if placeSuffixes[lastLower] {
		return EntityPlace
	}

	for _, w := range words {
		if orgMarkers[strings.ToLower(w)] {
			return EntityOrganization
		}
	}

	if len(words) >= 2 && len(words) <= 3 {
		return EntityPerson
	}

	return EntityOther
}

// ExtractEntities finds capitalized-run entities in the original
// (case-preserved) query, per spec.md §4.4 step 2. All-lowercase queries
// produce no entities; sentence-initial single capitalized tokens are
// filtered out after stopword removal.
func ExtractEntities(originalQuery string) []Entity {
	var results []Entity

	hasUpper := false
	for _, ch := range originalQuery {
		if unicode.IsUpper(ch) {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return results
	}

	words := strings.Fields(originalQuery)
	if len(words) == 0 {
		return results
	}

	var currentSequence []string
	sequenceStartIndex := -1

	flush := func() {
		if len(currentSequence) == 0 {
			return
		}

		var filtered []string
		for _, w := range currentSequence {
			if !capitalizedStopwords[w] {
				filtered = append(filtered, w)
			}
		}

		if sequenceStartIndex == 0 && len(filtered) <= 1 {
			currentSequence = nil
			sequenceStartIndex = -1
			return
		}
		if len(filtered) == 0 {
			currentSequence = nil
			sequenceStartIndex = -1
			return
		}

		results = append(results, Entity{
			Text: strings.Join(filtered, " "),
			Type: classifySequence(filtered),
		})
		currentSequence = nil
		sequenceStartIndex = -1
	}

	for i, word := range words {
		if isCapitalized(word) {
			if len(currentSequence) == 0 {
				sequenceStartIndex = i
			}
			currentSequence = append(currentSequence, word)
		} else {
			flush()
		}
	}
	flush()

	return results
}
