package ranking

import (
	"strings"
	"time"
)

// Analyze runs the full Structure stage (spec.md §4.4 step 2): normalize,
// extract entities, parse temporal expressions, classify doc-type intent,
// detect location hints, and collect key tokens.
func Analyze(originalQuery string, now time.Time) StructuredQuery {
	sq := StructuredQuery{OriginalQuery: originalQuery}

	normalized := Normalize(originalQuery)
	sq.CleanedQuery = normalized.Normalized

	sq.Entities = ExtractEntities(originalQuery)
	sq.Temporal = ParseTemporal(originalQuery, now)
	sq.DocTypeIntent = ClassifyDocType(sq.CleanedQuery)

	if strings.Contains(sq.CleanedQuery, "downloads") {
		sq.LocationHints = append(sq.LocationHints, "downloads")
	}
	if strings.Contains(sq.CleanedQuery, "documents") {
		sq.LocationHints = append(sq.LocationHints, "documents")
	}
	if strings.Contains(sq.CleanedQuery, "desktop") {
		sq.LocationHints = append(sq.LocationHints, "desktop")
	}

	for _, token := range strings.Fields(sq.CleanedQuery) {
		if len(token) >= 3 && !queryStopwords[token] {
			sq.KeyTokens = append(sq.KeyTokens, token)
		}
	}

	return sq
}
