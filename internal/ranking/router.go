package ranking

import (
	"regexp"
	"strings"
)

var extensionLikeToken = regexp.MustCompile(`\b[a-z0-9_\-]+\.[a-z0-9]{1,8}\b`)
var codePunctuation = regexp.MustCompile(`[<>{}\[\]();=#]`)

func looksLikePathOrCode(queryLower string) bool {
	if strings.ContainsAny(queryLower, "/\\") ||
		strings.HasPrefix(queryLower, ".") ||
		strings.HasPrefix(queryLower, "~") ||
		strings.Contains(queryLower, "::") {
		return true
	}
	if extensionLikeToken.MatchString(queryLower) {
		return true
	}
	return codePunctuation.MatchString(queryLower)
}

func containsAny(lower string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// RouterResult is the output of the Route stage.
type RouterResult struct {
	QueryClass            QueryClass
	QueryDomain           QueryDomain
	RouterConfidence      float64
	QueryDomainConfidence float64
	SemanticNeedScore     float64
	Valid                 bool
}

// Route assigns a QueryClass and QueryDomain and derives a semantic-need
// score, per spec.md §4.4 step 3.
func Route(cleanedQuery string, keyTokens []string) RouterResult {
	var result RouterResult
	if strings.TrimSpace(cleanedQuery) == "" {
		return result
	}

	lower := strings.ToLower(cleanedQuery)
	pathOrCode := looksLikePathOrCode(lower)
	tokenCount := len(keyTokens)

	switch {
	case pathOrCode:
		result.QueryClass = QueryClassPathOrCode
		result.RouterConfidence = 0.88
	case tokenCount >= 3:
		result.QueryClass = QueryClassNaturalLanguage
		bonus := float64(tokenCount-3) * 0.03
		if bonus > 0.15 {
			bonus = 0.15
		}
		result.RouterConfidence = 0.75 + bonus
	default:
		result.QueryClass = QueryClassShortAmbiguous
		if tokenCount == 0 {
			result.RouterConfidence = 0.45
		} else {
			result.RouterConfidence = 0.60
		}
	}

	switch {
	case containsAny(lower, []string{"cpp", "h", "js", "ts", "swift", "python", "go", "rust",
		"function", "class", "method", "api", "endpoint", "stacktrace", "exception", "build", "deploy"}):
		result.QueryDomain = QueryDomainDevCode
		result.QueryDomainConfidence = 0.82
	case containsAny(lower, []string{"invoice", "receipt", "budget", "tax", "bank",
		"statement", "expense", "payment"}):
		result.QueryDomain = QueryDomainFinance
		result.QueryDomainConfidence = 0.80
	case containsAny(lower, []string{"photo", "image", "screenshot", "video", "music",
		"podcast", "mp3", "mp4", "png", "jpg"}):
		result.QueryDomain = QueryDomainMedia
		result.QueryDomainConfidence = 0.78
	case containsAny(lower, []string{"resume", "notes", "report", "proposal", "document",
		"contract", "letter", "spreadsheet"}):
		result.QueryDomain = QueryDomainPersonalDocs
		result.QueryDomainConfidence = 0.74
	default:
		result.QueryDomain = QueryDomainGeneral
		result.QueryDomainConfidence = 0.52
	}

	var semanticNeed float64
	switch result.QueryClass {
	case QueryClassNaturalLanguage:
		semanticNeed = 0.68
	case QueryClassShortAmbiguous:
		semanticNeed = 0.38
	case QueryClassPathOrCode:
		semanticNeed = 0.20
	default:
		semanticNeed = 0.30
	}

	if containsAny(lower, []string{"how", "what", "where", "plan", "overview", "design",
		"architecture", "guide", "explain", "related"}) {
		semanticNeed += 0.12
	}
	if containsAny(lower, []string{"pdf", "docx", "xlsx", "png", "jpg", "mp3", "zip"}) {
		semanticNeed -= 0.08
	}

	result.SemanticNeedScore = clamp01(semanticNeed)
	result.RouterConfidence = clamp01(result.RouterConfidence)
	result.QueryDomainConfidence = clamp01(result.QueryDomainConfidence)
	result.Valid = true
	return result
}
