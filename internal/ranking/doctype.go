package ranking

import "strings"

type multiWordPattern struct {
	phrase string
	intent string
}

var multiWordDocPatterns = []multiWordPattern{
	{"lease agreement", "legal_document"},
	{"rental agreement", "legal_document"},
	{"credit card", "financial_document"},
	{"bank statement", "financial_document"},
	{"tax return", "financial_document"},
	{"tax form", "financial_document"},
	{"cover letter", "job_document"},
	{"meeting notes", "notes"},
	{"primary source", "reference_material"},
}

type singleWordPattern struct {
	keyword string
	intent  string
}

var singleWordDocPatterns = []singleWordPattern{
	{"lease", "legal_document"},
	{"contract", "legal_document"},
	{"agreement", "legal_document"},
	{"invoice", "financial_document"},
	{"receipt", "financial_document"},
	{"budget", "financial_document"},
	{"resume", "job_document"},
	{"cv", "job_document"},
	{"application", "application_form"},
	{"form", "application_form"},
	{"report", "report"},
	{"analysis", "report"},
	{"presentation", "presentation"},
	{"slides", "presentation"},
	{"photo", "image"},
	{"picture", "image"},
	{"screenshot", "image"},
	{"spreadsheet", "spreadsheet"},
	{"notes", "notes"},
	{"manual", "documentation"},
	{"documentation", "documentation"},
	{"guide", "documentation"},
}

// ClassifyDocType infers document-type intent from a cleaned, lower-cased
// query, per spec.md §4.4 step 2. Multi-word patterns take precedence over
// single-word ones; single-word patterns only match whole tokens.
func ClassifyDocType(queryLower string) string {
	if queryLower == "" {
		return ""
	}

	for _, p := range multiWordDocPatterns {
		if strings.Contains(queryLower, p.phrase) {
			return p.intent
		}
	}

	tokens := strings.Fields(queryLower)
	for _, p := range singleWordDocPatterns {
		for _, token := range tokens {
			if token == p.keyword {
				return p.intent
			}
		}
	}

	return ""
}
