package ranking

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type monthEntry struct {
	name  string
	month int
}

var monthsByName = []monthEntry{
	{"january", 1}, {"february", 2}, {"march", 3}, {"april", 4},
	{"may", 5}, {"june", 6}, {"july", 7}, {"august", 8},
	{"september", 9}, {"october", 10}, {"november", 11}, {"december", 12},
}

type seasonEntry struct {
	name                 string
	startMonth, endMonth int
}

var seasonsByName = []seasonEntry{
	{"summer", 6, 8},
	{"winter", 12, 2},
	{"spring", 3, 5},
	{"fall", 9, 11},
	{"autumn", 9, 11},
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)
var agoPattern = regexp.MustCompile(`(\d+)\s+(months?|weeks?|days?)\s+ago`)

func extractAdjacentYear(lower string, keywordStart, keywordEnd int) (int, bool) {
	for _, m := range yearPattern.FindAllStringIndex(lower, -1) {
		matchStart, matchEnd := m[0], m[1]
		if matchEnd+1 == keywordStart || matchStart == keywordEnd+1 ||
			matchEnd == keywordStart || matchStart-1 == keywordEnd {
			year, err := strconv.Atoi(lower[matchStart:matchEnd])
			if err == nil {
				return year, true
			}
		}
	}
	return 0, false
}

func utcEpoch(year, month, day, hour, min, sec int) float64 {
	return float64(time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC).Unix())
}

func daysInMonth(year, month int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func monthRange(month, year int) TemporalRange {
	start := utcEpoch(year, month, 1, 0, 0, 0)
	end := utcEpoch(year, month, daysInMonth(year, month), 23, 59, 59)
	return TemporalRange{StartEpoch: start, EndEpoch: end}
}

func seasonRange(season seasonEntry, year int) TemporalRange {
	if season.startMonth > season.endMonth {
		start := utcEpoch(year, season.startMonth, 1, 0, 0, 0)
		end := utcEpoch(year+1, 2, daysInMonth(year+1, 2), 23, 59, 59)
		return TemporalRange{StartEpoch: start, EndEpoch: end}
	}
	start := utcEpoch(year, season.startMonth, 1, 0, 0, 0)
	end := utcEpoch(year, season.endMonth, daysInMonth(year, season.endMonth), 23, 59, 59)
	return TemporalRange{StartEpoch: start, EndEpoch: end}
}

func yearRange(year int) TemporalRange {
	return TemporalRange{
		StartEpoch: utcEpoch(year, 1, 1, 0, 0, 0),
		EndEpoch:   utcEpoch(year, 12, 31, 23, 59, 59),
	}
}

// ParseTemporal extracts a date range from a query's temporal expressions,
// evaluated relative to now, per spec.md §4.4 step 2. Relative expressions
// take priority over absolute month/season/year references.
func ParseTemporal(query string, now time.Time) *TemporalRange {
	lower := strings.ToLower(strings.TrimSpace(query))
	if lower == "" {
		return nil
	}

	nowUTC := now.UTC()
	currentYear := nowUTC.Year()
	nowEpoch := float64(nowUTC.Unix())

	if strings.Contains(lower, "yesterday") {
		return &TemporalRange{StartEpoch: nowEpoch - 86400, EndEpoch: nowEpoch}
	}
	if strings.Contains(lower, "last week") {
		return &TemporalRange{StartEpoch: nowEpoch - 7*86400, EndEpoch: nowEpoch}
	}
	if strings.Contains(lower, "last month") {
		return &TemporalRange{StartEpoch: nowEpoch - 30*86400, EndEpoch: nowEpoch}
	}
	if strings.Contains(lower, "recent") || strings.Contains(lower, "recently") {
		return &TemporalRange{StartEpoch: nowEpoch - 14*86400, EndEpoch: nowEpoch}
	}

	if m := agoPattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			days := n
			switch {
			case strings.HasPrefix(m[2], "month"):
				days = n * 30
			case strings.HasPrefix(m[2], "week"):
				days = n * 7
			}
			return &TemporalRange{StartEpoch: nowEpoch - float64(days)*86400, EndEpoch: nowEpoch}
		}
	}

	for _, entry := range monthsByName {
		idx := strings.Index(lower, entry.name)
		if idx < 0 {
			continue
		}
		year, ok := extractAdjacentYear(lower, idx, idx+len(entry.name))
		if !ok {
			year = currentYear
		}
		r := monthRange(entry.month, year)
		return &r
	}

	for _, season := range seasonsByName {
		idx := strings.Index(lower, season.name)
		if idx < 0 {
			continue
		}
		year, ok := extractAdjacentYear(lower, idx, idx+len(season.name))
		if !ok {
			year = currentYear
		}
		r := seasonRange(season, year)
		return &r
	}

	if m := yearPattern.FindString(lower); m != "" {
		year, err := strconv.Atoi(m)
		if err == nil {
			r := yearRange(year)
			return &r
		}
	}

	return nil
}
