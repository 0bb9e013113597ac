package ranking

import (
	"math"
	"sort"
	"strings"
	"time"
)

var junkPathPatterns = []string{
	"/node_modules/", "/.build/", "/__pycache__/", "/.cache/",
	"/deriveddata/", "/.trash/", "/vendor/bundle/", "/.git/",
}

var importantDotfiles = map[string]bool{
	".gitignore": true, ".gitattributes": true, ".gitmodules": true,
	".editorconfig": true, ".env": true, ".envrc": true, ".zshrc": true,
	".bashrc": true, ".profile": true, ".vimrc": true, ".tmux.conf": true,
	".prettierrc": true, ".eslintrc": true, ".npmrc": true, ".bsignore": true,
}

// Scorer computes per-candidate score breakdowns from a fixed set of
// weights, per spec.md §4.4 step 6.
type Scorer struct {
	weights ScoringWeights
	context ContextSignals
}

// ContextSignals computes the cwd-proximity and app-context components of
// contextBoost. Kept as an interface so callers can supply a real
// filesystem-aware implementation or a deterministic fake for tests.
type ContextSignals interface {
	CWDProximityBoost(path, cwdPath string, weight float64) float64
	AppContextBoost(path, appBundleID string, weight float64) float64
}

// NewScorer builds a Scorer with the given weights and context-signal
// provider.
func NewScorer(weights ScoringWeights, context ContextSignals) *Scorer {
	return &Scorer{weights: weights, context: context}
}

func (s *Scorer) computeBaseMatchScore(matchType MatchType, bm25RawScore float64) float64 {
	switch matchType {
	case MatchExactName:
		return s.weights.ExactNameWeight
	case MatchPrefixName:
		return s.weights.PrefixNameWeight
	case MatchContainsName:
		return s.weights.ContainsNameWeight
	case MatchExactPath:
		return s.weights.ExactPathWeight
	case MatchPrefixPath:
		return s.weights.PrefixPathWeight
	case MatchFuzzy:
		return s.weights.FuzzyMatchWeight
	case MatchContent:
		return math.Max(0, -bm25RawScore) * s.weights.ContentMatchWeight
	default:
		return 0
	}
}

func (s *Scorer) computeRecencyBoost(modifiedAtEpoch float64, now time.Time) float64 {
	if s.weights.RecencyWeight <= 0 || s.weights.RecencyDecayDays <= 0 {
		return 0
	}

	nowEpoch := float64(now.Unix())
	timeSince := nowEpoch - modifiedAtEpoch
	if timeSince < 0 {
		return s.weights.RecencyWeight
	}

	decayConstant := s.weights.RecencyDecayDays * 86400
	return s.weights.RecencyWeight * math.Exp(-timeSince/decayConstant)
}

func (s *Scorer) computeFrequencyBoost(openCount int, lastOpenEpoch float64, now time.Time) float64 {
	if openCount <= 0 {
		return 0
	}

	var baseTierBoost float64
	switch {
	case openCount >= 21:
		baseTierBoost = s.weights.FrequencyTier3Boost
	case openCount >= 6:
		baseTierBoost = s.weights.FrequencyTier2Boost
	default:
		baseTierBoost = s.weights.FrequencyTier1Boost
	}

	if lastOpenEpoch > 0 {
		nowEpoch := float64(now.Unix())
		daysSinceLastOpen := (nowEpoch - lastOpenEpoch) / 86400
		recencyModifier := 0.5 + 0.5*math.Exp(-daysSinceLastOpen/30)
		return baseTierBoost * recencyModifier
	}

	return baseTierBoost
}

func isImportantDotfile(fileName string) bool {
	return importantDotfiles[strings.ToLower(fileName)]
}

func (s *Scorer) computeJunkPenalty(filePath string) float64 {
	if s.weights.JunkPenaltyWeight <= 0 {
		return 0
	}

	lastSlash := strings.LastIndex(filePath, "/")
	fileName := filePath
	if lastSlash >= 0 {
		fileName = filePath[lastSlash+1:]
	}
	if isImportantDotfile(fileName) {
		return 0
	}

	pathLower := strings.ToLower(filePath)
	for _, pattern := range junkPathPatterns {
		if strings.Contains(pathLower, pattern) {
			return s.weights.JunkPenaltyWeight
		}
	}
	return 0
}

func (s *Scorer) computePinnedBoost(isPinned bool) float64 {
	if isPinned {
		return s.weights.PinnedBoostWeight
	}
	return 0
}

// ComputeScore fills in a candidate's ScoreBreakdown, per spec.md §4.4
// step 6. semanticBoost/crossEncoderBoost/structuredQueryBoost/m2SignalBoost
// are passthrough inputs the caller has already computed upstream.
func (s *Scorer) ComputeScore(c *Candidate, ctx QueryContext, now time.Time) ScoreBreakdown {
	var breakdown ScoreBreakdown

	breakdown.BaseMatchScore = s.computeBaseMatchScore(c.MatchType, c.BM25RawScore)
	if c.MatchType == MatchFuzzy && c.FuzzyDistance > 1 {
		penalty := 0.25
		if c.FuzzyDistance == 2 {
			penalty = 0.5
		}
		breakdown.BaseMatchScore *= penalty
	}

	breakdown.RecencyBoost = s.computeRecencyBoost(c.ModifiedAtEpoch, now)
	breakdown.FrequencyBoost = s.computeFrequencyBoost(c.OpenCount, c.LastOpenEpoch, now)

	if c.MatchType == MatchContent {
		breakdown.RecencyBoost *= 0.25
		breakdown.FrequencyBoost *= 0.5
	}

	var ctxBoost float64
	if s.context != nil {
		if ctx.CWDPath != "" {
			ctxBoost += s.context.CWDProximityBoost(c.Path, ctx.CWDPath, s.weights.CWDBoostWeight)
		}
		if ctx.FrontmostAppBundleID != "" {
			ctxBoost += s.context.AppContextBoost(c.Path, ctx.FrontmostAppBundleID, s.weights.AppContextBoostWeight)
		}
	}
	breakdown.ContextBoost = ctxBoost

	breakdown.PinnedBoost = s.computePinnedBoost(c.IsPinned)
	breakdown.JunkPenalty = s.computeJunkPenalty(c.Path)

	breakdown.SemanticBoost = c.ScoreBreakdown.SemanticBoost
	breakdown.CrossEncoderBoost = c.ScoreBreakdown.CrossEncoderBoost
	breakdown.StructuredQueryBoost = c.ScoreBreakdown.StructuredQueryBoost
	breakdown.M2SignalBoost = c.ScoreBreakdown.M2SignalBoost
	breakdown.FeedbackBoost = c.ScoreBreakdown.FeedbackBoost

	return breakdown
}

// RankResults scores every candidate and stable-sorts by (score DESC,
// itemId ASC), per spec.md §4.4 steps 6 and 8.
func (s *Scorer) RankResults(results []*Candidate, ctx QueryContext, now time.Time) {
	for _, c := range results {
		c.ScoreBreakdown = s.ComputeScore(c, ctx, now)
		c.Score = c.ScoreBreakdown.Sum()
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ItemID < results[j].ItemID
	})
}
