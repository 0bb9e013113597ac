package ranking

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// ltrWeights is the linear model the personalized reranker applies on top
// of the base score, per spec.md §4.4 step 7.
type ltrWeights struct {
	SemanticWeight     float64 `json:"semanticWeight"`
	CrossEncoderWeight float64 `json:"crossEncoderWeight"`
	FeedbackWeight     float64 `json:"feedbackWeight"`
	RouterWeight       float64 `json:"routerWeight"`
	SemanticNeedWeight float64 `json:"semanticNeedWeight"`
	ExactMatchWeight   float64 `json:"exactMatchWeight"`
	PathCodePenalty    float64 `json:"pathCodePenalty"`
	Bias               float64 `json:"bias"`
}

func defaultLTRWeights() ltrWeights {
	return ltrWeights{
		SemanticWeight:     2.0,
		CrossEncoderWeight: 2.0,
		FeedbackWeight:     1.0,
		RouterWeight:       1.0,
		SemanticNeedWeight: 1.5,
		ExactMatchWeight:   0.8,
		PathCodePenalty:    -1.2,
		Bias:               -2.6,
	}
}

type ltrModelFile struct {
	Version   string     `json:"version"`
	TrainedAt string     `json:"trainedAt"`
	Weights   ltrWeights `json:"weights"`
}

// InteractionStats is the minimal aggregate PersonalizedLTR needs to decide
// whether to (re)train, sourced from the interactions table.
type InteractionStats struct {
	Count        int
	Top3SelectRate float64
}

// PersonalizedLTR is the optional linear reranker of spec.md §4.4 step 7.
// A per-user model lives at modelPath as JSON; when absent it trains a
// coarse model from interaction-history aggregates the first time enough
// history exists.
type PersonalizedLTR struct {
	modelPath    string
	modelVersion string
	weights      ltrWeights
	available    bool
}

// NewPersonalizedLTR constructs an unloaded model bound to modelPath.
func NewPersonalizedLTR(modelPath string) *PersonalizedLTR {
	return &PersonalizedLTR{
		modelPath:    modelPath,
		modelVersion: "cold_start",
		weights:      defaultLTRWeights(),
	}
}

// Initialize attempts to load a saved model, falling back to training one
// from stats if none exists and enough interaction history is available.
func (p *PersonalizedLTR) Initialize(stats InteractionStats) bool {
	p.available = p.loadModel()
	if !p.available {
		p.available = p.MaybeRetrain(stats, 200)
	}
	return p.available
}

// IsAvailable reports whether a model is currently loaded.
func (p *PersonalizedLTR) IsAvailable() bool { return p.available }

// ModelVersion returns the currently active model version string.
func (p *PersonalizedLTR) ModelVersion() string { return p.modelVersion }

func clampF(v, low, high float64) float64 {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// MaybeRetrain derives a coarse per-user tuning from interaction
// aggregates, requiring at least minInteractions recorded opens.
func (p *PersonalizedLTR) MaybeRetrain(stats InteractionStats, minInteractions int) bool {
	if minInteractions < 1 {
		minInteractions = 1
	}
	if stats.Count < minInteractions {
		return false
	}

	top3Rate := clampF(stats.Top3SelectRate, 0, 1)
	interactionScale := clampF(float64(stats.Count)/2000.0, 0, 1)

	trained := defaultLTRWeights()
	trained.SemanticWeight = 1.6 + 1.4*top3Rate
	trained.CrossEncoderWeight = 1.8 + 1.6*top3Rate
	trained.FeedbackWeight = 0.8 + 1.2*interactionScale
	trained.RouterWeight = 0.8 + 0.8*top3Rate
	trained.SemanticNeedWeight = 1.2 + 0.8*top3Rate
	trained.ExactMatchWeight = 0.9
	trained.PathCodePenalty = -1.0
	trained.Bias = -2.2 + 0.4*top3Rate

	p.weights = trained
	p.modelVersion = fmt.Sprintf("local_ltr_%s", time.Now().UTC().Format("20060102150405"))
	p.available = p.saveModel()
	return p.available
}

func (p *PersonalizedLTR) loadModel() bool {
	data, err := os.ReadFile(p.modelPath)
	if err != nil {
		return false
	}
	var file ltrModelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return false
	}
	p.weights = file.Weights
	if file.Version != "" {
		p.modelVersion = file.Version
	}
	return true
}

func (p *PersonalizedLTR) saveModel() bool {
	file := ltrModelFile{
		Version:   p.modelVersion,
		TrainedAt: time.Now().UTC().Format(time.RFC3339),
		Weights:   p.weights,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return false
	}
	if err := os.MkdirAll(filepath.Dir(p.modelPath), 0o755); err != nil {
		return false
	}
	return os.WriteFile(p.modelPath, data, 0o644) == nil
}

// LTRContext carries the router outputs the reranker conditions on.
type LTRContext struct {
	QueryClass        QueryClass
	RouterConfidence  float64
	SemanticNeedScore float64
}

// Apply reranks the top maxCandidates results in place by a clamped linear
// delta, per spec.md §4.4 step 7, returning the sum of deltas applied to
// the top 10 as an instrumentation value.
func (p *PersonalizedLTR) Apply(results []*Candidate, ctx LTRContext, maxCandidates int) float64 {
	if !p.available || len(results) == 0 || maxCandidates <= 0 {
		return 0
	}

	limit := maxCandidates
	if limit > len(results) {
		limit = len(results)
	}

	var deltaTop10 float64
	for i := 0; i < limit; i++ {
		c := results[i]
		semanticFeature := clampF(c.SemanticNormalized, 0, 1)
		crossFeature := clampF(c.CrossEncoderScore, 0, 1)
		feedbackFeature := clampF((c.ScoreBreakdown.FeedbackBoost+c.ScoreBreakdown.FrequencyBoost)/40.0, 0, 1)
		routerFeature := clampF(ctx.RouterConfidence, 0, 1)
		semanticNeedFeature := clampF(ctx.SemanticNeedScore, 0, 1)
		var exactFeature float64
		if c.MatchType == MatchExactName || c.MatchType == MatchPrefixName {
			exactFeature = 1
		}

		delta := p.weights.Bias +
			p.weights.SemanticWeight*semanticFeature +
			p.weights.CrossEncoderWeight*crossFeature +
			p.weights.FeedbackWeight*feedbackFeature +
			p.weights.RouterWeight*routerFeature +
			p.weights.SemanticNeedWeight*semanticNeedFeature +
			p.weights.ExactMatchWeight*exactFeature

		if ctx.QueryClass == QueryClassPathOrCode && semanticFeature > 0.7 {
			delta += p.weights.PathCodePenalty
		}
		delta = clampF(delta, -8, 8)

		c.Score += delta
		c.ScoreBreakdown.M2SignalBoost += delta
		if i < 10 {
			deltaTop10 += delta
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ItemID < results[j].ItemID
	})

	return deltaTop10
}
