package ranking

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// Exposer persists a training exposure at query time, left unknown-labeled
// until the learning engine attributes an interaction to it (spec.md
// §4.4 step 9, §4.5.2). Defined here rather than importing the storage
// package directly, so this pipeline stays independent of the persistence
// layer's concrete shape; callers wire a storage-backed implementation.
type Exposer interface {
	RecordExposure(ctx context.Context, e Exposure) error
}

// Exposure is the feature-vector record written for every returned
// candidate, per spec.md §4.4 step 9 and §4.5.2.
type Exposure struct {
	SampleID        string
	CreatedAtMs     int64
	Query           string
	QueryNormalized string
	ItemID          int64
	Path            string
	Weight          float64
	DenseFeatures   []float64
	ContextEventID  string
	ActivityDigest  string
}

// exposureBiasWeightForRank implements clamp(log2(rank+2), 1, 4) from
// spec.md §4.4 step 9 / §4.5.2.
func exposureBiasWeightForRank(rank int) float64 {
	w := math.Log2(float64(rank) + 2)
	if w < 1 {
		return 1
	}
	if w > 4 {
		return 4
	}
	return w
}

// denseFeatures builds the 13-feature vector the learning engine's linear
// model trains on, matching the feature order scorer/LTR already compute
// per-candidate so training and serving stay consistent.
func denseFeatures(c *Candidate, sq StructuredQuery, router RouterResult) []float64 {
	exact := 0.0
	if c.MatchType == MatchExactName || c.MatchType == MatchPrefixName {
		exact = 1.0
	}
	pinned := 0.0
	if c.IsPinned {
		pinned = 1.0
	}
	return []float64{
		clampF(c.SemanticNormalized, 0, 1),
		clampF(c.CrossEncoderScore, 0, 1),
		clampF(c.ScoreBreakdown.FrequencyBoost/40.0, 0, 1),
		clampF(c.ScoreBreakdown.RecencyBoost/40.0, 0, 1),
		clampF(router.RouterConfidence, 0, 1),
		clampF(router.SemanticNeedScore, 0, 1),
		exact,
		pinned,
		clampF(c.ScoreBreakdown.ContextBoost/20.0, 0, 1),
		clampF(c.ScoreBreakdown.JunkPenalty/40.0, 0, 1),
		float64(c.FuzzyDistance),
		float64(len(sq.KeyTokens)),
		boolToFloat(sq.QueryClass == QueryClassPathOrCode),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Pipeline wires every stage of spec.md §4.4 into a single Query call.
type Pipeline struct {
	Lexical  LexicalRetriever
	Semantic SemanticRetriever
	Items    ItemLookup
	Scorer   *Scorer
	LTR      *PersonalizedLTR
	Exposer  Exposer
}

// QueryResult is the ranked candidate list plus the structured query and
// router outputs used to build it, so callers can log/debug the pipeline's
// intermediate decisions.
type QueryResult struct {
	Structured StructuredQuery
	Router     RouterResult
	Candidates []*Candidate
	LTRDeltaTop10 float64
}

// Query runs normalize -> structure -> route -> retrieve -> classify ->
// score -> rerank -> sort -> expose, per spec.md §4.4.
func (p *Pipeline) Query(ctx context.Context, rawQuery string, qctx QueryContext, now time.Time) (*QueryResult, error) {
	sq := Analyze(rawQuery, now)
	router := Route(sq.CleanedQuery, sq.KeyTokens)

	merged, err := Retrieve(ctx, p.Lexical, p.Semantic, sq.CleanedQuery)
	if err != nil {
		return nil, err
	}

	candidates := make([]*Candidate, 0, len(merged))
	for itemID, c := range merged {
		if p.Items != nil {
			facts, ok, err := p.Items.Lookup(ctx, itemID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			c.Path = facts.Path
			c.Name = facts.Name
			c.Kind = facts.Kind
			c.IsPinned = facts.IsPinned
			c.ModifiedAtEpoch = facts.ModifiedAtEpoch
			c.OpenCount = facts.OpenCount
			c.LastOpenEpoch = facts.LastOpenEpoch
		}

		if c.Name != "" {
			matchType, dist := ClassifyMatch(sq.CleanedQuery, c.Name, c.Path)
			if matchType != MatchContent {
				c.MatchType = matchType
				c.FuzzyDistance = dist
			}
		}
		candidates = append(candidates, c)
	}

	if p.Scorer != nil {
		p.Scorer.RankResults(candidates, qctx, now)
	}

	var deltaTop10 float64
	if p.LTR != nil && p.LTR.IsAvailable() {
		deltaTop10 = p.LTR.Apply(candidates, LTRContext{
			QueryClass:        router.QueryClass,
			RouterConfidence:  router.RouterConfidence,
			SemanticNeedScore: router.SemanticNeedScore,
		}, 100)
	}

	if p.Exposer != nil {
		nowMs := now.UnixMilli()
		for rank, c := range candidates {
			exposure := Exposure{
				SampleID:        uuid.NewString(),
				CreatedAtMs:     nowMs,
				Query:           rawQuery,
				QueryNormalized: sq.CleanedQuery,
				ItemID:          c.ItemID,
				Path:            c.Path,
				Weight:          exposureBiasWeightForRank(rank),
				DenseFeatures:   denseFeatures(c, sq, router),
				ContextEventID:  qctx.ContextEventID,
				ActivityDigest:  qctx.ActivityDigest,
			}
			if err := p.Exposer.RecordExposure(ctx, exposure); err != nil {
				return nil, err
			}
		}
	}

	return &QueryResult{
		Structured:    sq,
		Router:        router,
		Candidates:    candidates,
		LTRDeltaTop10: deltaTop10,
	}, nil
}
