// Package learning implements the online ranking model: behavior event
// intake, three-tier interaction attribution, replay-reservoir sampling, a
// gradient-descent logistic reranker, and the idle-cycle training loop that
// promotes a candidate model into serving. Grounded on
// original_source/src/core/learning/learning_engine.{h,cpp} and
// online_ranker.{h,cpp}.
package learning

import "time"

// Config holds every tunable the engine reads from settings, defaulted to
// the values the original engine ships with. A zero Config is invalid; use
// DefaultConfig.
type Config struct {
	FeatureDim int

	ReplayCapacity       int
	FreshTrainingLimit   int
	ReplaySampleLimit    int
	MaxTrainingBatchSize int
	NegativeStaleSeconds int64
	NegativeSampleRatio  float64

	HealthWindowDays        int
	RecentCycleHistoryLimit int

	PromotionGateMinPositives         int
	PromotionMinAttributedRate        float64
	PromotionMinContextDigestRate     float64
	PromotionLatencyUsMax             float64
	PromotionLatencyRegressionPctMax  float64
	PromotionPredictionFailureRateMax float64
	PromotionSaturationRateMax        float64

	IdleGap          time.Duration
	MinCycleInterval time.Duration
	PruneInterval    time.Duration

	TrainEpochs      int
	LearningRate     float64
	L2               float64
	MinTrainExamples int

	CPUPctMax  int
	MemMbMax   int
	ThermalMax int
}

// DefaultConfig mirrors the original engine's compile-time constants.
func DefaultConfig() Config {
	return Config{
		FeatureDim: 13,

		ReplayCapacity:       4000,
		FreshTrainingLimit:   1200,
		ReplaySampleLimit:    1200,
		MaxTrainingBatchSize: 1200,
		NegativeStaleSeconds: 30,
		NegativeSampleRatio:  3.0,

		HealthWindowDays:        7,
		RecentCycleHistoryLimit: 50,

		PromotionGateMinPositives:         80,
		PromotionMinAttributedRate:        0.5,
		PromotionMinContextDigestRate:     0.1,
		PromotionLatencyUsMax:             2500,
		PromotionLatencyRegressionPctMax:  35,
		PromotionPredictionFailureRateMax: 0.05,
		PromotionSaturationRateMax:        0.995,

		IdleGap:          10 * time.Second,
		MinCycleInterval: 60 * time.Second,
		PruneInterval:    time.Hour,

		TrainEpochs:      3,
		LearningRate:     0.05,
		L2:               1e-4,
		MinTrainExamples: 120,

		CPUPctMax:  35,
		MemMbMax:   256,
		ThermalMax: 2,
	}
}

// reservoirMinCapacity is the floor spec.md §4.5.3 puts on the replay
// reservoir regardless of a misconfigured smaller setting.
const reservoirMinCapacity = 256

// Attribution confidence values stamped on a training example when an
// interaction is matched to it, per spec.md §4.5.2's three tiers.
const (
	attributionConfidenceContext = 1.0
	attributionConfidenceDigest  = 0.85
	attributionConfidenceQuery   = 0.70
)

// Attribution classification thresholds used only for batch/health metrics
// (collectBatchAttributionStats in the original engine) - a positive example
// falls into exactly one bucket by its stamped confidence.
const (
	attributionMetricContextThreshold = 0.95
	attributionMetricDigestThreshold  = 0.8
)

// attributionWindowSeconds is the +/- window around an interaction timestamp within
// which a matching exposure can be attributed, per spec.md §4.5.2.
const attributionWindowSeconds = 30

// alwaysCapturedEventTypes bypass the per-category capture-scope toggles
// (app activity / input activity / search events): these event types carry
// an explicit user action the product always wants recorded regardless of
// ambient-capture settings. They are still subject to privacy flags and the
// app denylist.
var alwaysCapturedEventTypes = map[string]bool{
	"custom_activity": true,
	"manual_feedback": true,
}

// RolloutMode mirrors storage.RolloutMode* — duplicated here as a type alias
// point so callers of this package don't need to import storage just to
// compare rollout modes.
type RolloutMode = string
