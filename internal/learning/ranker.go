package learning

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/findcore/findcore/internal/storage"
)

// weights is the linear model's parameters: a bias plus one coefficient per
// dense feature, scored with a sigmoid, per
// original_source/src/core/learning/online_ranker.h's Weights struct.
type weights struct {
	W       []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
	Version string    `json:"version"`
	Valid   bool      `json:"-"`
}

// trainMetrics summarizes one model's holdout performance, the fields the
// promotion gate and health snapshot both read.
type trainMetrics struct {
	Examples               int
	LogLoss                float64
	AvgPredictionLatencyUs float64
	PredictionFailureRate  float64
	SaturationRate         float64
}

// Ranker is the online logistic-regression reranker: load/save to the
// active and candidate model files, score, and train-then-promote against a
// holdout split. One Ranker instance backs one Engine.
type Ranker struct {
	mu sync.RWMutex

	activePath    string
	candidatePath string
	featureDim    int

	active weights
}

// NewRanker constructs a Ranker rooted at modelDir (typically
// <dataDir>/models/online-ranker-v1), with active/weights.json and
// candidate/weights.json as its two model slots.
func NewRanker(modelDir string, featureDim int) *Ranker {
	return &Ranker{
		activePath:    filepath.Join(modelDir, "active", "weights.json"),
		candidatePath: filepath.Join(modelDir, "candidate", "weights.json"),
		featureDim:    featureDim,
		active: weights{
			W:       make([]float64, featureDim),
			Version: "cold_start",
			Valid:   false,
		},
	}
}

// Load reads the active model file from disk, if present.
func (r *Ranker) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.activePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("learning: read active model: %w", err)
	}

	var w weights
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("learning: decode active model: %w", err)
	}
	if len(w.W) == 0 {
		return nil
	}
	w.Valid = true
	r.active = w
	return nil
}

func (r *Ranker) save(w weights, path string) error {
	if !w.Valid || len(w.W) == 0 {
		return fmt.Errorf("learning: refusing to save invalid model")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("learning: create model dir: %w", err)
	}
	data, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("learning: encode model: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("learning: write model: %w", err)
	}
	return os.Rename(tmp, path)
}

// HasModel reports whether the active model is usable.
func (r *Ranker) HasModel() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active.Valid && len(r.active.W) > 0
}

// ModelVersion returns the active model's version string.
func (r *Ranker) ModelVersion() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active.Version
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		z := math.Exp(-x)
		return 1.0 / (1.0 + z)
	}
	z := math.Exp(x)
	return z / (1.0 + z)
}

func scoreRaw(w weights, features []float64) float64 {
	if !w.Valid || len(w.W) == 0 || len(features) == 0 {
		return 0
	}
	dim := len(w.W)
	if len(features) < dim {
		dim = len(features)
	}
	acc := w.Bias
	for i := 0; i < dim; i++ {
		acc += w.W[i] * features[i]
	}
	return acc
}

// Score returns the active model's predicted probability for a feature
// vector, or 0.5 (no opinion) if no model is loaded.
func (r *Ranker) Score(features []float64) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.active.Valid || len(r.active.W) == 0 {
		return 0.5
	}
	return sigmoid(scoreRaw(r.active, features))
}

// Boost converts the model's score into a ranking score delta, blended by
// blendAlpha in [0,1], per spec.md §4.5.4's serving-time blend. Mirrors the
// original engine's 24x sigmoid-centered boost.
func (r *Ranker) Boost(features []float64, blendAlpha float64) float64 {
	if blendAlpha <= 0 {
		return 0
	}
	if blendAlpha > 1 {
		blendAlpha = 1
	}
	p := r.Score(features)
	return 24.0 * blendAlpha * (p - 0.5)
}

func logLoss(w weights, examples []storage.TrainingExample) (loss float64, metrics trainMetrics) {
	if !w.Valid || len(w.W) == 0 || len(examples) == 0 {
		return 0, trainMetrics{}
	}

	var total float64
	var count int
	var failures int
	var saturated int
	var latencyTotal time.Duration

	for _, ex := range examples {
		if ex.Label < 0 || len(ex.DenseFeatures) == 0 {
			continue
		}
		y := 0.0
		if ex.Label > 0 {
			y = 1.0
		}

		start := time.Now()
		raw := scoreRaw(w, ex.DenseFeatures)
		latencyTotal += time.Since(start)

		p := sigmoid(raw)
		if math.IsNaN(p) || math.IsInf(p, 0) {
			failures++
			p = 0.5
		}
		if p > 1-1e-6 || p < 1e-6 {
			saturated++
		}
		p = clampF64(p, 1e-6, 1-1e-6)

		weight := ex.Weight
		if weight < 0.05 {
			weight = 0.05
		}
		total += -weight * (y*math.Log(p) + (1-y)*math.Log(1-p))
		count++
	}

	if count == 0 {
		return 0, trainMetrics{}
	}
	metrics = trainMetrics{
		Examples:               count,
		LogLoss:                total / float64(count),
		AvgPredictionLatencyUs: float64(latencyTotal.Microseconds()) / float64(count),
		PredictionFailureRate:  float64(failures) / float64(count),
		SaturationRate:         float64(saturated) / float64(count),
	}
	return metrics.LogLoss, metrics
}

func clampF64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// trainCandidate runs plain SGD over trainSet for cfg.TrainEpochs passes,
// starting from seed's weights, matching online_ranker.cpp's trainCandidate.
func trainCandidate(seed weights, trainSet []storage.TrainingExample, cfg Config, featureDim int, versionAt time.Time) weights {
	candidate := seed
	if len(candidate.W) == 0 {
		candidate.W = make([]float64, featureDim)
	} else {
		candidate.W = append([]float64(nil), candidate.W...)
	}
	candidate.Valid = true

	lr := clampF64(cfg.LearningRate, 1e-4, 1.0)
	l2 := clampF64(cfg.L2, 0, 1.0)
	epochs := cfg.TrainEpochs
	if epochs < 1 {
		epochs = 1
	}
	dim := len(candidate.W)

	for epoch := 0; epoch < epochs; epoch++ {
		for _, ex := range trainSet {
			if ex.Label < 0 || len(ex.DenseFeatures) == 0 {
				continue
			}
			y := 0.0
			if ex.Label > 0 {
				y = 1.0
			}
			p := sigmoid(scoreRaw(candidate, ex.DenseFeatures))
			errTerm := p - y
			weight := ex.Weight
			if weight < 0.05 {
				weight = 0.05
			}
			for i := 0; i < dim; i++ {
				feature := 0.0
				if i < len(ex.DenseFeatures) {
					feature = ex.DenseFeatures[i]
				}
				grad := errTerm*feature*weight + l2*candidate.W[i]
				candidate.W[i] -= lr * grad
			}
			candidate.Bias -= lr * errTerm * weight
		}
	}

	candidate.Version = fmt.Sprintf("online_ranker_%s", versionAt.UTC().Format("20060102150405"))
	return candidate
}

// splitTrainHoldout partitions samples 80/20 by position, every 5th example
// going to holdout, matching online_ranker.cpp's splitTrain/splitHoldout.
func splitTrainHoldout(samples []storage.TrainingExample) (train, holdout []storage.TrainingExample) {
	train = make([]storage.TrainingExample, 0, len(samples))
	holdout = make([]storage.TrainingExample, 0, len(samples)/5+1)
	for i, ex := range samples {
		if i%5 == 0 {
			holdout = append(holdout, ex)
		} else {
			train = append(train, ex)
		}
	}
	return train, holdout
}

// TrainAndPromote trains a candidate on an 80/20 train/holdout split of
// samples and promotes it over the active model if its holdout loss beats
// the active model's by more than a small margin, per
// online_ranker.cpp's trainAndPromote. Returns whether promotion happened.
func (r *Ranker) TrainAndPromote(samples []storage.TrainingExample, cfg Config, now time.Time) (promoted bool, active, candidateM trainMetrics, reason string, err error) {
	minExamples := cfg.MinTrainExamples
	if minExamples < 20 {
		minExamples = 20
	}
	if len(samples) < minExamples {
		return false, trainMetrics{}, trainMetrics{}, "insufficient_examples", nil
	}

	positives := 0
	for _, ex := range samples {
		if ex.Label > 0 {
			positives++
		}
	}
	if positives < 12 {
		return false, trainMetrics{}, trainMetrics{}, "insufficient_positive_examples", nil
	}

	trainSet, holdoutSet := splitTrainHoldout(samples)
	if len(trainSet) == 0 || len(holdoutSet) == 0 {
		return false, trainMetrics{}, trainMetrics{}, "invalid_train_holdout_split", nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seed := r.active
	if !seed.Valid || len(seed.W) == 0 {
		seed = weights{W: make([]float64, r.featureDim), Version: "bootstrap", Valid: true}
	}

	candidate := trainCandidate(seed, trainSet, cfg, r.featureDim, now)
	if saveErr := r.save(candidate, r.candidatePath); saveErr != nil {
		return false, trainMetrics{}, trainMetrics{}, "", saveErr
	}

	activeLoss, activeM := logLoss(r.active, holdoutSet)
	if !r.active.Valid {
		activeLoss = 1.0
	}
	candidateLoss, candM := logLoss(candidate, holdoutSet)

	if candM.Examples == 0 || math.IsNaN(candidateLoss) || math.IsInf(candidateLoss, 0) {
		return false, activeM, candM, "candidate_stability_invalid_eval", nil
	}

	if runtimeErr := checkRuntimeGates(candM, activeM, cfg); runtimeErr != "" {
		return false, activeM, candM, runtimeErr, nil
	}

	if r.active.Valid && !(candidateLoss+0.002 < activeLoss) {
		return false, activeM, candM, "candidate_not_better_than_active", nil
	}

	if saveErr := r.save(candidate, r.activePath); saveErr != nil {
		return false, activeM, candM, "", saveErr
	}
	r.active = candidate
	return true, activeM, candM, "promoted", nil
}

// checkRuntimeGates applies the runtime promotion gates (prediction
// latency, latency regression vs active, prediction failure rate,
// probability saturation rate) from spec.md §4.5.4, beyond the loss
// comparison itself.
func checkRuntimeGates(candidate, active trainMetrics, cfg Config) string {
	if candidate.AvgPredictionLatencyUs > cfg.PromotionLatencyUsMax {
		return "candidate_latency_budget_exceeded"
	}
	if active.AvgPredictionLatencyUs > 0 {
		regressionPct := (candidate.AvgPredictionLatencyUs - active.AvgPredictionLatencyUs) / active.AvgPredictionLatencyUs * 100
		if regressionPct > cfg.PromotionLatencyRegressionPctMax {
			return "candidate_latency_regression_exceeded"
		}
	}
	if candidate.PredictionFailureRate > cfg.PromotionPredictionFailureRateMax {
		return "candidate_stability_failure_rate_exceeded"
	}
	if candidate.SaturationRate > cfg.PromotionSaturationRateMax {
		return "candidate_stability_saturation_rate_exceeded"
	}
	return ""
}
