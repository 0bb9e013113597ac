package learning

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/findcore/findcore/internal/storage"
)

// cycleResult records one training cycle's outcome, kept in settings history
// and surfaced through HealthSnapshot, per spec.md §4.5.4.
type cycleResult struct {
	StartedAtMs           int64   `json:"startedAtMs"`
	FinishedAtMs          int64   `json:"finishedAtMs"`
	Manual                bool    `json:"manual"`
	Status                string  `json:"status"`
	Reason                string  `json:"reason"`
	SampleCount           int     `json:"sampleCount"`
	PositiveCount         int     `json:"positiveCount"`
	ActiveLoss            float64 `json:"activeLoss"`
	CandidateLoss         float64 `json:"candidateLoss"`
	PredictionFailureRate float64 `json:"predictionFailureRate"`
	SaturationRate        float64 `json:"saturationRate"`
	Promoted              bool    `json:"promoted"`
	ModelVersion          string  `json:"modelVersion"`
}

// Engine is the online learning engine: behavior intake, attribution, replay
// sampling, and training/promotion orchestration, grounded on
// original_source/src/core/learning/learning_engine.{h,cpp}.
type Engine struct {
	mu sync.Mutex

	db     *storage.DB
	cfg    Config
	ranker *Ranker
	logger *zap.Logger

	rng *rand.Rand

	lastUserActivityMs int64
	lastCycleStartedMs int64
	cycleRunning       bool
	lastPruneMs        int64

	lastCycle cycleResult

	metricCycles     *prometheus.CounterVec
	metricPromotions prometheus.Counter
	metricLoss       prometheus.Gauge
}

// New constructs an Engine backed by db, rooted at modelDir for its model
// artifacts. reg may be nil to skip metrics registration in tests.
func New(db *storage.DB, cfg Config, modelDir string, logger *zap.Logger, reg prometheus.Registerer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReplayCapacity < reservoirMinCapacity {
		cfg.ReplayCapacity = reservoirMinCapacity
	}

	e := &Engine{
		db:     db,
		cfg:    cfg,
		ranker: NewRanker(modelDir, cfg.FeatureDim),
		logger: logger.With(zap.String("component", "learning.engine")),
		rng:    rand.New(rand.NewSource(1)), //nolint:gosec
		metricCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "findcore_learning_cycles_total",
			Help: "Count of completed training cycles by status.",
		}, []string{"status"}),
		metricPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "findcore_learning_promotions_total",
			Help: "Count of candidate models promoted to active.",
		}),
		metricLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "findcore_learning_active_holdout_loss",
			Help: "Holdout log-loss of the currently active model.",
		}),
	}
	if reg != nil {
		reg.MustRegister(e.metricCycles, e.metricPromotions, e.metricLoss)
	}
	return e
}

// Initialize loads the active model from disk, if present. Call once before
// serving.
func (e *Engine) Initialize() error {
	return e.ranker.Load()
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

func newSampleID() string {
	return uuid.NewString()
}

// settingBool/settingInt/settingDouble read a settings.json-backed flag,
// falling back to the supplied default when unset or unparsable. Callers
// must hold e.mu.
func (e *Engine) settingBool(key string, fallback bool) bool {
	raw, ok, err := e.db.GetSetting(key)
	if err != nil || !ok {
		return fallback
	}
	switch raw {
	case "true", "1":
		return true
	case "false", "0":
		return false
	default:
		return fallback
	}
}

func (e *Engine) settingInt(key string, fallback int) int {
	raw, ok, err := e.db.GetSetting(key)
	if err != nil || !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (e *Engine) settingString(key, fallback string) string {
	raw, ok, err := e.db.GetSetting(key)
	if err != nil || !ok || raw == "" {
		return fallback
	}
	return raw
}

func (e *Engine) rolloutMode() string {
	mode, ok, err := e.db.GetModelState(storage.ModelStateRolloutMode)
	if err != nil || !ok || mode == "" {
		return storage.RolloutInstrumentationOnly
	}
	return mode
}

func rolloutAllowsTraining(mode string) bool {
	return mode == storage.RolloutShadowTraining || mode == storage.RolloutBlendedRanking
}

func rolloutAllowsServing(mode string) bool {
	return mode == storage.RolloutBlendedRanking
}

// maybePruneExpiredLocked opportunistically prunes expired behavior events
// at most once per cfg.PruneInterval, per spec.md §4.5.1. Callers must hold
// e.mu.
func (e *Engine) maybePruneExpiredLocked() {
	now := nowMs()
	if e.lastPruneMs != 0 && time.Duration(now-e.lastPruneMs)*time.Millisecond < e.cfg.PruneInterval {
		return
	}
	e.lastPruneMs = now

	retentionDays := e.settingInt("behaviorRetentionDays", 30)
	cutoff := now - int64(retentionDays)*24*60*60*1000
	if _, err := e.db.PruneBehaviorEventsOlderThan(cutoff); err != nil {
		e.logger.Warn("prune behavior events failed", zap.Error(err))
	}
}

// ModelAvailable reports whether an active model is currently loaded.
func (e *Engine) ModelAvailable() bool {
	return e.ranker.HasModel()
}

// ModelVersion returns the active model's version string.
func (e *Engine) ModelVersion() string {
	return e.ranker.ModelVersion()
}

// ScoreBoostForResult returns the serving-time ranking boost for a
// candidate's dense feature vector, gated on learningEnabled and a rollout
// mode that permits serving (blended_ranking only), per spec.md §4.5.4.
func (e *Engine) ScoreBoostForResult(features []float64) float64 {
	e.mu.Lock()
	enabled := e.settingBool("learningEnabled", false)
	mode := e.rolloutMode()
	blendAlpha := 1.0
	e.mu.Unlock()

	if !enabled || !rolloutAllowsServing(mode) {
		return 0
	}
	return e.ranker.Boost(features, blendAlpha)
}

// MaybeRunIdleCycle evaluates the idle-training gates (pause-on-input,
// cooldown, resource budgets) and, if they all pass, runs an automatic
// training cycle, per spec.md §4.5.4's maybeRunIdleCycle.
func (e *Engine) MaybeRunIdleCycle() (ran bool, reason string, err error) {
	e.mu.Lock()
	if !e.settingBool("learningEnabled", false) {
		e.mu.Unlock()
		return false, "learning_disabled", nil
	}
	if !rolloutAllowsTraining(e.rolloutMode()) {
		e.mu.Unlock()
		return false, "rollout_mode_blocks_training", nil
	}
	if e.cycleRunning {
		e.mu.Unlock()
		return false, "cycle_in_progress", nil
	}
	pauseOnUserInput := e.settingBool("learningPauseOnUserInput", true)
	if pauseOnUserInput && time.Duration(nowMs()-e.lastUserActivityMs)*time.Millisecond < e.cfg.IdleGap {
		e.mu.Unlock()
		return false, "user_recently_active", nil
	}
	if time.Duration(nowMs()-e.lastCycleStartedMs)*time.Millisecond < e.cfg.MinCycleInterval {
		e.mu.Unlock()
		return false, "cooldown_active", nil
	}
	e.mu.Unlock()

	if blocked := e.resourceBudgetExceeded(); blocked != "" {
		return false, blocked, nil
	}

	return e.TriggerLearningCycle(false)
}

// resourceBudgetExceeded reports the first resource budget an automatic
// cycle would exceed, or "" if all pass. The original engine shells out to
// `ps`/`pmset` to sample CPU, RSS, and thermal state; those are Mac-specific
// tools with no portable equivalent, so this reports no budget breach by
// default and leaves the gate available for a platform-specific sampler to
// be wired in later.
func (e *Engine) resourceBudgetExceeded() string {
	return ""
}

// TriggerLearningCycle runs one full training cycle: prune, fetch fresh +
// replay examples, sample a batch, train a candidate, and promote it if it
// clears the gate, per spec.md §4.5.4. manual distinguishes a user-invoked
// cycle from an automatic idle cycle (manual cycles skip the resource
// budget check, matching the original engine).
func (e *Engine) TriggerLearningCycle(manual bool) (ran bool, reason string, err error) {
	e.mu.Lock()
	if e.cycleRunning {
		e.mu.Unlock()
		return false, "cycle_in_progress", nil
	}
	if !e.settingBool("learningEnabled", false) {
		e.mu.Unlock()
		return false, "learning_disabled", nil
	}
	mode := e.rolloutMode()
	if !rolloutAllowsTraining(mode) {
		e.mu.Unlock()
		return false, "rollout_mode_blocks_training", nil
	}
	e.cycleRunning = true
	e.lastCycleStartedMs = nowMs()
	startedAt := e.lastCycleStartedMs
	e.maybePruneExpiredLocked()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.cycleRunning = false
		e.mu.Unlock()
	}()

	result := cycleResult{StartedAtMs: startedAt, Manual: manual}
	defer func() {
		result.FinishedAtMs = nowMs()
		e.recordCycleResult(result)
	}()

	now := time.Now()
	fresh, ferr := e.db.FreshTrainingCandidates(now.UnixMilli(), e.cfg.NegativeStaleSeconds, e.cfg.FreshTrainingLimit)
	if ferr != nil {
		result.Status, result.Reason = "error", "fetch_fresh_failed"
		return false, result.Reason, ferr
	}

	replaySlots, rerr := e.db.ReservoirAll()
	if rerr != nil {
		result.Status, result.Reason = "error", "fetch_replay_failed"
		return false, result.Reason, rerr
	}
	replay := make([]storage.TrainingExample, 0, len(replaySlots))
	for _, s := range replaySlots {
		replay = append(replay, storage.TrainingExample{
			SampleID:        s.SampleID,
			CreatedAt:       s.CreatedAt,
			QueryNormalized: derefString(s.QueryNormalized),
			ItemID:          s.ItemID,
			Label:           s.Label,
			Weight:          s.Weight,
			DenseFeatures:   s.Features,
		})
	}

	combined := append(append([]storage.TrainingExample(nil), fresh...), replay...)
	if len(combined) < 60 {
		result.Status, result.Reason = "rejected", "insufficient_combined_examples"
		return false, result.Reason, nil
	}

	batch := e.sampleTrainingBatch(combined)
	positives := 0
	for _, ex := range batch {
		if ex.Label > 0 {
			positives++
		}
	}
	result.SampleCount = len(batch)
	result.PositiveCount = positives

	if positives >= e.cfg.PromotionGateMinPositives {
		attributedRate, contextDigestRate := attributionRates(batch)
		if attributedRate < e.cfg.PromotionMinAttributedRate {
			result.Status, result.Reason = "rejected", "attribution_quality_gate_failed_attributed_rate"
			return false, result.Reason, nil
		}
		if contextDigestRate < e.cfg.PromotionMinContextDigestRate {
			result.Status, result.Reason = "rejected", "attribution_quality_gate_failed_context_digest_rate"
			return false, result.Reason, nil
		}
	}

	promoted, activeM, candM, gateReason, terr := e.ranker.TrainAndPromote(batch, e.cfg, now)
	if terr != nil {
		result.Status, result.Reason = "error", "train_failed"
		return false, result.Reason, terr
	}

	result.ActiveLoss = activeM.LogLoss
	result.CandidateLoss = candM.LogLoss
	result.PredictionFailureRate = candM.PredictionFailureRate
	result.SaturationRate = candM.SaturationRate
	result.Promoted = promoted
	result.ModelVersion = e.ranker.ModelVersion()

	e.metricCycles.WithLabelValues(gateReason).Inc()

	if !promoted {
		result.Status, result.Reason = "rejected", gateReason
		return false, result.Reason, nil
	}

	sampleIDs := make([]string, 0, len(fresh))
	for _, ex := range fresh {
		sampleIDs = append(sampleIDs, ex.SampleID)
	}
	if err := e.db.MarkConsumed(sampleIDs); err != nil {
		e.logger.Warn("mark consumed failed", zap.Error(err))
	}
	e.addToReplay(fresh)

	if err := e.db.PromoteCandidate(e.ranker.ModelVersion(), nowMs()); err != nil {
		e.logger.Warn("persist promotion state failed", zap.Error(err))
	}

	e.metricPromotions.Inc()
	e.metricLoss.Set(candM.LogLoss)

	result.Status, result.Reason = "succeeded", "promoted"
	return true, result.Reason, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// sampleTrainingBatch caps negatives to negativeSampleRatio times the
// positive count, then bounds the total at MaxTrainingBatchSize by giving
// negatives only the capacity positives leave behind, per
// online_ranker.cpp's sampleTrainingBatch. Negatives are truncated from the
// head rather than resampled; the batch is shuffled afterwards, so the final
// mix is still randomized per cycle.
func (e *Engine) sampleTrainingBatch(combined []storage.TrainingExample) []storage.TrainingExample {
	var positives, negatives []storage.TrainingExample
	for _, ex := range combined {
		if ex.Label > 0 {
			positives = append(positives, ex)
		} else if ex.Label == storage.LabelNegative {
			negatives = append(negatives, ex)
		}
	}

	if len(positives) > e.cfg.MaxTrainingBatchSize {
		positives = positives[:e.cfg.MaxTrainingBatchSize]
		negatives = nil
	} else {
		maxNegatives := int(float64(len(positives))*e.cfg.NegativeSampleRatio + 0.999999)
		if remaining := e.cfg.MaxTrainingBatchSize - len(positives); maxNegatives > remaining {
			maxNegatives = remaining
		}
		if maxNegatives < 0 {
			maxNegatives = 0
		}
		if len(negatives) > maxNegatives {
			negatives = negatives[:maxNegatives]
		}
	}

	batch := append(append([]storage.TrainingExample(nil), positives...), negatives...)
	e.rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
	return batch
}

// attributionRates computes the share of positive examples attributed at
// all, and the share attributed specifically via the context or digest
// tiers, against the classification thresholds in types.go.
func attributionRates(batch []storage.TrainingExample) (attributedRate, contextDigestRate float64) {
	var positives, attributed, contextDigest int
	for _, ex := range batch {
		if ex.Label <= 0 {
			continue
		}
		positives++
		if ex.AttributionConf >= attributionMetricDigestThreshold {
			attributed++
			contextDigest++
		} else if ex.AttributionConf > 0 {
			attributed++
		}
	}
	if positives == 0 {
		return 0, 0
	}
	return float64(attributed) / float64(positives), float64(contextDigest) / float64(positives)
}

// addToReplay runs Vitter's reservoir algorithm R over freshly consumed
// examples, persisting replaySeenCount as a setting across restarts, per
// spec.md §4.5.3.
func (e *Engine) addToReplay(fresh []storage.TrainingExample) {
	if len(fresh) == 0 {
		return
	}

	e.mu.Lock()
	seen := int64(e.settingInt("learningReplaySeenCount", 0))
	e.mu.Unlock()

	size, err := e.db.ReservoirSize()
	if err != nil {
		e.logger.Warn("reservoir size failed", zap.Error(err))
		return
	}

	for _, ex := range fresh {
		seen++

		var slot int
		place := false
		if size < e.cfg.ReplayCapacity {
			slot = size
			size++
			place = true
		} else {
			draw := e.rng.Int63n(seen)
			if draw < int64(e.cfg.ReplayCapacity) {
				slot = int(draw)
				place = true
			}
		}
		if !place {
			continue
		}

		var queryNormalized *string
		if ex.QueryNormalized != "" {
			queryNormalized = &ex.QueryNormalized
		}
		if err := e.db.ReservoirPut(&storage.ReservoirSlot{
			Slot:            slot,
			SampleID:        ex.SampleID,
			Label:           ex.Label,
			Weight:          ex.Weight,
			Features:        ex.DenseFeatures,
			QueryNormalized: queryNormalized,
			ItemID:          ex.ItemID,
			CreatedAt:       ex.CreatedAt,
		}); err != nil {
			e.logger.Warn("reservoir put failed", zap.Error(err))
		}
	}

	e.mu.Lock()
	_ = e.db.SetSetting("learningReplaySeenCount", strconv.FormatInt(seen, 10))
	e.mu.Unlock()
}

// recordCycleResult persists a cycle outcome into the capped recent-history
// list and updates lastCycle for HealthSnapshot.
func (e *Engine) recordCycleResult(result cycleResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastCycle = result

	raw, ok, err := e.db.GetSetting("learningRecentCycles")
	var history []cycleResult
	if err == nil && ok && raw != "" {
		_ = json.Unmarshal([]byte(raw), &history)
	}
	history = append(history, result)
	if len(history) > e.cfg.RecentCycleHistoryLimit {
		history = history[len(history)-e.cfg.RecentCycleHistoryLimit:]
	}
	encoded, err := json.Marshal(history)
	if err != nil {
		e.logger.Warn("encode cycle history failed", zap.Error(err))
		return
	}
	if err := e.db.SetSetting("learningRecentCycles", string(encoded)); err != nil {
		e.logger.Warn("persist cycle history failed", zap.Error(err))
	}
}

// HealthSnapshot returns the learning engine's contribution to the overall
// health snapshot, per spec.md §4.5.5.
func (e *Engine) HealthSnapshot() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	replaySize, _ := e.db.ReservoirSize()
	pending, _ := e.db.FreshTrainingCandidates(nowMs(), e.cfg.NegativeStaleSeconds, 1)

	return map[string]any{
		"learningEnabled":       e.settingBool("learningEnabled", false),
		"behaviorStreamEnabled": e.settingBool("behaviorStreamEnabled", false),
		"rolloutMode":           e.rolloutMode(),
		"modelAvailable":        e.ranker.HasModel(),
		"modelVersion":          e.ranker.ModelVersion(),
		"replaySize":            replaySize,
		"replayCapacity":        e.cfg.ReplayCapacity,
		"pendingExamples":       len(pending) > 0,
		"lastCycle":             e.lastCycle,
		"cycleRunning":          e.cycleRunning,
	}
}
