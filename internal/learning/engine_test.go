package learning

import (
	"fmt"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/findcore/findcore/internal/storage"
)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *storage.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	e := New(db, cfg, filepath.Join(dir, "models", "online-ranker-v1"), nil, nil)
	return e, db
}

func enableTraining(t *testing.T, db *storage.DB, mode string) {
	t.Helper()
	if err := db.SetSetting("learningEnabled", "true"); err != nil {
		t.Fatalf("enable learning: %v", err)
	}
	if err := db.SetSetting("behaviorStreamEnabled", "true"); err != nil {
		t.Fatalf("enable behavior stream: %v", err)
	}
	if err := db.SetModelState(storage.ModelStateRolloutMode, mode, time.Now().UnixMilli()); err != nil {
		t.Fatalf("set rollout mode: %v", err)
	}
}

// seedLabeledExamples inserts n labeled training rows split evenly between
// positives (with the given features and attribution confidence) and
// negatives.
func seedLabeledExamples(t *testing.T, db *storage.DB, n int, posConf float64, posFeatures, negFeatures [2]float64) {
	t.Helper()
	now := time.Now().UnixMilli()
	for i := 0; i < n; i++ {
		features := make([]float64, 13)
		label := storage.LabelNegative
		conf := 0.0
		if i%2 == 0 {
			features[0], features[1] = posFeatures[0], posFeatures[1]
			label = storage.LabelPositive
			conf = posConf
		} else {
			features[0], features[1] = negFeatures[0], negFeatures[1]
		}
		itemID := int64(i + 1)
		path := fmt.Sprintf("/p/file-%d.txt", i)
		if err := db.InsertFallbackExample(&storage.TrainingExample{
			SampleID:        fmt.Sprintf("seed-%d", i),
			CreatedAt:       now - int64(i),
			Query:           "budget",
			QueryNormalized: "budget",
			ItemID:          &itemID,
			Path:            &path,
			Label:           label,
			Weight:          1.0,
			DenseFeatures:   features,
			AttributionConf: conf,
		}); err != nil {
			t.Fatalf("seed example %d: %v", i, err)
		}
	}
}

func TestCycleRefusedWhenLearningDisabled(t *testing.T) {
	e, _ := newTestEngine(t, DefaultConfig())

	ran, reason, err := e.TriggerLearningCycle(true)
	if err != nil {
		t.Fatalf("TriggerLearningCycle: %v", err)
	}
	if ran || reason != "learning_disabled" {
		t.Fatalf("expected learning_disabled, got ran=%v reason=%q", ran, reason)
	}
}

func TestCycleRefusedWhenRolloutModeBlocksTraining(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutInstrumentationOnly)

	ran, reason, err := e.TriggerLearningCycle(true)
	if err != nil {
		t.Fatalf("TriggerLearningCycle: %v", err)
	}
	if ran || reason != "rollout_mode_blocks_training" {
		t.Fatalf("expected rollout_mode_blocks_training, got ran=%v reason=%q", ran, reason)
	}
}

func TestIdleCyclePausesOnRecentUserInput(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	e.NoteUserActivity()
	ran, reason, err := e.MaybeRunIdleCycle()
	if err != nil {
		t.Fatalf("MaybeRunIdleCycle: %v", err)
	}
	if ran || reason != "user_recently_active" {
		t.Fatalf("expected user_recently_active, got ran=%v reason=%q", ran, reason)
	}
}

func TestCycleRejectedWithoutEnoughExamples(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	ran, reason, err := e.TriggerLearningCycle(true)
	if err != nil {
		t.Fatalf("TriggerLearningCycle: %v", err)
	}
	if ran || reason != "insufficient_combined_examples" {
		t.Fatalf("expected insufficient_combined_examples, got ran=%v reason=%q", ran, reason)
	}
}

func TestAttributionQualityGateRejectsLowContextDigestRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PromotionGateMinPositives = 80
	cfg.PromotionMinAttributedRate = 0.5
	cfg.PromotionMinContextDigestRate = 0.3

	e, db := newTestEngine(t, cfg)
	enableTraining(t, db, storage.RolloutShadowTraining)

	// 90 positives attributed only via the query tier (0.7): the attributed
	// rate passes but the context+digest rate is zero.
	seedLabeledExamples(t, db, 180, 0.7, [2]float64{0.85, 0.75}, [2]float64{0.15, 0.25})

	ran, reason, err := e.TriggerLearningCycle(true)
	if err != nil {
		t.Fatalf("TriggerLearningCycle: %v", err)
	}
	if ran || reason != "attribution_quality_gate_failed_context_digest_rate" {
		t.Fatalf("expected context/digest gate rejection, got ran=%v reason=%q", ran, reason)
	}
	if e.ModelAvailable() {
		t.Fatal("active model must be unchanged on a rejected cycle")
	}
	if _, ok, _ := db.GetModelState(storage.ModelStateActiveVersion); ok {
		t.Fatal("no active version may be persisted on a rejected cycle")
	}
}

func TestManualCyclePromotesOnSeparableBatch(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	seedLabeledExamples(t, db, 180, 1.0, [2]float64{0.85, 0.75}, [2]float64{0.15, 0.25})

	ran, reason, err := e.TriggerLearningCycle(true)
	if err != nil {
		t.Fatalf("TriggerLearningCycle: %v", err)
	}
	if !ran || reason != "promoted" {
		t.Fatalf("expected promotion, got ran=%v reason=%q", ran, reason)
	}
	if !e.ModelAvailable() {
		t.Fatal("active model must be available after promotion")
	}

	version, ok, err := db.GetModelState(storage.ModelStateActiveVersion)
	if err != nil || !ok {
		t.Fatalf("active version must be persisted: (%v, %v)", ok, err)
	}
	if version != e.ModelVersion() {
		t.Fatalf("persisted version %q != in-memory version %q", version, e.ModelVersion())
	}

	consumed, err := db.GetTrainingExample("seed-0")
	if err != nil {
		t.Fatalf("GetTrainingExample: %v", err)
	}
	if consumed == nil || !consumed.Consumed {
		t.Fatal("fresh examples must be marked consumed after a successful cycle")
	}
}

func TestReservoirBoundedAfterPromotionCycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReplayCapacity = 256

	e, db := newTestEngine(t, cfg)
	enableTraining(t, db, storage.RolloutShadowTraining)

	seedLabeledExamples(t, db, 600, 1.0, [2]float64{0.85, 0.75}, [2]float64{0.15, 0.25})

	ran, reason, err := e.TriggerLearningCycle(true)
	if err != nil {
		t.Fatalf("TriggerLearningCycle: %v", err)
	}
	if !ran {
		t.Fatalf("expected promotion so the reservoir fills, got reason=%q", reason)
	}

	size, err := db.ReservoirSize()
	if err != nil {
		t.Fatalf("ReservoirSize: %v", err)
	}
	if size != 256 {
		t.Fatalf("expected exactly 256 reservoir rows, got %d", size)
	}

	slots, err := db.ReservoirAll()
	if err != nil {
		t.Fatalf("ReservoirAll: %v", err)
	}
	seenSlots := map[int]bool{}
	for _, s := range slots {
		if s.Slot < 0 || s.Slot >= 256 {
			t.Fatalf("slot %d out of [0,255]", s.Slot)
		}
		if seenSlots[s.Slot] {
			t.Fatalf("duplicate slot %d", s.Slot)
		}
		seenSlots[s.Slot] = true
	}

	raw, ok, err := db.GetSetting("learningReplaySeenCount")
	if err != nil || !ok {
		t.Fatalf("replay seen count must be persisted: (%v, %v)", ok, err)
	}
	seen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		t.Fatalf("parse seen count %q: %v", raw, err)
	}
	if seen < 600 {
		t.Fatalf("expected replaySeenCount >= 600, got %d", seen)
	}
}

func TestScoreBoostGatedOnSettingsAndRollout(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())

	features := make([]float64, 13)
	features[0] = 1.0

	if boost := e.ScoreBoostForResult(features); boost != 0 {
		t.Fatalf("disabled learning must yield zero boost, got %v", boost)
	}

	enableTraining(t, db, storage.RolloutShadowTraining)
	if boost := e.ScoreBoostForResult(features); boost != 0 {
		t.Fatalf("shadow_training must not serve, got %v", boost)
	}

	if err := db.SetModelState(storage.ModelStateRolloutMode, storage.RolloutBlendedRanking, time.Now().UnixMilli()); err != nil {
		t.Fatalf("set rollout mode: %v", err)
	}
	if boost := e.ScoreBoostForResult(features); boost != 0 {
		t.Fatalf("no loaded model must yield zero boost, got %v", boost)
	}

	// Promote a model, then the same call must produce a non-zero boost for
	// a strongly positive feature vector.
	seedLabeledExamples(t, db, 180, 1.0, [2]float64{0.85, 0.75}, [2]float64{0.15, 0.25})
	if ran, reason, err := e.TriggerLearningCycle(true); err != nil || !ran {
		t.Fatalf("promotion cycle failed: ran=%v reason=%q err=%v", ran, reason, err)
	}

	positive := make([]float64, 13)
	positive[0], positive[1] = 0.85, 0.75
	negative := make([]float64, 13)
	negative[0], negative[1] = 0.15, 0.25
	if e.ScoreBoostForResult(positive) <= e.ScoreBoostForResult(negative) {
		t.Fatal("a separating model must boost positives above negatives")
	}
}

func TestHealthSnapshotReportsCycleState(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	if _, _, err := e.TriggerLearningCycle(true); err != nil {
		t.Fatalf("TriggerLearningCycle: %v", err)
	}

	snap := e.HealthSnapshot()
	if snap["learningEnabled"] != true {
		t.Fatalf("expected learningEnabled true, got %v", snap["learningEnabled"])
	}
	if snap["rolloutMode"] != storage.RolloutShadowTraining {
		t.Fatalf("unexpected rollout mode: %v", snap["rolloutMode"])
	}
	last, ok := snap["lastCycle"].(cycleResult)
	if !ok {
		t.Fatalf("lastCycle missing from snapshot: %v", snap["lastCycle"])
	}
	if last.Status != "rejected" || last.Reason != "insufficient_combined_examples" {
		t.Fatalf("unexpected last cycle: %+v", last)
	}
}

func TestSampleTrainingBatchDownsamplesNegatives(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NegativeSampleRatio = 3.0
	e, _ := newTestEngine(t, cfg)

	var combined []storage.TrainingExample
	for i := 0; i < 10; i++ {
		combined = append(combined, storage.TrainingExample{SampleID: fmt.Sprintf("p%d", i), Label: storage.LabelPositive})
	}
	for i := 0; i < 100; i++ {
		combined = append(combined, storage.TrainingExample{SampleID: fmt.Sprintf("n%d", i), Label: storage.LabelNegative})
	}

	batch := e.sampleTrainingBatch(combined)
	var positives, negatives int
	for _, ex := range batch {
		if ex.Label > 0 {
			positives++
		} else {
			negatives++
		}
	}
	if positives != 10 {
		t.Fatalf("expected all 10 positives kept, got %d", positives)
	}
	if negatives != 30 {
		t.Fatalf("expected negatives capped at 3x positives, got %d", negatives)
	}
}

func TestSampleTrainingBatchCapsTotalAtMaxBatchSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NegativeSampleRatio = 3.0
	cfg.MaxTrainingBatchSize = 100
	e, _ := newTestEngine(t, cfg)

	var combined []storage.TrainingExample
	for i := 0; i < 60; i++ {
		combined = append(combined, storage.TrainingExample{SampleID: fmt.Sprintf("p%d", i), Label: storage.LabelPositive})
	}
	for i := 0; i < 300; i++ {
		combined = append(combined, storage.TrainingExample{SampleID: fmt.Sprintf("n%d", i), Label: storage.LabelNegative})
	}

	batch := e.sampleTrainingBatch(combined)
	if len(batch) != 100 {
		t.Fatalf("expected batch truncated to MaxTrainingBatchSize, got %d", len(batch))
	}
	var positives int
	for _, ex := range batch {
		if ex.Label > 0 {
			positives++
		}
	}
	if positives != 60 {
		t.Fatalf("positives must keep priority over negatives under the cap, got %d", positives)
	}
}

func TestAttributionRates(t *testing.T) {
	batch := []storage.TrainingExample{
		{Label: storage.LabelPositive, AttributionConf: 1.0},
		{Label: storage.LabelPositive, AttributionConf: 0.85},
		{Label: storage.LabelPositive, AttributionConf: 0.70},
		{Label: storage.LabelPositive, AttributionConf: 0},
		{Label: storage.LabelNegative, AttributionConf: 0},
	}
	attributed, contextDigest := attributionRates(batch)
	if attributed != 0.75 {
		t.Fatalf("expected attributed rate 0.75, got %v", attributed)
	}
	if contextDigest != 0.5 {
		t.Fatalf("expected context+digest rate 0.5, got %v", contextDigest)
	}
}
