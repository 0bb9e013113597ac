package learning

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/findcore/findcore/internal/storage"
)

// separableSamples builds a balanced batch whose positives and negatives are
// cleanly separable in the first two feature dimensions.
func separableSamples(n int, posFeatures, negFeatures [2]float64, conf float64) []storage.TrainingExample {
	samples := make([]storage.TrainingExample, 0, n)
	for i := 0; i < n; i++ {
		features := make([]float64, 13)
		label := storage.LabelNegative
		if i%2 == 0 {
			features[0], features[1] = posFeatures[0], posFeatures[1]
			label = storage.LabelPositive
		} else {
			features[0], features[1] = negFeatures[0], negFeatures[1]
		}
		samples = append(samples, storage.TrainingExample{
			SampleID:        "s" + string(rune('a'+i%26)) + string(rune('0'+i/26)),
			CreatedAt:       int64(i),
			Label:           label,
			Weight:          1.0,
			DenseFeatures:   features,
			AttributionConf: conf,
		})
	}
	return samples
}

// permissiveGates disables the latency and stability gates so a test can
// exercise exactly one gate at a time without wall-clock noise from the
// others.
func permissiveGates(cfg Config) Config {
	cfg.PromotionLatencyUsMax = 1e12
	cfg.PromotionLatencyRegressionPctMax = 1e12
	cfg.PromotionPredictionFailureRateMax = 1.0
	cfg.PromotionSaturationRateMax = 1.0
	return cfg
}

func TestTrainAndPromoteOnSeparableData(t *testing.T) {
	r := NewRanker(t.TempDir(), 13)
	cfg := permissiveGates(DefaultConfig())

	samples := separableSamples(180, [2]float64{0.85, 0.75}, [2]float64{0.15, 0.25}, 1.0)
	promoted, _, candM, reason, err := r.TrainAndPromote(samples, cfg, time.Unix(1754000000, 0))
	if err != nil {
		t.Fatalf("TrainAndPromote: %v", err)
	}
	if !promoted || reason != "promoted" {
		t.Fatalf("expected promotion, got promoted=%v reason=%q", promoted, reason)
	}
	if candM.Examples == 0 {
		t.Fatal("candidate must have a holdout evaluation")
	}
	if !r.HasModel() {
		t.Fatal("active model must be usable after promotion")
	}
	if !strings.HasPrefix(r.ModelVersion(), "online_ranker_") {
		t.Fatalf("version must be timestamped, got %q", r.ModelVersion())
	}
	if _, err := os.Stat(r.activePath); err != nil {
		t.Fatalf("active weights file must exist on disk: %v", err)
	}
}

func TestTrainAndPromoteRejectsTinyBatches(t *testing.T) {
	r := NewRanker(t.TempDir(), 13)
	cfg := permissiveGates(DefaultConfig())

	samples := separableSamples(40, [2]float64{0.85, 0.75}, [2]float64{0.15, 0.25}, 1.0)
	promoted, _, _, reason, err := r.TrainAndPromote(samples, cfg, time.Now())
	if err != nil {
		t.Fatalf("TrainAndPromote: %v", err)
	}
	if promoted || reason != "insufficient_examples" {
		t.Fatalf("expected insufficient_examples, got promoted=%v reason=%q", promoted, reason)
	}
}

func TestCandidateNotBetterThanActiveIsRejected(t *testing.T) {
	r := NewRanker(t.TempDir(), 13)
	cfg := permissiveGates(DefaultConfig())

	// Active model already predicts this distribution almost perfectly: its
	// holdout loss is below the 0.002 promotion margin, so no candidate can
	// clear the gate no matter how it trains.
	w := make([]float64, 13)
	w[0], w[1] = 12, 12
	r.active = weights{W: w, Bias: -12, Version: "online_ranker_fixture", Valid: true}

	samples := separableSamples(180, [2]float64{0.85, 0.75}, [2]float64{0.15, 0.25}, 1.0)
	promoted, activeM, _, reason, err := r.TrainAndPromote(samples, cfg, time.Now())
	if err != nil {
		t.Fatalf("TrainAndPromote: %v", err)
	}
	if promoted || reason != "candidate_not_better_than_active" {
		t.Fatalf("expected candidate_not_better_than_active, got promoted=%v reason=%q", promoted, reason)
	}
	if activeM.LogLoss >= 0.002 {
		t.Fatalf("fixture active model should have near-zero loss, got %v", activeM.LogLoss)
	}
	if r.ModelVersion() != "online_ranker_fixture" {
		t.Fatalf("active model must be unchanged on rejection, got version %q", r.ModelVersion())
	}
}

func TestScoreDefaultsToNoOpinionWithoutModel(t *testing.T) {
	r := NewRanker(t.TempDir(), 13)
	if p := r.Score([]float64{1, 1}); p != 0.5 {
		t.Fatalf("expected 0.5 without a model, got %v", p)
	}
	if boost := r.Boost([]float64{1, 1}, 1.0); boost != 0 {
		t.Fatalf("expected zero boost without a model, got %v", boost)
	}
}

func TestBoostIsCenteredAndBlended(t *testing.T) {
	r := NewRanker(t.TempDir(), 2)
	r.active = weights{W: []float64{4, 0}, Bias: 0, Version: "v", Valid: true}

	full := r.Boost([]float64{1, 0}, 1.0)
	if full <= 0 {
		t.Fatalf("positive-signal boost must be positive, got %v", full)
	}
	half := r.Boost([]float64{1, 0}, 0.5)
	if diff := full - 2*half; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("boost must scale linearly with alpha: full=%v half=%v", full, half)
	}
	if boost := r.Boost([]float64{1, 0}, 0); boost != 0 {
		t.Fatalf("alpha 0 must disable the boost, got %v", boost)
	}
}

func TestSplitTrainHoldoutIsEveryFifth(t *testing.T) {
	samples := separableSamples(100, [2]float64{1, 1}, [2]float64{0, 0}, 1.0)
	train, holdout := splitTrainHoldout(samples)
	if len(holdout) != 20 || len(train) != 80 {
		t.Fatalf("expected 80/20 split, got %d/%d", len(train), len(holdout))
	}
}

func TestLoadToleratesMissingModelFile(t *testing.T) {
	r := NewRanker(t.TempDir(), 13)
	if err := r.Load(); err != nil {
		t.Fatalf("missing active model must not be an error: %v", err)
	}
	if r.HasModel() {
		t.Fatal("no model should be loaded from an empty directory")
	}
}
