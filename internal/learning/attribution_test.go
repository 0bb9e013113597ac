package learning

import (
	"testing"

	"github.com/findcore/findcore/internal/storage"
)

const interactionAtMs = int64(1_000_000)

func seedExposure(t *testing.T, db *storage.DB, sampleID string, itemID int64, contextEventID, activityDigest string) {
	t.Helper()
	var ctxID, digest *string
	if contextEventID != "" {
		ctxID = &contextEventID
	}
	if activityDigest != "" {
		digest = &activityDigest
	}
	path := "/p/" + sampleID
	if err := db.InsertExposure(&storage.TrainingExample{
		SampleID:        sampleID,
		CreatedAt:       interactionAtMs - 10_000,
		Query:           "Budget",
		QueryNormalized: "budget",
		ItemID:          &itemID,
		Path:            &path,
		Weight:          1.0,
		DenseFeatures:   []float64{0.8, 0.6},
		ContextEventID:  ctxID,
		ActivityDigest:  digest,
	}); err != nil {
		t.Fatalf("seed exposure %s: %v", sampleID, err)
	}
}

func TestContextTierAttribution(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	seedExposure(t, db, "exp-1", 7, "ctx-1", "dg-1")
	seedExposure(t, db, "exp-other-item", 8, "ctx-1", "dg-1")

	if err := e.RecordPositiveInteraction("Budget", 7, "/p/exp-1", "", "ctx-1", "dg-1", interactionAtMs); err != nil {
		t.Fatalf("RecordPositiveInteraction: %v", err)
	}

	hit, _ := db.GetTrainingExample("exp-1")
	if hit.Label != storage.LabelPositive || hit.AttributionConf != attributionConfidenceContext {
		t.Fatalf("expected context-tier attribution, got %+v", hit)
	}
	other, _ := db.GetTrainingExample("exp-other-item")
	if other.Label != storage.LabelUnknown {
		t.Fatalf("a different item's exposure must stay unattributed, got %+v", other)
	}
}

func TestDigestQueryTierAttribution(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	seedExposure(t, db, "exp-1", 7, "ctx-old", "dg-1")

	// The interaction carries a context id no exposure has, so the context
	// tier finds nothing and the digest+query tier matches.
	if err := e.RecordPositiveInteraction("budget", 7, "/p/exp-1", "", "ctx-new", "dg-1", interactionAtMs); err != nil {
		t.Fatalf("RecordPositiveInteraction: %v", err)
	}

	hit, _ := db.GetTrainingExample("exp-1")
	if hit.Label != storage.LabelPositive || hit.AttributionConf != attributionConfidenceDigest {
		t.Fatalf("expected digest-tier attribution, got %+v", hit)
	}
}

func TestQueryTierAttribution(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	seedExposure(t, db, "exp-1", 7, "", "")

	if err := e.RecordPositiveInteraction("BUDGET", 7, "/p/exp-1", "", "", "", interactionAtMs); err != nil {
		t.Fatalf("RecordPositiveInteraction: %v", err)
	}

	hit, _ := db.GetTrainingExample("exp-1")
	if hit.Label != storage.LabelPositive || hit.AttributionConf != attributionConfidenceQuery {
		t.Fatalf("expected query-tier attribution, got %+v", hit)
	}
}

func TestExposureOutsideWindowNotAttributed(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	itemID := int64(7)
	path := "/p/exp-old"
	if err := db.InsertExposure(&storage.TrainingExample{
		SampleID:        "exp-old",
		CreatedAt:       interactionAtMs - 120_000,
		Query:           "budget",
		QueryNormalized: "budget",
		ItemID:          &itemID,
		Path:            &path,
		Weight:          1.0,
		DenseFeatures:   []float64{0.8, 0.6},
	}); err != nil {
		t.Fatalf("seed exposure: %v", err)
	}

	if err := e.RecordPositiveInteraction("budget", 7, path, "", "", "", interactionAtMs); err != nil {
		t.Fatalf("RecordPositiveInteraction: %v", err)
	}

	old, _ := db.GetTrainingExample("exp-old")
	if old.Label != storage.LabelUnknown {
		t.Fatalf("an exposure outside the attribution window must stay unknown, got %+v", old)
	}
}

func TestFallbackExampleSynthesizedWhenNoTierMatches(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())
	enableTraining(t, db, storage.RolloutShadowTraining)

	if err := e.RecordPositiveInteraction("budget", 7, "/p/missing", "com.example.editor", "ctx-1", "dg-1", interactionAtMs); err != nil {
		t.Fatalf("RecordPositiveInteraction: %v", err)
	}

	var label int
	var conf float64
	row := db.Conn().QueryRow(`SELECT label, attribution_conf FROM training_examples_v1`)
	if err := row.Scan(&label, &conf); err != nil {
		t.Fatalf("read synthesized example: %v", err)
	}
	if label != storage.LabelPositive {
		t.Fatalf("fallback example must be positive, got label %d", label)
	}
	if conf != attributionConfidenceContext {
		t.Fatalf("fallback confidence must match the best available tier, got %v", conf)
	}
}

func TestAttributionDisabledWhenStreamOff(t *testing.T) {
	e, db := newTestEngine(t, DefaultConfig())

	seedExposure(t, db, "exp-1", 7, "ctx-1", "")
	if err := e.RecordPositiveInteraction("budget", 7, "/p/exp-1", "", "ctx-1", "", interactionAtMs); err != nil {
		t.Fatalf("RecordPositiveInteraction: %v", err)
	}

	hit, _ := db.GetTrainingExample("exp-1")
	if hit.Label != storage.LabelUnknown {
		t.Fatalf("attribution must be a no-op with learning disabled, got %+v", hit)
	}
}
