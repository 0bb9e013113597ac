package storage

import (
	"fmt"
	"testing"
)

func insertExposureAt(t *testing.T, d *DB, sampleID string, createdAt int64, queryNormalized, contextEventID, activityDigest string, itemID int64) {
	t.Helper()
	var ctxID, digest *string
	if contextEventID != "" {
		ctxID = &contextEventID
	}
	if activityDigest != "" {
		digest = &activityDigest
	}
	path := "/p/" + sampleID
	if err := d.InsertExposure(&TrainingExample{
		SampleID:        sampleID,
		CreatedAt:       createdAt,
		Query:           queryNormalized,
		QueryNormalized: queryNormalized,
		ItemID:          &itemID,
		Path:            &path,
		Weight:          1.0,
		DenseFeatures:   []float64{0.5, 0.25},
		ContextEventID:  ctxID,
		ActivityDigest:  digest,
	}); err != nil {
		t.Fatalf("InsertExposure %s: %v", sampleID, err)
	}
}

func TestInsertExposureForcesUnknownLabel(t *testing.T) {
	d := openTestDB(t)

	insertExposureAt(t, d, "s1", 1000, "budget", "ctx-1", "", 7)

	ex, err := d.GetTrainingExample("s1")
	if err != nil {
		t.Fatalf("GetTrainingExample: %v", err)
	}
	if ex == nil || ex.Label != LabelUnknown {
		t.Fatalf("exposure must be recorded with label unknown, got %+v", ex)
	}
	if ex.AttributionConf != 0 {
		t.Fatalf("exposure must start unattributed, got conf %v", ex.AttributionConf)
	}
	if len(ex.DenseFeatures) != 2 || ex.DenseFeatures[0] != 0.5 {
		t.Fatalf("dense features did not roundtrip: %v", ex.DenseFeatures)
	}
}

func TestUnattributedByContextHonorsWindow(t *testing.T) {
	d := openTestDB(t)

	insertExposureAt(t, d, "in-window-a", 10_000, "budget", "ctx-1", "", 1)
	insertExposureAt(t, d, "in-window-b", 20_000, "budget", "ctx-1", "", 2)
	insertExposureAt(t, d, "outside", 90_000, "budget", "ctx-1", "", 3)
	insertExposureAt(t, d, "other-ctx", 15_000, "budget", "ctx-2", "", 4)

	rows, err := d.UnattributedByContext("ctx-1", 5_000, 30_000)
	if err != nil {
		t.Fatalf("UnattributedByContext: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected exactly the two in-window ctx-1 rows, got %d", len(rows))
	}
}

func TestUnattributedQueriesExcludeAgedNegatives(t *testing.T) {
	d := openTestDB(t)

	insertExposureAt(t, d, "still-unknown", 10_000, "budget", "ctx-1", "dg-1", 1)

	// An aged-out negative sharing the same context id, digest, and query
	// must not be attributable back to positive.
	ctxID, digest := "ctx-1", "dg-1"
	itemID := int64(2)
	path := "/p/aged-negative"
	if err := d.InsertFallbackExample(&TrainingExample{
		SampleID:        "aged-negative",
		CreatedAt:       10_000,
		Query:           "budget",
		QueryNormalized: "budget",
		ItemID:          &itemID,
		Path:            &path,
		Label:           LabelNegative,
		Weight:          1.0,
		ContextEventID:  &ctxID,
		ActivityDigest:  &digest,
	}); err != nil {
		t.Fatalf("insert aged negative: %v", err)
	}

	byContext, err := d.UnattributedByContext("ctx-1", 5_000, 30_000)
	if err != nil {
		t.Fatalf("UnattributedByContext: %v", err)
	}
	byDigest, err := d.UnattributedByDigestAndQuery("dg-1", "budget", 5_000, 30_000)
	if err != nil {
		t.Fatalf("UnattributedByDigestAndQuery: %v", err)
	}
	byQuery, err := d.UnattributedByQuery("budget", 5_000, 30_000)
	if err != nil {
		t.Fatalf("UnattributedByQuery: %v", err)
	}
	for name, rows := range map[string][]TrainingExample{
		"context": byContext, "digest+query": byDigest, "query": byQuery,
	} {
		if len(rows) != 1 || rows[0].SampleID != "still-unknown" {
			t.Fatalf("%s tier must return only the unknown row, got %+v", name, rows)
		}
	}
}

func TestUpdateAttributionBumpsOnlyListedRows(t *testing.T) {
	d := openTestDB(t)

	insertExposureAt(t, d, "hit", 10_000, "budget", "ctx-1", "", 1)
	insertExposureAt(t, d, "miss", 10_000, "budget", "ctx-1", "", 2)

	if err := d.UpdateAttribution([]string{"hit"}, LabelPositive, 1.0); err != nil {
		t.Fatalf("UpdateAttribution: %v", err)
	}

	hit, _ := d.GetTrainingExample("hit")
	if hit.Label != LabelPositive || hit.AttributionConf != 1.0 {
		t.Fatalf("expected hit attributed, got %+v", hit)
	}
	miss, _ := d.GetTrainingExample("miss")
	if miss.Label != LabelUnknown || miss.AttributionConf != 0 {
		t.Fatalf("expected miss untouched, got %+v", miss)
	}
}

func TestUpdateAttributionNeverLowersConfidence(t *testing.T) {
	d := openTestDB(t)

	insertExposureAt(t, d, "s1", 10_000, "budget", "ctx-1", "dg-1", 1)
	if err := d.UpdateAttribution([]string{"s1"}, LabelPositive, 1.0); err != nil {
		t.Fatalf("first attribution: %v", err)
	}
	if err := d.UpdateAttribution([]string{"s1"}, LabelPositive, 0.70); err != nil {
		t.Fatalf("second attribution: %v", err)
	}

	ex, _ := d.GetTrainingExample("s1")
	if ex.AttributionConf != 1.0 {
		t.Fatalf("confidence must only ratchet up, got %v", ex.AttributionConf)
	}
}

func TestFreshTrainingCandidatesAgesStaleUnknowns(t *testing.T) {
	d := openTestDB(t)

	now := int64(100_000)
	staleSeconds := int64(30)

	insertExposureAt(t, d, "stale-unknown", now-60_000, "a", "", "", 1)
	insertExposureAt(t, d, "fresh-unknown", now-1_000, "b", "", "", 2)
	insertExposureAt(t, d, "positive", now-60_000, "c", "", "", 3)
	if err := d.UpdateAttribution([]string{"positive"}, LabelPositive, 1.0); err != nil {
		t.Fatalf("attribute: %v", err)
	}

	rows, err := d.FreshTrainingCandidates(now, staleSeconds, 100)
	if err != nil {
		t.Fatalf("FreshTrainingCandidates: %v", err)
	}

	byID := map[string]TrainingExample{}
	for _, r := range rows {
		byID[r.SampleID] = r
	}
	if len(rows) != 2 {
		t.Fatalf("expected stale-unknown and positive only, got %d rows", len(rows))
	}
	if byID["stale-unknown"].Label != LabelNegative {
		t.Fatalf("stale unknown must age into a negative, got label %d", byID["stale-unknown"].Label)
	}
	if byID["positive"].Label != LabelPositive {
		t.Fatalf("positive must survive as positive, got label %d", byID["positive"].Label)
	}
	if _, ok := byID["fresh-unknown"]; ok {
		t.Fatal("a still-fresh unknown must not be a training candidate")
	}
}

func TestMarkConsumedExcludesFromFreshCandidates(t *testing.T) {
	d := openTestDB(t)

	insertExposureAt(t, d, "s1", 1_000, "a", "", "", 1)
	if err := d.UpdateAttribution([]string{"s1"}, LabelPositive, 1.0); err != nil {
		t.Fatalf("attribute: %v", err)
	}
	if err := d.MarkConsumed([]string{"s1"}); err != nil {
		t.Fatalf("MarkConsumed: %v", err)
	}

	rows, err := d.FreshTrainingCandidates(100_000, 30, 100)
	if err != nil {
		t.Fatalf("FreshTrainingCandidates: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("consumed rows must not be refetched, got %d", len(rows))
	}
}

func TestReservoirPutUpsertsBySlot(t *testing.T) {
	d := openTestDB(t)

	for i := 0; i < 5; i++ {
		if err := d.ReservoirPut(&ReservoirSlot{
			Slot:      i,
			SampleID:  fmt.Sprintf("s%d", i),
			Label:     LabelPositive,
			Weight:    1.0,
			Features:  []float64{float64(i)},
			CreatedAt: int64(i),
		}); err != nil {
			t.Fatalf("ReservoirPut slot %d: %v", i, err)
		}
	}

	// Replacing an occupied slot keeps the row count fixed.
	if err := d.ReservoirPut(&ReservoirSlot{
		Slot: 2, SampleID: "replacement", Label: LabelNegative, Weight: 2.0, CreatedAt: 99,
	}); err != nil {
		t.Fatalf("ReservoirPut replacement: %v", err)
	}

	n, err := d.ReservoirSize()
	if err != nil {
		t.Fatalf("ReservoirSize: %v", err)
	}
	if n != 5 {
		t.Fatalf("expected 5 occupied slots, got %d", n)
	}

	slot, err := d.ReservoirGet(2)
	if err != nil {
		t.Fatalf("ReservoirGet: %v", err)
	}
	if slot == nil || slot.SampleID != "replacement" || slot.Label != LabelNegative {
		t.Fatalf("slot 2 not replaced: %+v", slot)
	}

	all, err := d.ReservoirAll()
	if err != nil {
		t.Fatalf("ReservoirAll: %v", err)
	}
	seen := map[int]bool{}
	for _, s := range all {
		if seen[s.Slot] {
			t.Fatalf("duplicate slot %d", s.Slot)
		}
		seen[s.Slot] = true
	}
}
