package learning

import (
	"context"
	"strings"

	"github.com/findcore/findcore/internal/ranking"
	"github.com/findcore/findcore/internal/storage"
)

// RecordExposure implements ranking.Exposer, letting the query pipeline
// record a label=unknown training row at result-serving time without
// importing this package's concrete type.
func (e *Engine) RecordExposure(ctx context.Context, exp ranking.Exposure) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.settingBool("learningEnabled", false) || !e.settingBool("behaviorStreamEnabled", false) {
		return nil
	}

	itemID := exp.ItemID
	var contextEventID, activityDigest *string
	if exp.ContextEventID != "" {
		contextEventID = &exp.ContextEventID
	}
	if exp.ActivityDigest != "" {
		activityDigest = &exp.ActivityDigest
	}

	return e.db.InsertExposure(&storage.TrainingExample{
		SampleID:        exp.SampleID,
		CreatedAt:       exp.CreatedAtMs,
		Query:           exp.Query,
		QueryNormalized: exp.QueryNormalized,
		ItemID:          &itemID,
		Path:            &exp.Path,
		Weight:          exp.Weight,
		DenseFeatures:   exp.DenseFeatures,
		ContextEventID:  contextEventID,
		ActivityDigest:  activityDigest,
	})
}

// RecordPositiveInteraction attributes a user interaction (open, copy path,
// reveal in folder...) to the most specific matching unattributed exposure
// within the attribution window, per spec.md §4.5.2's three tiers. If no
// exposure matches any tier, it synthesizes a fallback positive example so
// the interaction is never silently lost.
func (e *Engine) RecordPositiveInteraction(query string, itemID int64, path, appBundleID, contextEventID, activityDigest string, atMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.settingBool("learningEnabled", false) || !e.settingBool("behaviorStreamEnabled", false) {
		return nil
	}

	normalizedQuery := ranking.Normalize(query).Normalized
	contextEventID = strings.TrimSpace(contextEventID)
	activityDigest = strings.TrimSpace(activityDigest)

	sinceMs := atMs - attributionWindowSeconds*1000
	untilMs := atMs + attributionWindowSeconds*1000

	if contextEventID != "" {
		rows, err := e.db.UnattributedByContext(contextEventID, sinceMs, untilMs)
		if err != nil {
			return err
		}
		if matched, err := e.attributeMatches(rows, itemID, storage.LabelPositive, attributionConfidenceContext); err != nil {
			return err
		} else if matched {
			return nil
		}
	}

	if activityDigest != "" && normalizedQuery != "" {
		rows, err := e.db.UnattributedByDigestAndQuery(activityDigest, normalizedQuery, sinceMs, untilMs)
		if err != nil {
			return err
		}
		if matched, err := e.attributeMatches(rows, itemID, storage.LabelPositive, attributionConfidenceDigest); err != nil {
			return err
		} else if matched {
			return nil
		}
	}

	if normalizedQuery != "" {
		rows, err := e.db.UnattributedByQuery(normalizedQuery, sinceMs, untilMs)
		if err != nil {
			return err
		}
		if matched, err := e.attributeMatches(rows, itemID, storage.LabelPositive, attributionConfidenceQuery); err != nil {
			return err
		} else if matched {
			return nil
		}
	}

	return e.insertFallbackPositive(query, normalizedQuery, itemID, path, appBundleID, contextEventID, activityDigest, atMs)
}

// attributeMatches bumps the label/confidence of rows whose itemId matches,
// returning whether at least one row was updated.
func (e *Engine) attributeMatches(rows []storage.TrainingExample, itemID int64, label int, confidence float64) (bool, error) {
	var ids []string
	for _, r := range rows {
		if r.ItemID != nil && *r.ItemID == itemID {
			ids = append(ids, r.SampleID)
		}
	}
	if len(ids) == 0 {
		return false, nil
	}
	if err := e.db.UpdateAttribution(ids, label, confidence); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) insertFallbackPositive(query, normalizedQuery string, itemID int64, path, appBundleID, contextEventID, activityDigest string, atMs int64) error {
	confidence := attributionConfidenceQuery
	if contextEventID != "" {
		confidence = attributionConfidenceContext
	} else if activityDigest != "" {
		confidence = attributionConfidenceDigest
	}

	features := make([]float64, e.cfg.FeatureDim)
	if e.cfg.FeatureDim > resultRankFeatureIndex {
		features[resultRankFeatureIndex] = 1.0
	}

	ex := &storage.TrainingExample{
		SampleID:        newSampleID(),
		CreatedAt:       atMs,
		Query:           query,
		QueryNormalized: normalizedQuery,
		ItemID:          &itemID,
		Path:            &path,
		Label:           storage.LabelPositive,
		Weight:          1.0,
		DenseFeatures:   features,
		AttributionConf: confidence,
	}
	if appBundleID != "" {
		ex.AppBundleID = &appBundleID
	}
	if contextEventID != "" {
		ex.ContextEventID = &contextEventID
	}
	if activityDigest != "" {
		ex.ActivityDigest = &activityDigest
	}
	ex.Label = storage.LabelPositive
	return e.db.InsertFallbackExample(ex)
}

// resultRankFeatureIndex is the fallback-example feature slot stamped to
// indicate "interaction with no retrievable ranking context", matching the
// original engine's fallbackFeatures[10] = 1.0 convention for its 13-wide
// vector.
const resultRankFeatureIndex = 10
