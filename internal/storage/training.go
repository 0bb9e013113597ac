package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Label values for TrainingExample.Label, per spec.md §3.
const (
	LabelUnknown  = -1
	LabelNegative = 0
	LabelPositive = 1
)

// TrainingExample mirrors spec.md §3's TrainingExample entity.
type TrainingExample struct {
	SampleID        string
	CreatedAt       int64
	Query           string
	QueryNormalized string
	ItemID          *int64
	Path            *string
	Label           int
	Weight          float64
	DenseFeatures   []float64
	SourceEventID   *string
	AppBundleID     *string
	ContextEventID  *string
	ActivityDigest  *string
	AttributionConf float64
	Consumed        bool
}

const trainingColumns = `sample_id, created_at, query, query_normalized, item_id, path, label, weight, dense_features, source_event_id, app_bundle_id, context_event_id, activity_digest, attribution_conf, consumed`

func scanTrainingExample(scanner interface{ Scan(...any) error }, e *TrainingExample) error {
	var featuresJSON string
	var consumed int
	if err := scanner.Scan(&e.SampleID, &e.CreatedAt, &e.Query, &e.QueryNormalized, &e.ItemID, &e.Path, &e.Label, &e.Weight,
		&featuresJSON, &e.SourceEventID, &e.AppBundleID, &e.ContextEventID, &e.ActivityDigest, &e.AttributionConf, &consumed); err != nil {
		return err
	}
	e.Consumed = consumed != 0
	if featuresJSON != "" {
		if err := json.Unmarshal([]byte(featuresJSON), &e.DenseFeatures); err != nil {
			return fmt.Errorf("storage: decode dense_features for %s: %w", e.SampleID, err)
		}
	}
	return nil
}

// InsertExposure records a TrainingExample with label=unknown at query-result
// exposure time, per spec.md §4.5.2.
func (d *DB) InsertExposure(e *TrainingExample) error {
	featuresJSON, err := json.Marshal(e.DenseFeatures)
	if err != nil {
		return fmt.Errorf("storage: encode dense_features: %w", err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO training_examples_v1
		 (sample_id, created_at, query, query_normalized, item_id, path, label, weight, dense_features,
		  source_event_id, app_bundle_id, context_event_id, activity_digest, attribution_conf, consumed)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,0)`,
		e.SampleID, e.CreatedAt, e.Query, e.QueryNormalized, e.ItemID, e.Path, LabelUnknown, e.Weight, string(featuresJSON),
		e.SourceEventID, e.AppBundleID, e.ContextEventID, e.ActivityDigest, e.AttributionConf,
	)
	if err != nil {
		return fmt.Errorf("storage: insert exposure %s: %w", e.SampleID, err)
	}
	return nil
}

// UnattributedByContext returns exposure rows with the given contextEventID,
// consumed=0, label still unknown, within the attribution window
// [sinceMs, untilMs] — the context tier of spec.md §4.5.2. An aged-out
// negative (label=0) is no longer attributable; only unknown rows (label<0)
// qualify.
func (d *DB) UnattributedByContext(contextEventID string, sinceMs, untilMs int64) ([]TrainingExample, error) {
	return d.queryTraining(
		`SELECT `+trainingColumns+` FROM training_examples_v1
		 WHERE context_event_id = ? AND consumed = 0 AND label < 0 AND created_at BETWEEN ? AND ?`,
		contextEventID, sinceMs, untilMs,
	)
}

// UnattributedByDigestAndQuery is the digest+query tier.
func (d *DB) UnattributedByDigestAndQuery(digest, queryNormalized string, sinceMs, untilMs int64) ([]TrainingExample, error) {
	return d.queryTraining(
		`SELECT `+trainingColumns+` FROM training_examples_v1
		 WHERE activity_digest = ? AND query_normalized = ? AND consumed = 0 AND label < 0 AND created_at BETWEEN ? AND ?`,
		digest, queryNormalized, sinceMs, untilMs,
	)
}

// UnattributedByQuery is the query-only tier.
func (d *DB) UnattributedByQuery(queryNormalized string, sinceMs, untilMs int64) ([]TrainingExample, error) {
	return d.queryTraining(
		`SELECT `+trainingColumns+` FROM training_examples_v1
		 WHERE query_normalized = ? AND consumed = 0 AND label < 0 AND created_at BETWEEN ? AND ?`,
		queryNormalized, sinceMs, untilMs,
	)
}

func (d *DB) queryTraining(query string, args ...any) ([]TrainingExample, error) {
	rows, err := d.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query training examples: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []TrainingExample
	for rows.Next() {
		var e TrainingExample
		if err := scanTrainingExample(rows, &e); err != nil {
			return nil, fmt.Errorf("storage: scan training example: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpdateAttribution bumps label/attributionConfidence for a set of sample
// ids to at least the given confidence, per the "bump to at least X" wording
// in spec.md §4.5.2.
func (d *DB) UpdateAttribution(sampleIDs []string, label int, minConfidence float64) error {
	if len(sampleIDs) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin attribution update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(
		`UPDATE training_examples_v1
		 SET label = ?, attribution_conf = MAX(attribution_conf, ?)
		 WHERE sample_id = ?`,
	)
	if err != nil {
		return fmt.Errorf("storage: prepare attribution update: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, id := range sampleIDs {
		if _, err := stmt.Exec(label, minConfidence, id); err != nil {
			return fmt.Errorf("storage: update attribution for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// InsertFallbackExample synthesizes a training example, with its label
// already known, when no existing exposure row matches any attribution
// tier, per spec.md §4.5.2. Unlike InsertExposure this does not force
// label=unknown: the caller supplies the label directly (typically
// positive, from a user interaction with no matching exposure).
func (d *DB) InsertFallbackExample(e *TrainingExample) error {
	featuresJSON, err := json.Marshal(e.DenseFeatures)
	if err != nil {
		return fmt.Errorf("storage: encode dense_features: %w", err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO training_examples_v1
		 (sample_id, created_at, query, query_normalized, item_id, path, label, weight, dense_features,
		  source_event_id, app_bundle_id, context_event_id, activity_digest, attribution_conf, consumed)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,0)`,
		e.SampleID, e.CreatedAt, e.Query, e.QueryNormalized, e.ItemID, e.Path, e.Label, e.Weight, string(featuresJSON),
		e.SourceEventID, e.AppBundleID, e.ContextEventID, e.ActivityDigest, e.AttributionConf,
	)
	if err != nil {
		return fmt.Errorf("storage: insert fallback example %s: %w", e.SampleID, err)
	}
	return nil
}

// FreshTrainingCandidates fetches rows eligible for the next training cycle:
// consumed=0 and (label=positive OR (label=unknown AND createdAt <= now -
// negativeStaleSeconds) OR label=negative), oldest first, capped at limit.
// Aged-unknowns are flipped to negative as part of the same call, per
// spec.md §4.5.3.
func (d *DB) FreshTrainingCandidates(nowMs int64, negativeStaleSeconds int64, limit int) ([]TrainingExample, error) {
	cutoff := nowMs - negativeStaleSeconds*1000

	if _, err := d.conn.Exec(
		`UPDATE training_examples_v1 SET label = ? WHERE consumed = 0 AND label = ? AND created_at <= ?`,
		LabelNegative, LabelUnknown, cutoff,
	); err != nil {
		return nil, fmt.Errorf("storage: age out stale unknowns: %w", err)
	}

	rows, err := d.conn.Query(
		`SELECT `+trainingColumns+` FROM training_examples_v1
		 WHERE consumed = 0 AND label IN (?, ?)
		 ORDER BY created_at ASC LIMIT ?`,
		LabelPositive, LabelNegative, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: fetch fresh training candidates: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []TrainingExample
	for rows.Next() {
		var e TrainingExample
		if err := scanTrainingExample(rows, &e); err != nil {
			return nil, fmt.Errorf("storage: scan fresh candidate: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkConsumed flags sample ids as incorporated into a successful training
// cycle.
func (d *DB) MarkConsumed(sampleIDs []string) error {
	if len(sampleIDs) == 0 {
		return nil
	}
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin mark consumed: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`UPDATE training_examples_v1 SET consumed = 1 WHERE sample_id = ?`)
	if err != nil {
		return fmt.Errorf("storage: prepare mark consumed: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for _, id := range sampleIDs {
		if _, err := stmt.Exec(id); err != nil {
			return fmt.Errorf("storage: mark consumed %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetTrainingExample fetches a single row by id, returning nil if absent.
func (d *DB) GetTrainingExample(sampleID string) (*TrainingExample, error) {
	row := d.conn.QueryRow(`SELECT `+trainingColumns+` FROM training_examples_v1 WHERE sample_id = ?`, sampleID)
	var e TrainingExample
	if err := scanTrainingExample(row, &e); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("storage: get training example %s: %w", sampleID, err)
	}
	return &e, nil
}
