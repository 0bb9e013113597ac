package storage

import (
	"database/sql"
	"errors"
	"fmt"
)

// Well-known keys in learning_model_state_v1, a flat key/value table mirroring
// settings but scoped to the learning engine's own bookkeeping so the two
// never collide.
const (
	ModelStateActiveVersion    = "active_version"
	ModelStateCandidateVersion = "candidate_version"
	ModelStateRolloutMode      = "rollout_mode"
	ModelStateLastTrainedAt    = "last_trained_at"
	ModelStateLastPromotedAt   = "last_promoted_at"
)

// Rollout modes, per spec.md §4.5.4.
const (
	RolloutInstrumentationOnly = "instrumentation_only"
	RolloutShadowTraining      = "shadow_training"
	RolloutBlendedRanking      = "blended_ranking"
)

// GetModelState reads a single key, returning ("", false) if unset.
func (d *DB) GetModelState(key string) (string, bool, error) {
	row := d.conn.QueryRow(`SELECT value FROM learning_model_state_v1 WHERE key = ?`, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: get model state %s: %w", key, err)
	}
	return value, true, nil
}

// SetModelState upserts a single key, stamping updated_at.
func (d *DB) SetModelState(key, value string, updatedAt int64) error {
	_, err := d.conn.Exec(
		`INSERT INTO learning_model_state_v1 (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: set model state %s: %w", key, err)
	}
	return nil
}

// PromoteCandidate atomically moves the candidate version into the active
// slot, the storage half of the candidate/active swap described in
// spec.md §4.5.4. The file-level atomic rename of the model artifacts
// themselves is the learning engine's responsibility; this only updates the
// bookkeeping row so the two stay consistent within one transaction.
func (d *DB) PromoteCandidate(newActiveVersion string, promotedAt int64) error {
	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("storage: begin promote candidate: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt := `INSERT INTO learning_model_state_v1 (key, value, updated_at) VALUES (?, ?, ?)
	         ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := tx.Exec(stmt, ModelStateActiveVersion, newActiveVersion, promotedAt); err != nil {
		return fmt.Errorf("storage: promote active version: %w", err)
	}
	if _, err := tx.Exec(stmt, ModelStateCandidateVersion, "", promotedAt); err != nil {
		return fmt.Errorf("storage: clear candidate version: %w", err)
	}
	if _, err := tx.Exec(stmt, ModelStateLastPromotedAt, fmt.Sprintf("%d", promotedAt), promotedAt); err != nil {
		return fmt.Errorf("storage: stamp last promoted at: %w", err)
	}
	return tx.Commit()
}
