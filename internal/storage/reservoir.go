package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// ReservoirSlot is one occupied slot of the fixed-capacity replay reservoir
// backing Vitter-style sampling, per spec.md §4.5.3.
type ReservoirSlot struct {
	Slot            int
	SampleID        string
	Label           int
	Weight          float64
	Features        []float64
	QueryNormalized *string
	ItemID          *int64
	CreatedAt       int64
}

const reservoirColumns = `slot, sample_id, label, weight, features, query_normalized, item_id, created_at`

func scanReservoirSlot(scanner interface{ Scan(...any) error }, s *ReservoirSlot) error {
	var featuresJSON string
	if err := scanner.Scan(&s.Slot, &s.SampleID, &s.Label, &s.Weight, &featuresJSON, &s.QueryNormalized, &s.ItemID, &s.CreatedAt); err != nil {
		return err
	}
	if featuresJSON != "" {
		if err := json.Unmarshal([]byte(featuresJSON), &s.Features); err != nil {
			return fmt.Errorf("storage: decode reservoir features for slot %d: %w", s.Slot, err)
		}
	}
	return nil
}

// ReservoirSize returns the number of occupied slots, the "n" of Vitter's
// algorithm R.
func (d *DB) ReservoirSize() (int, error) {
	var n int
	row := d.conn.QueryRow(`SELECT COUNT(*) FROM replay_reservoir_v1`)
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: reservoir size: %w", err)
	}
	return n, nil
}

// ReservoirPut inserts at slot when the reservoir is not yet full, or
// overwrites the example occupying slot when a replacement was chosen by the
// caller's Vitter draw. Both cases are the same statement: an upsert keyed
// on slot.
func (d *DB) ReservoirPut(s *ReservoirSlot) error {
	featuresJSON, err := json.Marshal(s.Features)
	if err != nil {
		return fmt.Errorf("storage: encode reservoir features: %w", err)
	}
	_, err = d.conn.Exec(
		`INSERT INTO replay_reservoir_v1 (slot, sample_id, label, weight, features, query_normalized, item_id, created_at)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(slot) DO UPDATE SET
		   sample_id=excluded.sample_id, label=excluded.label, weight=excluded.weight,
		   features=excluded.features, query_normalized=excluded.query_normalized,
		   item_id=excluded.item_id, created_at=excluded.created_at`,
		s.Slot, s.SampleID, s.Label, s.Weight, string(featuresJSON), s.QueryNormalized, s.ItemID, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: put reservoir slot %d: %w", s.Slot, err)
	}
	return nil
}

// ReservoirGet fetches a single slot, returning nil if unoccupied.
func (d *DB) ReservoirGet(slot int) (*ReservoirSlot, error) {
	row := d.conn.QueryRow(`SELECT `+reservoirColumns+` FROM replay_reservoir_v1 WHERE slot = ?`, slot)
	var s ReservoirSlot
	if err := scanReservoirSlot(row, &s); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("storage: get reservoir slot %d: %w", slot, err)
	}
	return &s, nil
}

// ReservoirAll returns every occupied slot, used to assemble the replay
// batch a training cycle blends in alongside fresh candidates.
func (d *DB) ReservoirAll() ([]ReservoirSlot, error) {
	rows, err := d.conn.Query(`SELECT ` + reservoirColumns + ` FROM replay_reservoir_v1 ORDER BY slot ASC`)
	if err != nil {
		return nil, fmt.Errorf("storage: list reservoir: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []ReservoirSlot
	for rows.Next() {
		var s ReservoirSlot
		if err := scanReservoirSlot(rows, &s); err != nil {
			return nil, fmt.Errorf("storage: scan reservoir slot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
