package storage

import "fmt"

// BehaviorEvent mirrors spec.md §3's BehaviorEvent entity.
type BehaviorEvent struct {
	EventID         string
	TimestampMs     int64
	Source          string
	EventType       string
	AppBundleID     *string
	WindowTitleHash *string
	BrowserHostHash *string
	ItemPath        *string
	ItemID          *int64
	KeyEventCount   int
	ShortcutCount   int
	ScrollCount     int
	MetadataOnly    bool
	MoveDistancePx  float64
	ClickCount      int
	DragCount       int
	SecureInput     bool
	PrivateContext  bool
	DenylistedApp   bool
	Redacted        bool
	AttributionConf float64
	ContextEventID  *string
	ActivityDigest  *string
	CreatedAt       int64
}

// InsertBehaviorEvent writes an event with INSERT OR IGNORE on eventId, per
// spec.md §4.5.1, so a duplicate delivery is a silent no-op rather than an
// error.
func (d *DB) InsertBehaviorEvent(e *BehaviorEvent) error {
	_, err := d.conn.Exec(
		`INSERT OR IGNORE INTO behavior_events_v1
		 (event_id, timestamp_ms, source, event_type, app_bundle_id, window_title_hash, browser_host_hash,
		  item_path, item_id, key_event_count, shortcut_count, scroll_count, metadata_only,
		  move_distance_px, click_count, drag_count, secure_input, private_context, denylisted_app,
		  redacted, attribution_conf, context_event_id, activity_digest, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EventID, e.TimestampMs, e.Source, e.EventType, e.AppBundleID, e.WindowTitleHash, e.BrowserHostHash,
		e.ItemPath, e.ItemID, e.KeyEventCount, e.ShortcutCount, e.ScrollCount, boolToInt(e.MetadataOnly),
		e.MoveDistancePx, e.ClickCount, e.DragCount, boolToInt(e.SecureInput), boolToInt(e.PrivateContext),
		boolToInt(e.DenylistedApp), boolToInt(e.Redacted), e.AttributionConf, e.ContextEventID, e.ActivityDigest, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: insert behavior event %s: %w", e.EventID, err)
	}
	return nil
}

// PruneBehaviorEventsOlderThan deletes rows created before cutoffMs, the
// opportunistic retention sweep from spec.md §4.5.1.
func (d *DB) PruneBehaviorEventsOlderThan(cutoffMs int64) (int64, error) {
	res, err := d.conn.Exec(`DELETE FROM behavior_events_v1 WHERE created_at < ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("storage: prune behavior events: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
