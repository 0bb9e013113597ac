package storage

import (
	"database/sql"
	"fmt"
)

// ItemKind enumerates spec.md §3's Item.kind values.
type ItemKind string

const (
	KindText      ItemKind = "Text"
	KindCode      ItemKind = "Code"
	KindMarkdown  ItemKind = "Markdown"
	KindPdf       ItemKind = "Pdf"
	KindImage     ItemKind = "Image"
	KindDirectory ItemKind = "Directory"
	KindArchive   ItemKind = "Archive"
	KindBinary    ItemKind = "Binary"
	KindUnknown   ItemKind = "Unknown"
)

// Item is the persistent record of an indexed path, per spec.md §3.
type Item struct {
	ItemID     int64
	Path       string
	Name       string
	Extension  string
	Kind       ItemKind
	SizeBytes  int64
	ModifiedAt int64
	CreatedAt  int64
	ParentPath string
	IsPinned   bool
}

const itemColumns = `item_id, path, name, extension, kind, size_bytes, modified_at, created_at, parent_path, is_pinned`

func scanItem(scanner interface{ Scan(...any) error }, it *Item) error {
	var pinned int
	if err := scanner.Scan(&it.ItemID, &it.Path, &it.Name, &it.Extension, &it.Kind, &it.SizeBytes, &it.ModifiedAt, &it.CreatedAt, &it.ParentPath, &pinned); err != nil {
		return err
	}
	it.IsPinned = pinned != 0
	return nil
}

// UpsertItem inserts a new item or updates the mutable fields of an existing
// one keyed by path, the external indexer's entry point per spec.md §3
// ("created/updated by the external indexer via upsert").
func (d *DB) UpsertItem(it *Item) (int64, error) {
	pinned := 0
	if it.IsPinned {
		pinned = 1
	}
	_, err := d.conn.Exec(
		`INSERT INTO items (path, name, extension, kind, size_bytes, modified_at, created_at, parent_path, is_pinned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   name=excluded.name, extension=excluded.extension, kind=excluded.kind,
		   size_bytes=excluded.size_bytes, modified_at=excluded.modified_at,
		   parent_path=excluded.parent_path, is_pinned=excluded.is_pinned`,
		it.Path, it.Name, it.Extension, it.Kind, it.SizeBytes, it.ModifiedAt, it.CreatedAt, it.ParentPath, pinned,
	)
	if err != nil {
		return 0, fmt.Errorf("storage: upsert item %s: %w", it.Path, err)
	}

	row := d.conn.QueryRow(`SELECT item_id FROM items WHERE path = ?`, it.Path)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("storage: read back item id for %s: %w", it.Path, err)
	}
	return id, nil
}

// GetItem retrieves a single item by id.
func (d *DB) GetItem(itemID int64) (*Item, error) {
	it := &Item{}
	row := d.conn.QueryRow(`SELECT `+itemColumns+` FROM items WHERE item_id = ?`, itemID)
	if err := scanItem(row, it); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("storage: get item %d: %w", itemID, err)
	}
	return it, nil
}

// DeleteItem removes an item on re-scan removal (spec.md §3: "destroyed
// only on re-scan removal").
func (d *DB) DeleteItem(itemID int64) error {
	_, err := d.conn.Exec(`DELETE FROM items WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("storage: delete item %d: %w", itemID, err)
	}
	return nil
}

// RecordOpen inserts one interaction row per item open, used by
// the scorer's frequency signal.
func (d *DB) RecordOpen(itemID int64, query string, openedAt int64) error {
	_, err := d.conn.Exec(
		`INSERT INTO interactions (item_id, query, opened_at, open_count) VALUES (?, ?, ?, 1)`,
		itemID, query, openedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: record open for item %d: %w", itemID, err)
	}
	return nil
}

// OpenStats summarizes interaction history for the scorer's frequency
// signal.
type OpenStats struct {
	OpenCount    int
	LastOpenedAt int64
}

// GetOpenStats returns aggregate open counts/last-open time for an item.
func (d *DB) GetOpenStats(itemID int64) (OpenStats, error) {
	var stats OpenStats
	row := d.conn.QueryRow(
		`SELECT COUNT(*), COALESCE(MAX(opened_at), 0) FROM interactions WHERE item_id = ?`, itemID,
	)
	if err := row.Scan(&stats.OpenCount, &stats.LastOpenedAt); err != nil {
		return stats, fmt.Errorf("storage: open stats for item %d: %w", itemID, err)
	}
	return stats, nil
}
