package storage

import (
	"context"
	"errors"
	"io/fs"
	"testing"
)

func migrationsSubFS(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("migrations sub-fs: %v", err)
	}
	return sub
}

func TestMigrateToCurrentVersionIsNoOp(t *testing.T) {
	d := openTestDB(t)

	if err := d.MigrateTo(context.Background(), migrationsSubFS(t), latestKnownVersion); err != nil {
		t.Fatalf("migrate to current version must be a no-op, got: %v", err)
	}
}

func TestMigrateToRefusesDowngrade(t *testing.T) {
	d := openTestDB(t)

	err := d.MigrateTo(context.Background(), migrationsSubFS(t), 0)
	if !errors.Is(err, ErrDowngradeRefused) {
		t.Fatalf("expected ErrDowngradeRefused, got: %v", err)
	}

	// The refused downgrade must leave the schema intact and writable.
	if _, err := d.UpsertItem(&Item{Path: "/p/x.txt", Name: "x.txt", Kind: KindText}); err != nil {
		t.Fatalf("schema must be untouched after refused downgrade: %v", err)
	}
}

func TestMigrateToRefusesUnknownTarget(t *testing.T) {
	d := openTestDB(t)

	err := d.MigrateTo(context.Background(), migrationsSubFS(t), 99)
	if !errors.Is(err, ErrUnknownTargetVersion) {
		t.Fatalf("expected ErrUnknownTargetVersion, got: %v", err)
	}

	if err := d.MigrateTo(context.Background(), migrationsSubFS(t), latestKnownVersion); err != nil {
		t.Fatalf("database must remain at the last migrated version: %v", err)
	}
}
