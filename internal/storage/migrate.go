package storage

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// latestKnownVersion is the highest migration version embedded in this
// binary. Kept as an explicit constant (rather than introspected from
// goose's internal source list) so "unknown target" refusal does not depend
// on goose internals we have not verified against this exact version.
const latestKnownVersion = 1

// ErrDowngradeRefused is returned when the requested target version is
// below the database's current version.
var ErrDowngradeRefused = fmt.Errorf("storage: downgrade refused")

// ErrUnknownTargetVersion is returned when the requested target version has
// no corresponding migration in this binary.
var ErrUnknownTargetVersion = fmt.Errorf("storage: unknown target migration version")

// MigrateTo applies (or refuses) a migration to exactly target, matching
// spec.md §7/§8's migration contract: a no-op at the current version, a
// refusal (database left untouched at the current version) on downgrade or
// an unsupported target. Adapted from original_source's
// core/index/migration.cpp version-gate behavior, since goose alone applies
// "up to" a version without distinguishing "no such version exists" from
// "nothing to do."
func (d *DB) MigrateTo(ctx context.Context, migrationsFS fs.FS, target int64) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, d.conn, migrationsFS)
	if err != nil {
		return fmt.Errorf("storage: create migration provider: %w", err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("storage: read current schema version: %w", err)
	}

	if target == current {
		return nil
	}
	if target < current {
		return fmt.Errorf("%w: current=%d target=%d", ErrDowngradeRefused, current, target)
	}
	if target > latestKnownVersion {
		return fmt.Errorf("%w: %d (latest known is %d)", ErrUnknownTargetVersion, target, latestKnownVersion)
	}

	if _, err := provider.UpTo(ctx, target); err != nil {
		return fmt.Errorf("storage: migrate to %d: %w", target, err)
	}
	return nil
}
