package db

import (
	"context"
	"fmt"
	"time"
)

// CleanupResult contains statistics about a retention pass.
type CleanupResult struct {
	RunsDeleted int64
	Duration    time.Duration
}

// Cleanup deletes runs started more than retentionDays ago. Their samples
// go with them through ON DELETE CASCADE. VACUUM runs afterwards to return
// the space. A retentionDays of 0 keeps everything.
func (d *Database) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	return d.cleanupBefore(ctx, retentionDays, time.Now())
}

func (d *Database) cleanupBefore(ctx context.Context, retentionDays int, now time.Time) (CleanupResult, error) {
	start := time.Now()
	var result CleanupResult

	if retentionDays < 0 {
		return result, fmt.Errorf("retentionDays must be non-negative, got %d", retentionDays)
	}
	if retentionDays == 0 {
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	cutoff := formatTime(now.AddDate(0, 0, -retentionDays))
	res, err := d.exec(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return result, fmt.Errorf("failed to delete old runs: %w", err)
	}
	if result.RunsDeleted, err = res.RowsAffected(); err != nil {
		return result, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if result.RunsDeleted > 0 {
		if _, err := d.exec(ctx, "VACUUM"); err != nil {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("cleanup succeeded but VACUUM failed: %w", err)
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}
