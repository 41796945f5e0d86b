package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

func (r Repo) Resolution(ctx context.Context, feedGUID, itemGUID string) (kraft.ResolutionRecord, error) {
	const q = `SELECT feed_guid, item_guid, status, track_id, reason, attempts, attempted_at
	FROM resolution_records WHERE feed_guid = ? AND item_guid = ?;`

	var rec kraft.ResolutionRecord
	err := r.db.GetContext(ctx, &rec, q, feedGUID, itemGUID)
	if errors.Is(err, sql.ErrNoRows) {
		return kraft.ResolutionRecord{}, kraft.ErrNotFound
	}
	if err != nil {
		return kraft.ResolutionRecord{}, fmt.Errorf("error fetching resolution: %w", err)
	}

	return rec, nil
}

// RecordResolution stores the outcome of the latest attempt, counting attempts.
func (r Repo) RecordResolution(ctx context.Context, rec kraft.ResolutionRecord) error {
	const q = `INSERT INTO resolution_records (feed_guid, item_guid, status, track_id, reason, attempts, attempted_at)
	VALUES (:feed_guid, :item_guid, :status, :track_id, :reason, 1, :attempted_at)
	ON CONFLICT (feed_guid, item_guid) DO UPDATE SET
		status = excluded.status,
		track_id = excluded.track_id,
		reason = excluded.reason,
		attempts = resolution_records.attempts + 1,
		attempted_at = excluded.attempted_at;`

	if rec.AttemptedAt.IsZero() {
		rec.AttemptedAt = time.Now().UTC()
	}
	if _, err := r.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("error recording resolution: %w", err)
	}

	return nil
}
