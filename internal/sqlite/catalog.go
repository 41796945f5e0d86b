package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

// Tables holding a track_id that must follow a track when it's merged away.
var dependentTables = []string{"playlist_tracks", "favorites", "social_posts", "boost_events"}

// TrackSummaries lists every track with what deduplication ranks on.
func (r Repo) TrackSummaries(ctx context.Context) ([]kraft.TrackSummary, error) {
	const q = `SELECT
		t.id AS id,
		t.title AS title,
		t.artist AS artist,
		t.audio_url AS audio_url,
		t.v4v_value AS v4v_value,
		t.v4v_recipient AS v4v_recipient,
		COALESCE(f.status, '') AS feed_status,
		t.created_at AS created_at
	FROM tracks t
		LEFT JOIN feeds f ON f.id = t.feed_id
	ORDER BY t.created_at, t.id;`

	var rows []struct {
		kraft.TrackSummary
		V4VValue     sql.NullString `db:"v4v_value"`
		V4VRecipient string         `db:"v4v_recipient"`
	}
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("error selecting track summaries: %w", err)
	}

	sums := make([]kraft.TrackSummary, 0, len(rows))
	for _, row := range rows {
		// Decoded so a block holding only fee recipients doesn't count.
		t := trackRow{V4VValue: row.V4VValue}.track()
		t.V4VRecipient = row.V4VRecipient

		sum := row.TrackSummary
		sum.HasV4V = t.HasV4V()
		sums = append(sums, sum)
	}

	return sums, nil
}

func (r Repo) Dependents(ctx context.Context, trackID string) (kraft.Dependents, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM playlist_tracks WHERE track_id = ?) AS playlist_tracks,
		(SELECT COUNT(*) FROM favorites WHERE track_id = ?) AS favorites,
		(SELECT COUNT(*) FROM social_posts WHERE track_id = ?) AS social_posts,
		(SELECT COUNT(*) FROM boost_events WHERE track_id = ?) AS boost_events;`

	var d kraft.Dependents
	if err := r.db.GetContext(ctx, &d, q, trackID, trackID, trackID, trackID); err != nil {
		return kraft.Dependents{}, fmt.Errorf("error counting dependents: %w", err)
	}

	return d, nil
}

// MergeTrack points everything referencing fromID at intoID, then deletes
// fromID. Any failure leaves both tracks and their references untouched.
func (r Repo) MergeTrack(ctx context.Context, fromID, intoID string) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		for _, table := range dependentTables {
			q := `UPDATE ` + table + ` SET track_id = ? WHERE track_id = ?;`
			if _, err := tx.ExecContext(ctx, q, intoID, fromID); err != nil {
				return fmt.Errorf("error re-pointing %s: %w", table, err)
			}
		}

		// Resolution records aren't dependents that block a removal, but a
		// resolved pair has to keep naming a live track.
		const q = `UPDATE resolution_records SET track_id = ? WHERE track_id = ?;`
		if _, err := tx.ExecContext(ctx, q, intoID, fromID); err != nil {
			return fmt.Errorf("error re-pointing resolution_records: %w", err)
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM tracks WHERE id = ?;`, fromID)
		if err != nil {
			return fmt.Errorf("error deleting track: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return kraft.ErrNotFound
		}

		return nil
	})
}

func (r Repo) Favorites(ctx context.Context, sessionID string) ([]kraft.Favorite, error) {
	const q = `SELECT id, session_id, track_id, title, artist, created_at
	FROM favorites WHERE session_id = ? ORDER BY created_at, id;`

	var favs []kraft.Favorite
	if err := r.db.SelectContext(ctx, &favs, q, sessionID); err != nil {
		return nil, fmt.Errorf("error selecting favorites: %w", err)
	}

	return favs, nil
}

func (r Repo) UpdateFavoriteTrack(ctx context.Context, favoriteID, trackID string) error {
	const q = `UPDATE favorites SET track_id = ? WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, trackID, favoriteID); err != nil {
		return fmt.Errorf("error updating favorite: %w", err)
	}

	return nil
}

func (r Repo) DeleteFavorite(ctx context.Context, favoriteID string) error {
	const q = `DELETE FROM favorites WHERE id = ?;`
	if _, err := r.db.ExecContext(ctx, q, favoriteID); err != nil {
		return fmt.Errorf("error deleting favorite: %w", err)
	}

	return nil
}
