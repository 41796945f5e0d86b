package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
)

const (
	trackNamespace = "-trk"

	trackColumns = `id, feed_id, guid, title, artist, audio_url, duration, image_url,
	published_at, v4v_value, v4v_recipient, created_at`
)

// trackRow carries the value block as the JSON it is stored as.
type trackRow struct {
	kraft.Track
	V4VValue sql.NullString `db:"v4v_value"`
}

func toRow(t kraft.Track) (trackRow, error) {
	row := trackRow{Track: t}
	if t.V4V != nil {
		byts, err := json.Marshal(t.V4V)
		if err != nil {
			return trackRow{}, fmt.Errorf("error encoding value block: %w", err)
		}
		row.V4VValue = sql.NullString{String: string(byts), Valid: true}
	}
	return row, nil
}

func (row trackRow) track() kraft.Track {
	t := row.Track
	if row.V4VValue.Valid && row.V4VValue.String != "" {
		var val v4v.Value
		if err := json.Unmarshal([]byte(row.V4VValue.String), &val); err == nil {
			t.V4V = &val
		}
	}
	return t
}

func (r Repo) Track(ctx context.Context, id string) (kraft.Track, error) {
	return r.trackWhere(ctx, "id = ?", id)
}

func (r Repo) TrackByFeedAndGUID(ctx context.Context, feedID, guid string) (kraft.Track, error) {
	return r.trackWhere(ctx, "feed_id = ? AND guid = ?", feedID, guid)
}

// TrackByGUID returns the oldest track with the item guid, in any feed.
func (r Repo) TrackByGUID(ctx context.Context, guid string) (kraft.Track, error) {
	if guid == "" {
		return kraft.Track{}, kraft.ErrNotFound
	}
	return r.trackWhere(ctx, "guid = ? ORDER BY created_at, id LIMIT 1", guid)
}

func (r Repo) TrackByAudioURL(ctx context.Context, audioURL string) (kraft.Track, error) {
	if audioURL == "" {
		return kraft.Track{}, kraft.ErrNotFound
	}
	return r.trackWhere(ctx, "audio_url = ? ORDER BY created_at, id LIMIT 1", audioURL)
}

func (r Repo) trackWhere(ctx context.Context, where string, args ...any) (kraft.Track, error) {
	q := `SELECT ` + trackColumns + ` FROM tracks WHERE ` + where + `;`

	var row trackRow
	err := r.db.GetContext(ctx, &row, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return kraft.Track{}, kraft.ErrNotFound
	}
	if err != nil {
		return kraft.Track{}, fmt.Errorf("error fetching track: %w", err)
	}

	return row.track(), nil
}

const insertTrackQ = `INSERT INTO tracks (
	id, feed_id, guid, title, artist, audio_url, duration, image_url,
	published_at, v4v_value, v4v_recipient, created_at
) VALUES (
	:id, :feed_id, :guid, :title, :artist, :audio_url, :duration, :image_url,
	:published_at, :v4v_value, :v4v_recipient, :created_at
);`

// InsertTrack creates a track. Another track with the same guid in the same
// feed is kraft.ErrConflict.
func (r Repo) InsertTrack(ctx context.Context, track kraft.Track) (kraft.Track, error) {
	track.ID = uuid.NewString() + trackNamespace
	if track.CreatedAt.IsZero() {
		track.CreatedAt = time.Now().UTC()
	}

	row, err := toRow(track)
	if err != nil {
		return kraft.Track{}, err
	}

	_, err = r.db.NamedExecContext(ctx, insertTrackQ, row)
	if isConflict(err) {
		return kraft.Track{}, fmt.Errorf("track already exists: %w", kraft.ErrConflict)
	}
	if err != nil {
		return kraft.Track{}, fmt.Errorf("error inserting track: %w", err)
	}

	return r.Track(ctx, track.ID)
}

// UpsertTracks writes a feed's items. Existing rows are matched on guid, or
// on audio url for items without one, and get their metadata refreshed. A
// value block is only ever added or replaced, never cleared by an item that
// lacks one.
func (r Repo) UpsertTracks(ctx context.Context, tracks []kraft.Track) (int, error) {
	if len(tracks) == 0 {
		return 0, nil
	}

	var inserted int
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for _, t := range tracks {
			id, err := existingTrackID(ctx, tx, t)
			if err != nil {
				return err
			}

			row, err := toRow(t)
			if err != nil {
				return err
			}

			if id == "" {
				row.ID = uuid.NewString() + trackNamespace
				if row.CreatedAt.IsZero() {
					row.CreatedAt = now
				}
				if _, err := tx.NamedExecContext(ctx, insertTrackQ, row); err != nil {
					return fmt.Errorf("error inserting track: %w", err)
				}
				inserted++
				continue
			}

			row.ID = id
			const q = `UPDATE tracks SET
				title = :title,
				artist = :artist,
				audio_url = CASE WHEN :audio_url <> '' THEN :audio_url ELSE audio_url END,
				duration = CASE WHEN :duration > 0 THEN :duration ELSE duration END,
				image_url = CASE WHEN :image_url <> '' THEN :image_url ELSE image_url END,
				published_at = COALESCE(:published_at, published_at),
				v4v_value = COALESCE(:v4v_value, v4v_value),
				v4v_recipient = CASE WHEN :v4v_recipient <> '' THEN :v4v_recipient ELSE v4v_recipient END
			WHERE id = :id;`
			if _, err := tx.NamedExecContext(ctx, q, row); err != nil {
				return fmt.Errorf("error updating track: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return inserted, nil
}

func existingTrackID(ctx context.Context, tx *sqlx.Tx, t kraft.Track) (string, error) {
	var (
		q   string
		arg string
	)
	switch {
	case t.GUID != nil && *t.GUID != "":
		q, arg = `SELECT id FROM tracks WHERE feed_id = ? AND guid = ?;`, *t.GUID
	case t.AudioURL != "":
		q, arg = `SELECT id FROM tracks WHERE feed_id = ? AND guid IS NULL AND audio_url = ? LIMIT 1;`, t.AudioURL
	default:
		return "", nil
	}

	var id string
	err := tx.GetContext(ctx, &id, q, t.FeedID, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("error looking up existing track: %w", err)
	}
	return id, nil
}
