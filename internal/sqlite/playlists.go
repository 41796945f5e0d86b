package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

const (
	playlistNamespace = "-pl"

	playlistColumns = `id, feed_id, title, description, image_url, source_url, item_count, created_at, updated_at`
)

func (r Repo) Playlist(ctx context.Context, id string) (kraft.Playlist, error) {
	return r.playlistWhere(ctx, r.db, "id = ?", id)
}

func (r Repo) PlaylistByFeed(ctx context.Context, feedID string) (kraft.Playlist, error) {
	return r.playlistWhere(ctx, r.db, "feed_id = ?", feedID)
}

func (r Repo) playlistWhere(ctx context.Context, q sqlx.QueryerContext, where string, arg any) (kraft.Playlist, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlists WHERE ` + where + `;`

	var p kraft.Playlist
	err := sqlx.GetContext(ctx, q, &p, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return kraft.Playlist{}, kraft.ErrNotFound
	}
	if err != nil {
		return kraft.Playlist{}, fmt.Errorf("error fetching playlist: %w", err)
	}

	return p, nil
}

func (r Repo) Playlists(ctx context.Context) ([]kraft.Playlist, error) {
	const q = `SELECT ` + playlistColumns + ` FROM playlists ORDER BY created_at, id;`

	var ps []kraft.Playlist
	if err := r.db.SelectContext(ctx, &ps, q); err != nil {
		return nil, fmt.Errorf("error selecting playlists: %w", err)
	}

	return ps, nil
}

func (r Repo) PlaylistItems(ctx context.Context, playlistID string) ([]kraft.PlaylistItem, error) {
	return playlistItems(ctx, r.db, playlistID)
}

func playlistItems(ctx context.Context, q sqlx.QueryerContext, playlistID string) ([]kraft.PlaylistItem, error) {
	const query = `SELECT playlist_id, position, feed_guid, item_guid, episode_index, episode_title
	FROM playlist_items WHERE playlist_id = ? ORDER BY position;`

	var items []kraft.PlaylistItem
	if err := sqlx.SelectContext(ctx, q, &items, query, playlistID); err != nil {
		return nil, fmt.Errorf("error selecting playlist items: %w", err)
	}

	return items, nil
}

// UpsertPlaylist stores a playlist feed's metadata and its remote item list.
// The item list is only rewritten when it differs from what's stored.
func (r Repo) UpsertPlaylist(ctx context.Context, p kraft.Playlist, items []kraft.PlaylistItem) (kraft.Playlist, bool, error) {
	var (
		id      string
		changed bool
	)
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		p.ItemCount = len(items)
		p.UpdatedAt = now

		existing, err := r.playlistWhere(ctx, tx, "feed_id = ?", p.FeedID)
		switch {
		case errors.Is(err, kraft.ErrNotFound):
			p.ID = uuid.NewString() + playlistNamespace
			p.CreatedAt = now
			const q = `INSERT INTO playlists (` + playlistColumns + `)
			VALUES (:id, :feed_id, :title, :description, :image_url, :source_url, :item_count, :created_at, :updated_at);`
			if _, err := tx.NamedExecContext(ctx, q, p); err != nil {
				return fmt.Errorf("error inserting playlist: %w", err)
			}
			changed = true
		case err != nil:
			return err
		default:
			p.ID = existing.ID
			const q = `UPDATE playlists SET
				title = :title, description = :description, image_url = :image_url,
				source_url = :source_url, item_count = :item_count, updated_at = :updated_at
			WHERE id = :id;`
			if _, err := tx.NamedExecContext(ctx, q, p); err != nil {
				return fmt.Errorf("error updating playlist: %w", err)
			}
		}
		id = p.ID

		current, err := playlistItems(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		for i := range items {
			items[i].PlaylistID = p.ID
		}
		if slices.Equal(current, items) {
			return nil
		}
		changed = true

		if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_items WHERE playlist_id = ?;`, p.ID); err != nil {
			return fmt.Errorf("error clearing playlist items: %w", err)
		}
		if len(items) == 0 {
			return nil
		}
		const q = `INSERT INTO playlist_items (playlist_id, position, feed_guid, item_guid, episode_index, episode_title)
		VALUES (:playlist_id, :position, :feed_guid, :item_guid, :episode_index, :episode_title);`
		if _, err := tx.NamedExecContext(ctx, q, items); err != nil {
			return fmt.Errorf("error inserting playlist items: %w", err)
		}

		return nil
	})
	if err != nil {
		return kraft.Playlist{}, false, err
	}

	saved, err := r.Playlist(ctx, id)
	if err != nil {
		return kraft.Playlist{}, false, err
	}
	return saved, changed, nil
}

// ReplacePlaylistTracks records which tracks an assembly resolved to, in order.
func (r Repo) ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM playlist_tracks WHERE playlist_id = ?;`, playlistID); err != nil {
			return fmt.Errorf("error clearing playlist tracks: %w", err)
		}

		const q = `INSERT INTO playlist_tracks (playlist_id, position, track_id) VALUES (?, ?, ?);`
		for i, id := range trackIDs {
			if _, err := tx.ExecContext(ctx, q, playlistID, i, id); err != nil {
				return fmt.Errorf("error inserting playlist track: %w", err)
			}
		}

		return nil
	})
}
