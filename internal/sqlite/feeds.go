package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

const (
	feedNamespace = "-fd"

	// guid and original_url are nullable so that the unique constraints only
	// apply to feeds that actually have one.
	feedColumns = `id, COALESCE(guid, '') AS guid, COALESCE(original_url, '') AS original_url,
	title, artist, description, image_url, medium, status, last_error,
	publisher_guid, publisher_url, last_fetched_at, created_at, updated_at`
)

func (r Repo) Feed(ctx context.Context, id string) (kraft.Feed, error) {
	return r.feedWhere(ctx, "id = ?", id)
}

func (r Repo) FeedByGUID(ctx context.Context, guid string) (kraft.Feed, error) {
	if guid == "" {
		return kraft.Feed{}, kraft.ErrNotFound
	}
	return r.feedWhere(ctx, "guid = ?", guid)
}

func (r Repo) FeedByURL(ctx context.Context, url string) (kraft.Feed, error) {
	if url == "" {
		return kraft.Feed{}, kraft.ErrNotFound
	}
	return r.feedWhere(ctx, "original_url = ?", url)
}

func (r Repo) feedWhere(ctx context.Context, where string, arg any) (kraft.Feed, error) {
	q := `SELECT ` + feedColumns + ` FROM feeds WHERE ` + where + `;`

	var feed kraft.Feed
	err := r.db.GetContext(ctx, &feed, q, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return kraft.Feed{}, kraft.ErrNotFound
	}
	if err != nil {
		return kraft.Feed{}, fmt.Errorf("error fetching feed: %w", err)
	}

	return feed, nil
}

// InsertFeed creates a feed. A guid or url that already exists is
// kraft.ErrConflict.
func (r Repo) InsertFeed(ctx context.Context, feed kraft.Feed) (kraft.Feed, error) {
	const q = `INSERT INTO feeds (
		id, guid, original_url, title, artist, description, image_url, medium,
		status, last_error, publisher_guid, publisher_url, last_fetched_at, created_at, updated_at
	) VALUES (
		:id, NULLIF(:guid, ''), NULLIF(:original_url, ''), :title, :artist, :description, :image_url, :medium,
		:status, :last_error, :publisher_guid, :publisher_url, :last_fetched_at, :created_at, :updated_at
	);`

	now := time.Now().UTC()
	feed.ID = uuid.NewString() + feedNamespace
	if feed.Status == "" {
		feed.Status = kraft.FeedStatusActive
	}
	if feed.CreatedAt.IsZero() {
		feed.CreatedAt = now
	}
	feed.UpdatedAt = now

	_, err := r.db.NamedExecContext(ctx, q, feed)
	if isConflict(err) {
		return kraft.Feed{}, fmt.Errorf("feed already exists: %w", kraft.ErrConflict)
	}
	if err != nil {
		return kraft.Feed{}, fmt.Errorf("error inserting feed: %w", err)
	}

	return r.Feed(ctx, feed.ID)
}

func (r Repo) UpdateFeed(ctx context.Context, id string, args kraft.UpdateFeedArgs) error {
	q := sq.Update("feeds").Set("updated_at", time.Now().UTC())
	if args.GUID != "" {
		q = q.Set("guid", args.GUID)
	}
	if args.Title != "" {
		q = q.Set("title", args.Title)
	}
	if args.Artist != "" {
		q = q.Set("artist", args.Artist)
	}
	if args.Description != "" {
		q = q.Set("description", args.Description)
	}
	if args.ImageURL != "" {
		q = q.Set("image_url", args.ImageURL)
	}
	if args.Medium != "" {
		q = q.Set("medium", args.Medium)
	}
	if args.Status != "" {
		q = q.Set("status", args.Status)
	}
	if args.LastError != nil {
		q = q.Set("last_error", *args.LastError)
	}
	if args.PublisherGUID != "" {
		q = q.Set("publisher_guid", args.PublisherGUID)
	}
	if args.PublisherURL != "" {
		q = q.Set("publisher_url", args.PublisherURL)
	}
	if !args.LastFetched.IsZero() {
		q = q.Set("last_fetched_at", args.LastFetched)
	}
	q = q.Where(sq.Eq{"id": id})

	query, qArgs, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error constructing sql: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, qArgs...)
	if isConflict(err) {
		return fmt.Errorf("feed guid already taken: %w", kraft.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("error executing feed update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return kraft.ErrNotFound
	}

	return nil
}

// AllFeeds retrieves _all_ feeds from the database.
func (r Repo) AllFeeds(ctx context.Context) ([]kraft.Feed, error) {
	const q = "SELECT " + feedColumns + " FROM feeds ORDER BY created_at, id;"

	var feeds []kraft.Feed
	if err := r.db.SelectContext(ctx, &feeds, q); err != nil {
		return nil, fmt.Errorf("error selecting all feeds: %w", err)
	}

	return feeds, nil
}
