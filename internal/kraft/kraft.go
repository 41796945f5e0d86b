// Package kraft holds the catalog's domain types and the storage surfaces the
// ingestion pipeline depends on.
package kraft

import (
	"context"
	"time"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
)

type FeedStatus string

const (
	FeedStatusActive      FeedStatus = "active"
	FeedStatusError       FeedStatus = "error"
	FeedStatusSidebarOnly FeedStatus = "sidebar-only"
)

func (s FeedStatus) Valid() bool {
	switch s {
	case FeedStatusActive, FeedStatusError, FeedStatusSidebarOnly:
		return true
	}
	return false
}

type (
	// Feed is a publisher's catalog, either fetched directly or created from
	// index metadata while resolving a remote item.
	Feed struct {
		ID            string     `db:"id"`
		GUID          string     `db:"guid"`
		OriginalURL   string     `db:"original_url"`
		Title         string     `db:"title"`
		Artist        string     `db:"artist"`
		Description   string     `db:"description"`
		ImageURL      string     `db:"image_url"`
		Medium        string     `db:"medium"`
		Status        FeedStatus `db:"status"`
		LastError     string     `db:"last_error"`
		PublisherGUID string     `db:"publisher_guid"`
		PublisherURL  string     `db:"publisher_url"`
		LastFetchedAt *time.Time `db:"last_fetched_at"`
		CreatedAt     time.Time  `db:"created_at"`
		UpdatedAt     time.Time  `db:"updated_at"`
	}

	// Holds the optional fields for updating a feed.
	UpdateFeedArgs struct {
		GUID          string
		Title         string
		Artist        string
		Description   string
		ImageURL      string
		Medium        string
		Status        FeedStatus
		LastError     *string
		PublisherGUID string
		PublisherURL  string
		LastFetched   time.Time
	}

	// Track is one playable item. A track without an audio URL is a
	// placeholder and never counts as playable.
	Track struct {
		ID           string     `db:"id" json:"id"`
		FeedID       string     `db:"feed_id" json:"feedId"`
		GUID         *string    `db:"guid" json:"guid"`
		Title        string     `db:"title" json:"title"`
		Artist       string     `db:"artist" json:"artist"`
		AudioURL     string     `db:"audio_url" json:"audioUrl"`
		Duration     int        `db:"duration" json:"duration"`
		ImageURL     string     `db:"image_url" json:"imageUrl,omitempty"`
		PublishedAt  *time.Time `db:"published_at" json:"publishedAt,omitempty"`
		V4V          *v4v.Value `db:"-" json:"v4vValue,omitempty"`
		V4VRecipient string     `db:"v4v_recipient" json:"v4vRecipient,omitempty"`
		CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	}

	// RemoteItemRef points at an item living in another feed. Position is the
	// zero-based declaration order within the playlist feed.
	RemoteItemRef struct {
		FeedGUID string `json:"feedGuid"`
		ItemGUID string `json:"itemGuid"`
		FeedURL  string `json:"feedUrl,omitempty"`
		Medium   string `json:"medium,omitempty"`
		Position int    `json:"position"`
		// Index of the enclosing episode marker, -1 when none precedes it.
		Episode int `json:"episode"`
	}

	// ResolutionRecord is the outcome of the last attempt to resolve a remote item.
	ResolutionRecord struct {
		FeedGUID    string           `db:"feed_guid"`
		ItemGUID    string           `db:"item_guid"`
		Status      ResolutionStatus `db:"status"`
		TrackID     string           `db:"track_id"`
		Reason      string           `db:"reason"`
		Attempts    int              `db:"attempts"`
		AttemptedAt time.Time        `db:"attempted_at"`
	}

	// Playlist is a feed whose channel is an ordered list of remote items.
	Playlist struct {
		ID          string    `db:"id"`
		FeedID      string    `db:"feed_id"`
		Title       string    `db:"title"`
		Description string    `db:"description"`
		ImageURL    string    `db:"image_url"`
		SourceURL   string    `db:"source_url"`
		ItemCount   int       `db:"item_count"`
		CreatedAt   time.Time `db:"created_at"`
		UpdatedAt   time.Time `db:"updated_at"`
	}

	PlaylistItem struct {
		PlaylistID   string `db:"playlist_id"`
		Position     int    `db:"position"`
		FeedGUID     string `db:"feed_guid"`
		ItemGUID     string `db:"item_guid"`
		EpisodeIndex int    `db:"episode_index"`
		EpisodeTitle string `db:"episode_title"`
	}

	// Favorite is a user's saved track, keyed by whatever track ID was
	// current when it was saved.
	Favorite struct {
		ID        string    `db:"id"`
		SessionID string    `db:"session_id"`
		TrackID   string    `db:"track_id"`
		Title     string    `db:"title"`
		Artist    string    `db:"artist"`
		CreatedAt time.Time `db:"created_at"`
	}

	// TrackSummary is the slice of a track the deduplicator ranks on.
	TrackSummary struct {
		ID         string     `db:"id"`
		Title      string     `db:"title"`
		Artist     string     `db:"artist"`
		AudioURL   string     `db:"audio_url"`
		HasV4V     bool       `db:"has_v4v"`
		FeedStatus FeedStatus `db:"feed_status"`
		CreatedAt  time.Time  `db:"created_at"`
	}

	// Dependents counts the rows that still point at a track.
	Dependents struct {
		PlaylistTracks int `db:"playlist_tracks" json:"playlistTracks"`
		Favorites      int `db:"favorites" json:"favorites"`
		SocialPosts    int `db:"social_posts" json:"socialPosts"`
		BoostEvents    int `db:"boost_events" json:"boostEvents"`
	}
)

// Playable reports whether the track can be surfaced to a player.
func (t Track) Playable() bool {
	return t.AudioURL != ""
}

// HasV4V reports whether the track has anyone to pay.
func (t Track) HasV4V() bool {
	return v4v.HasV4V(t.V4V, t.V4VRecipient)
}

// GUIDString returns the item guid or "" when the track has none.
func (t Track) GUIDString() string {
	if t.GUID == nil {
		return ""
	}
	return *t.GUID
}

func (d Dependents) Total() int {
	return d.PlaylistTracks + d.Favorites + d.SocialPosts + d.BoostEvents
}

type ResolutionStatus string

const (
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionNotFound ResolutionStatus = "not_found"
	ResolutionError    ResolutionStatus = "error"
)

type (
	FeedRepo interface {
		Feed(ctx context.Context, id string) (Feed, error)
		FeedByGUID(ctx context.Context, guid string) (Feed, error)
		FeedByURL(ctx context.Context, url string) (Feed, error)
		InsertFeed(ctx context.Context, feed Feed) (Feed, error)
		UpdateFeed(ctx context.Context, id string, args UpdateFeedArgs) error
		AllFeeds(ctx context.Context) ([]Feed, error)
	}

	TrackRepo interface {
		Track(ctx context.Context, id string) (Track, error)
		TrackByFeedAndGUID(ctx context.Context, feedID, guid string) (Track, error)
		TrackByGUID(ctx context.Context, guid string) (Track, error)
		TrackByAudioURL(ctx context.Context, audioURL string) (Track, error)
		InsertTrack(ctx context.Context, track Track) (Track, error)
		// UpsertTracks inserts new tracks and backfills V4V fields on existing
		// ones. Returns the number of newly inserted rows.
		UpsertTracks(ctx context.Context, tracks []Track) (int, error)
	}

	ResolutionRepo interface {
		Resolution(ctx context.Context, feedGUID, itemGUID string) (ResolutionRecord, error)
		RecordResolution(ctx context.Context, rec ResolutionRecord) error
	}

	PlaylistRepo interface {
		Playlist(ctx context.Context, id string) (Playlist, error)
		Playlists(ctx context.Context) ([]Playlist, error)
		PlaylistByFeed(ctx context.Context, feedID string) (Playlist, error)
		PlaylistItems(ctx context.Context, playlistID string) ([]PlaylistItem, error)
		// UpsertPlaylist stores the playlist and replaces its items. Reports
		// whether the item list changed.
		UpsertPlaylist(ctx context.Context, p Playlist, items []PlaylistItem) (Playlist, bool, error)
		ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
	}

	// CatalogRepo is what deduplication needs: a view over every track plus
	// the rows that point at them.
	CatalogRepo interface {
		TrackSummaries(ctx context.Context) ([]TrackSummary, error)
		Dependents(ctx context.Context, trackID string) (Dependents, error)
		// MergeTrack re-points every dependent row from one track to another
		// and deletes the first, atomically.
		MergeTrack(ctx context.Context, fromID, intoID string) error
		Favorites(ctx context.Context, sessionID string) ([]Favorite, error)
		UpdateFavoriteTrack(ctx context.Context, favoriteID, trackID string) error
		DeleteFavorite(ctx context.Context, favoriteID string) error
	}

	// Repository is everything the sqlite store provides.
	Repository interface {
		FeedRepo
		TrackRepo
		ResolutionRepo
		PlaylistRepo
		CatalogRepo
	}
)
