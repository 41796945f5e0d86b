package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/ingest"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
)

type (
	Syncer interface {
		SyncFeed(ctx context.Context, feedID string) (ingest.Result, error)
	}

	Store interface {
		AllFeeds(ctx context.Context) ([]kraft.Feed, error)
		Playlists(ctx context.Context) ([]kraft.Playlist, error)
	}

	Builder interface {
		Build(ctx context.Context, id string) (playlist.Playlist, error)
	}
)

type activities struct {
	ingest    Syncer
	store     Store
	playlists Builder
}

// Instance to make the workflow a bit more readable
var acts = activities{}

// IDs of every feed that can be fetched.
func (a activities) AllFeeds(ctx context.Context) ([]string, error) {
	feeds, err := a.store.AllFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing feeds: %w", err)
	}

	ids := make([]string, 0, len(feeds))
	for _, f := range feeds {
		if f.OriginalURL != "" {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}

func (a activities) AllPlaylists(ctx context.Context) ([]string, error) {
	pls, err := a.store.Playlists(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing playlists: %w", err)
	}

	ids := make([]string, len(pls))
	for i, p := range pls {
		ids[i] = p.ID
	}
	return ids, nil
}

// Goes to the url and refreshes the feed's tracks.
//
// Failures that another attempt can't fix come back non-retryable, carrying
// the structured error for whoever started the workflow.
func (a activities) SyncFeed(ctx context.Context, feedID string) (ingest.Result, error) {
	res, err := a.ingest.SyncFeed(ctx, feedID)
	if err == nil {
		return res, nil
	}

	var (
		pe *kraft.ParseError
		te *kraft.TransportError
	)
	switch {
	case errors.Is(err, ingest.ErrNoURL), errors.Is(err, kraft.ErrNotFound), errors.As(err, &pe):
		return res, nonRetryable(err)
	case errors.As(err, &te) && !te.Retryable():
		return res, nonRetryable(err)
	}

	return res, err
}

func nonRetryable(err error) error {
	sErr := krafterrs.FromDomain(err)
	if errors.Is(err, ingest.ErrNoURL) {
		sErr = krafterrs.E(http.StatusBadRequest, err)
	}
	return temporal.NewNonRetryableApplicationError("error syncing feed", errTypeFeed, err, sErr)
}

// PlaylistSummary is what a resolution run reports back.
type PlaylistSummary struct {
	ID       string `json:"id"`
	Total    int    `json:"total"`
	Resolved int    `json:"resolved"`
}

func (a activities) ResolvePlaylist(ctx context.Context, playlistID string) (PlaylistSummary, error) {
	p, err := a.playlists.Build(ctx, playlistID)
	if errors.Is(err, kraft.ErrNotFound) {
		return PlaylistSummary{}, temporal.NewNonRetryableApplicationError("unknown playlist", errTypePlaylist, err, krafterrs.FromDomain(err))
	}
	if err != nil {
		return PlaylistSummary{}, err
	}

	activity.GetLogger(ctx).Info("resolved playlist", "playlist_id", p.ID, "total", p.TotalTracks, "resolved", p.ResolvedTracks)
	return PlaylistSummary{ID: p.ID, Total: p.TotalTracks, Resolved: p.ResolvedTracks}, nil
}
