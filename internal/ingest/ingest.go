// Package ingest keeps stored feeds in step with their sources: fetch, parse,
// normalize and persist.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/feed"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
	"github.com/ChadFarrow/stablekraft-app-sub011/logger"
)

// ErrNoURL is returned for feeds that were created from index metadata and
// have nothing to fetch.
var ErrNoURL = errors.New("feed has no url to sync from")

type (
	Fetcher interface {
		Fetch(ctx context.Context, url string) ([]byte, error)
	}

	Store interface {
		kraft.FeedRepo
		kraft.TrackRepo
		kraft.PlaylistRepo
	}

	// Invalidator drops a playlist's cached payload.
	Invalidator interface {
		Invalidate(ctx context.Context, playlistID string) error
	}
)

type Config struct {
	// Concurrency bounds how many feeds SyncAll works on at once.
	Concurrency int
}

type Service struct {
	store   Store
	fetcher Fetcher
	cache   Invalidator
	cfg     Config

	now func() time.Time
}

func New(store Store, fetcher Fetcher, cache Invalidator, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	return &Service{
		store:   store,
		fetcher: fetcher,
		cache:   cache,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Result is the outcome of syncing one feed.
type Result struct {
	FeedID          string           `json:"feedId"`
	Title           string           `json:"title,omitempty"`
	Status          kraft.FeedStatus `json:"status"`
	Items           int              `json:"items"`
	NewTracks       int              `json:"newTracks"`
	PlaylistID      string           `json:"playlistId,omitempty"`
	PlaylistChanged bool             `json:"playlistChanged,omitempty"`
	Error           string           `json:"error,omitempty"`
}

// AddFeed registers a feed by url and syncs it. A url that's already known
// syncs the existing feed.
func (s *Service) AddFeed(ctx context.Context, url string) (Result, error) {
	f, err := s.store.InsertFeed(ctx, kraft.Feed{OriginalURL: url, Status: kraft.FeedStatusActive})
	if errors.Is(err, kraft.ErrConflict) {
		f, err = s.store.FeedByURL(ctx, url)
		if err != nil {
			return Result{}, fmt.Errorf("error fetching conflicting feed: %w", err)
		}
	}
	if err != nil {
		return Result{}, fmt.Errorf("error inserting feed: %w", err)
	}

	return s.SyncFeed(ctx, f.ID)
}

// SyncFeed refreshes one feed from its url. Failures are recorded on the feed
// as well as returned; the feed is never removed.
func (s *Service) SyncFeed(ctx context.Context, feedID string) (Result, error) {
	ctx = logger.Ctx(ctx, logger.Feed(feedID))

	f, err := s.store.Feed(ctx, feedID)
	if err != nil {
		return Result{}, fmt.Errorf("error getting feed: %w", err)
	}
	if f.OriginalURL == "" {
		return Result{FeedID: f.ID, Title: f.Title, Status: f.Status}, ErrNoURL
	}

	data, err := s.fetcher.Fetch(ctx, f.OriginalURL)
	if err != nil {
		return s.fail(ctx, f, "transport_error", err)
	}

	parsed, err := feed.Parse(data)
	if err != nil {
		var pe *kraft.ParseError
		if errors.As(err, &pe) && pe.URL == "" {
			pe.URL = f.OriginalURL
		}
		return s.fail(ctx, f, "parse_error", err)
	}

	res, err := s.apply(ctx, f, parsed)
	if err != nil {
		return s.fail(ctx, f, "error", err)
	}

	metrics.FeedSyncs.WithLabelValues("ok").Inc()
	slog.InfoContext(ctx, "feed synced",
		"items", res.Items,
		"new_tracks", res.NewTracks,
		"playlist_changed", res.PlaylistChanged,
	)
	return res, nil
}

func (s *Service) fail(ctx context.Context, f kraft.Feed, outcome string, cause error) (Result, error) {
	metrics.FeedSyncs.WithLabelValues(outcome).Inc()

	msg := cause.Error()
	if err := s.store.UpdateFeed(ctx, f.ID, kraft.UpdateFeedArgs{
		Status:      kraft.FeedStatusError,
		LastError:   &msg,
		LastFetched: s.now().UTC(),
	}); err != nil {
		slog.ErrorContext(ctx, "error marking feed as failed", "error", err)
	}

	return Result{FeedID: f.ID, Title: f.Title, Status: kraft.FeedStatusError, Error: msg}, cause
}

func (s *Service) apply(ctx context.Context, f kraft.Feed, parsed *feed.Parsed) (Result, error) {
	ch := parsed.Channel

	status := kraft.FeedStatusActive
	if f.Status == kraft.FeedStatusSidebarOnly {
		status = f.Status
	}
	noError := ""
	args := kraft.UpdateFeedArgs{
		GUID:        ch.GUID,
		Title:       ch.Title,
		Artist:      ch.Author,
		Description: ch.Description,
		ImageURL:    ch.ImageURL,
		Medium:      ch.Medium,
		Status:      status,
		LastError:   &noError,
		LastFetched: s.now().UTC(),
	}
	if ch.Publisher != nil {
		args.PublisherGUID = ch.Publisher.FeedGUID
		args.PublisherURL = ch.Publisher.FeedURL
	}

	err := s.store.UpdateFeed(ctx, f.ID, args)
	if errors.Is(err, kraft.ErrConflict) {
		// Another row already owns the guid, usually one created from the
		// index before anyone added this url.
		slog.WarnContext(ctx, "feed guid already claimed", "guid", ch.GUID)
		args.GUID = ""
		err = s.store.UpdateFeed(ctx, f.ID, args)
	}
	if err != nil {
		return Result{}, fmt.Errorf("error updating feed: %w", err)
	}

	res := Result{
		FeedID: f.ID,
		Title:  ch.Title,
		Status: status,
		Items:  len(parsed.Items),
	}

	tracks := make([]kraft.Track, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it.GUID == "" && it.AudioURL == "" {
			continue
		}
		tracks = append(tracks, trackFromItem(f.ID, ch, it))
	}
	res.NewTracks, err = s.store.UpsertTracks(ctx, tracks)
	if err != nil {
		return Result{}, fmt.Errorf("error upserting tracks: %w", err)
	}

	if !parsed.IsPlaylist() {
		return res, nil
	}

	p, changed, err := s.store.UpsertPlaylist(ctx, kraft.Playlist{
		FeedID:      f.ID,
		Title:       ch.Title,
		Description: ch.Description,
		ImageURL:    ch.ImageURL,
		SourceURL:   f.OriginalURL,
	}, playlist.SourceItems(ch))
	if err != nil {
		return Result{}, fmt.Errorf("error upserting playlist: %w", err)
	}
	res.PlaylistID = p.ID
	res.PlaylistChanged = changed

	if changed && s.cache != nil {
		if err := s.cache.Invalidate(ctx, p.ID); err != nil {
			slog.WarnContext(ctx, "error invalidating playlist cache", logger.Playlist(p.ID), "error", err)
		}
	}

	return res, nil
}

func trackFromItem(feedID string, ch feed.Channel, it feed.Item) kraft.Track {
	var val *v4v.Value
	if it.Value != nil {
		val = v4v.Normalize(*it.Value)
	}
	var scalar string
	if p, ok := val.Primary(); ok {
		scalar = p.Address
	}

	var guid *string
	if it.GUID != "" {
		g := it.GUID
		guid = &g
	}

	artist := it.Author
	if artist == "" {
		artist = ch.Author
	}

	return kraft.Track{
		FeedID:       feedID,
		GUID:         guid,
		Title:        it.Title,
		Artist:       artist,
		AudioURL:     it.AudioURL,
		Duration:     it.Duration,
		ImageURL:     it.ImageURL,
		PublishedAt:  it.PublishedAt,
		V4V:          val,
		V4VRecipient: scalar,
	}
}

// Report collects the results of a SyncAll run.
type Report struct {
	Results []Result `json:"results"`
	OK      int      `json:"ok"`
	Failed  int      `json:"failed"`
	Skipped int      `json:"skipped"`
}

// SyncAll syncs every feed with a url, several at a time. One feed's failure
// never stops the others; it shows up in the report.
func (s *Service) SyncAll(ctx context.Context) (Report, error) {
	feeds, err := s.store.AllFeeds(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("error listing feeds: %w", err)
	}

	results := make([]Result, len(feeds))
	skipped := make([]bool, len(feeds))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, f := range feeds {
		if f.OriginalURL == "" {
			skipped[i] = true
			continue
		}

		g.Go(func() error {
			res, err := s.SyncFeed(ctx, f.ID)
			if err != nil && res.FeedID == "" {
				res = Result{FeedID: f.ID, Title: f.Title, Status: kraft.FeedStatusError, Error: err.Error()}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	var report Report
	for i, res := range results {
		switch {
		case skipped[i]:
			report.Skipped++
			continue
		case res.Error != "":
			report.Failed++
		default:
			report.OK++
		}
		report.Results = append(report.Results, res)
	}

	slog.InfoContext(ctx, "synced all feeds", "ok", report.OK, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}
