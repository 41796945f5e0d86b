// Package resolve turns remote item references into local tracks, creating
// the owning feed and track from the external index when they aren't known.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/index"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
	"github.com/ChadFarrow/stablekraft-app-sub011/logger"
)

type (
	Index interface {
		LookupFeedByGUID(ctx context.Context, feedGUID string) (index.FeedMetadata, error)
		LookupEpisode(ctx context.Context, feedGUID, itemGUID string) (index.EpisodeMetadata, error)
	}

	Store interface {
		kraft.FeedRepo
		kraft.TrackRepo
		kraft.ResolutionRepo
	}
)

type Config struct {
	// Delay is the minimum spacing between requests to the index, shared by
	// everything using this Resolver.
	Delay time.Duration
	// Concurrency bounds how many references of a batch are in flight.
	Concurrency int
	// ItemTimeout bounds one reference's resolution within a batch.
	ItemTimeout time.Duration
	// RetryAfter is how long a not_found outcome is trusted before the index
	// is asked again.
	RetryAfter time.Duration
}

// Options alter a single call.
type Options struct {
	// Force ignores recent not_found records.
	Force bool
}

type Resolver struct {
	store   Store
	index   Index
	cfg     Config
	limiter *rate.Limiter
	flights singleflight.Group

	now func() time.Time
}

func New(store Store, idx Index, cfg Config) *Resolver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = 15 * time.Second
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = 24 * time.Hour
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}

	return &Resolver{
		store:   store,
		index:   idx,
		cfg:     cfg,
		limiter: limiter,
		now:     time.Now,
	}
}

// Resolve returns the local track for ref, materializing it from the index if
// needed. Items the index can't produce audio for come back wrapping
// kraft.ErrResolutionNotFound.
//
// Concurrent calls for the same pair share one resolution. The shared work
// runs detached from any one caller, bounded by ItemTimeout; a caller whose
// ctx ends stops waiting without cancelling it for the others.
func (r *Resolver) Resolve(ctx context.Context, ref kraft.RemoteItemRef, opts Options) (kraft.Track, error) {
	if ref.ItemGUID == "" {
		return kraft.Track{}, fmt.Errorf("remote item without an item guid: %w", kraft.ErrResolutionNotFound)
	}

	key := ref.FeedGUID + "\x00" + ref.ItemGUID
	ch := r.flights.DoChan(key, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ItemTimeout)
		defer cancel()
		return r.resolve(flightCtx, ref, opts)
	})

	select {
	case <-ctx.Done():
		return kraft.Track{}, fmt.Errorf("error waiting on resolution: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return kraft.Track{}, res.Err
		}
		return res.Val.(kraft.Track), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, ref kraft.RemoteItemRef, opts Options) (kraft.Track, error) {
	ctx = logger.Ctx(ctx, logger.RemoteItem(ref.FeedGUID, ref.ItemGUID))

	t, err := r.lookupLocal(ctx, ref)
	if err == nil {
		metrics.Resolutions.WithLabelValues("local").Inc()
		return t, nil
	}
	if !errors.Is(err, kraft.ErrNotFound) {
		return kraft.Track{}, err
	}

	if !opts.Force {
		rec, err := r.store.Resolution(ctx, ref.FeedGUID, ref.ItemGUID)
		if err == nil && rec.Status == kraft.ResolutionNotFound && r.now().Sub(rec.AttemptedAt) < r.cfg.RetryAfter {
			metrics.Resolutions.WithLabelValues("skipped").Inc()
			return kraft.Track{}, fmt.Errorf("not found as of %s: %w", rec.AttemptedAt.Format(time.RFC3339), kraft.ErrResolutionNotFound)
		}
	}

	t, err = r.resolveRemote(ctx, ref)
	r.record(ctx, ref, t, err)
	if err != nil {
		return kraft.Track{}, err
	}

	return t, nil
}

// lookupLocal checks the catalog by the exact pair, then by item guid in any
// feed.
func (r *Resolver) lookupLocal(ctx context.Context, ref kraft.RemoteItemRef) (kraft.Track, error) {
	if feed, err := r.store.FeedByGUID(ctx, ref.FeedGUID); err == nil {
		t, err := r.store.TrackByFeedAndGUID(ctx, feed.ID, ref.ItemGUID)
		if err == nil || !errors.Is(err, kraft.ErrNotFound) {
			return t, err
		}
	} else if !errors.Is(err, kraft.ErrNotFound) {
		return kraft.Track{}, err
	}

	return r.store.TrackByGUID(ctx, ref.ItemGUID)
}

func (r *Resolver) resolveRemote(ctx context.Context, ref kraft.RemoteItemRef) (kraft.Track, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return kraft.Track{}, fmt.Errorf("error waiting for index: %w", err)
	}
	ep, err := r.index.LookupEpisode(ctx, ref.FeedGUID, ref.ItemGUID)
	if err != nil {
		return kraft.Track{}, err
	}

	// Same recording already imported under another identity.
	if t, err := r.store.TrackByAudioURL(ctx, ep.AudioURL); err == nil {
		return t, nil
	}

	feed, feedValue, err := r.ensureFeed(ctx, ref, ep)
	if err != nil {
		return kraft.Track{}, err
	}

	// The episode's own block replaces the feed's.
	raw := ep.Value
	if raw == nil {
		raw = feedValue
	}
	var val *v4v.Value
	if raw != nil {
		val = v4v.Normalize(*raw)
	}
	var scalar string
	if p, ok := val.Primary(); ok {
		scalar = p.Address
	}

	guid := ref.ItemGUID
	t := kraft.Track{
		FeedID:       feed.ID,
		GUID:         &guid,
		Title:        ep.Title,
		Artist:       feed.Artist,
		AudioURL:     ep.AudioURL,
		Duration:     ep.Duration,
		ImageURL:     firstNonEmpty(ep.ImageURL, feed.ImageURL),
		PublishedAt:  ep.PublishedAt,
		V4V:          val,
		V4VRecipient: scalar,
	}

	created, err := r.store.InsertTrack(ctx, t)
	if errors.Is(err, kraft.ErrConflict) {
		// Someone else resolved it first; theirs is as good as ours.
		return r.store.TrackByFeedAndGUID(ctx, feed.ID, guid)
	}
	if err != nil {
		return kraft.Track{}, fmt.Errorf("error inserting resolved track: %w", err)
	}

	return created, nil
}

// ensureFeed finds or creates the owning feed. The index's feed value block
// is returned when it was fetched.
func (r *Resolver) ensureFeed(ctx context.Context, ref kraft.RemoteItemRef, ep index.EpisodeMetadata) (kraft.Feed, *v4v.Raw, error) {
	feed, err := r.store.FeedByGUID(ctx, ref.FeedGUID)
	if err == nil {
		return feed, nil, nil
	}
	if !errors.Is(err, kraft.ErrNotFound) {
		return kraft.Feed{}, nil, err
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return kraft.Feed{}, nil, fmt.Errorf("error waiting for index: %w", err)
	}
	md, err := r.index.LookupFeedByGUID(ctx, ref.FeedGUID)
	switch {
	case errors.Is(err, kraft.ErrResolutionNotFound):
		// The episode lookup succeeded, so the feed exists even if the index
		// can't describe it.
		md = index.FeedMetadata{GUID: ref.FeedGUID, Title: ep.FeedTitle, URL: ref.FeedURL}
	case err != nil:
		return kraft.Feed{}, nil, err
	}

	// Re-check right before inserting; a sibling may have created it while
	// we were waiting on the index.
	if feed, err := r.store.FeedByGUID(ctx, ref.FeedGUID); err == nil {
		return feed, md.Value, nil
	}

	feed, err = r.store.InsertFeed(ctx, kraft.Feed{
		GUID:        ref.FeedGUID,
		OriginalURL: firstNonEmpty(md.URL, ref.FeedURL),
		Title:       md.Title,
		Artist:      md.Author,
		Description: md.Description,
		ImageURL:    md.ImageURL,
		Medium:      md.Medium,
		Status:      kraft.FeedStatusActive,
	})
	if errors.Is(err, kraft.ErrConflict) {
		if feed, err := r.store.FeedByGUID(ctx, ref.FeedGUID); err == nil {
			return feed, md.Value, nil
		}
		// The url is already known under a feed that had no guid.
		feed, err := r.store.FeedByURL(ctx, firstNonEmpty(md.URL, ref.FeedURL))
		return feed, md.Value, err
	}
	if err != nil {
		return kraft.Feed{}, nil, fmt.Errorf("error inserting resolved feed: %w", err)
	}

	slog.InfoContext(ctx, "created feed from index", logger.Feed(feed.ID), "title", feed.Title)
	return feed, md.Value, nil
}

func (r *Resolver) record(ctx context.Context, ref kraft.RemoteItemRef, t kraft.Track, err error) {
	rec := kraft.ResolutionRecord{
		FeedGUID:    ref.FeedGUID,
		ItemGUID:    ref.ItemGUID,
		AttemptedAt: r.now().UTC(),
	}
	switch {
	case err == nil:
		rec.Status = kraft.ResolutionResolved
		rec.TrackID = t.ID
	case errors.Is(err, kraft.ErrResolutionNotFound):
		rec.Status = kraft.ResolutionNotFound
		rec.Reason = ReasonNotFound
	default:
		rec.Status = kraft.ResolutionError
		rec.Reason = err.Error()
	}
	metrics.Resolutions.WithLabelValues(string(rec.Status)).Inc()

	// The attempt may have died of its own deadline; the record still goes in.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.store.RecordResolution(recCtx, rec); err != nil {
		slog.ErrorContext(ctx, "error recording resolution", "error", err)
	}
}

const (
	ReasonNotFound = "not_found"
	ReasonTimeout  = "timeout"
	ReasonError    = "error"
)

type (
	// Result is the outcome for one reference of a batch.
	Result struct {
		Ref   kraft.RemoteItemRef
		Track kraft.Track
		// Empty when resolved.
		Reason string
		Err    error
	}

	// Failure is a reference that didn't resolve, for reports.
	Failure struct {
		Ref    kraft.RemoteItemRef `json:"ref"`
		Reason string              `json:"reason"`
		Detail string              `json:"detail,omitempty"`
	}

	// BatchResult holds one Result per input reference, in input order.
	BatchResult struct {
		Results  []Result
		Resolved int
		Failed   []Failure
	}
)

func (r Result) OK() bool { return r.Err == nil }

// Summary returns at most n failures, front of the batch first.
func (b BatchResult) Summary(n int) []Failure {
	if len(b.Failed) <= n {
		return b.Failed
	}
	return b.Failed[:n]
}

// ResolveBatch resolves refs with bounded concurrency. References are started
// in the order given so a partial run leaves the front of a list resolved,
// but results are placed by index, never by completion order. One failure
// never stops the others.
func (r *Resolver) ResolveBatch(ctx context.Context, refs []kraft.RemoteItemRef, opts Options) BatchResult {
	results := make([]Result, len(refs))

	var g errgroup.Group
	g.SetLimit(r.cfg.Concurrency)
	for i, ref := range refs {
		if ctx.Err() != nil {
			results[i] = failed(ref, ctx.Err())
			continue
		}

		g.Go(func() error {
			itemCtx, cancel := context.WithTimeout(ctx, r.cfg.ItemTimeout)
			defer cancel()

			t, err := r.Resolve(itemCtx, ref, opts)
			if err != nil {
				res := failed(ref, err)
				if res.Reason == ReasonError && errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
					res.Reason = ReasonTimeout
				}
				results[i] = res
				return nil
			}
			results[i] = Result{Ref: ref, Track: t}
			return nil
		})
	}
	_ = g.Wait()

	batch := BatchResult{Results: results}
	for _, res := range results {
		if res.OK() {
			batch.Resolved++
			continue
		}
		f := Failure{Ref: res.Ref, Reason: res.Reason}
		if res.Reason != ReasonNotFound {
			f.Detail = res.Err.Error()
		}
		batch.Failed = append(batch.Failed, f)
	}

	if len(batch.Failed) > 0 {
		slog.WarnContext(ctx, "batch resolution incomplete",
			"resolved", batch.Resolved,
			"failed", len(batch.Failed),
			"first_failures", batch.Summary(20),
		)
	}

	return batch
}

func failed(ref kraft.RemoteItemRef, err error) Result {
	reason := ReasonError
	switch {
	case errors.Is(err, kraft.ErrResolutionNotFound):
		reason = ReasonNotFound
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	}
	return Result{Ref: ref, Reason: reason, Err: err}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
