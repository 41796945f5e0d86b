// Package dedup collapses tracks that are the same recording imported more
// than once.
package dedup

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/samber/lo"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/metrics"
)

// KeyFunc maps a track to its identity. Tracks with an empty key are never
// grouped.
type KeyFunc func(kraft.TrackSummary) string

// CatalogKey is the catalog-wide identity: exact audio url and title.
// Placeholders without audio are left alone.
func CatalogKey(t kraft.TrackSummary) string {
	if t.AudioURL == "" {
		return ""
	}
	return t.AudioURL + "|" + t.Title
}

// FavoriteKey is the looser identity used when matching a user's saved
// tracks: trimmed, lower-cased title and artist. Two different songs with the
// same title by same-named artists will collide.
func FavoriteKey(title, artist string) string {
	title = strings.ToLower(strings.TrimSpace(title))
	artist = strings.ToLower(strings.TrimSpace(artist))
	if title == "" {
		return ""
	}
	return title + "|" + artist
}

func trackFavoriteKey(t kraft.TrackSummary) string {
	return FavoriteKey(t.Title, t.Artist)
}

// Group is a set of duplicates and the one that survives.
type Group struct {
	Key    string
	Keep   kraft.TrackSummary
	Remove []kraft.TrackSummary
}

// Plan groups candidates by key and picks a survivor for every group with
// more than one member. Groups come back sorted by key.
func Plan(candidates []kraft.TrackSummary, key KeyFunc) []Group {
	byKey := lo.GroupBy(candidates, func(t kraft.TrackSummary) string { return key(t) })

	keys := lo.Filter(lo.Keys(byKey), func(k string, _ int) bool {
		return k != "" && len(byKey[k]) > 1
	})
	slices.Sort(keys)

	groups := make([]Group, 0, len(keys))
	for _, k := range keys {
		members := slices.Clone(byKey[k])
		slices.SortFunc(members, compareKeep)
		groups = append(groups, Group{Key: k, Keep: members[0], Remove: members[1:]})
	}

	return groups
}

// compareKeep orders tracks best-first: one with payment data, then one whose
// feed is active, then the oldest. IDs break exact ties.
func compareKeep(a, b kraft.TrackSummary) int {
	if a.HasV4V != b.HasV4V {
		if a.HasV4V {
			return -1
		}
		return 1
	}

	aActive, bActive := a.FeedStatus == kraft.FeedStatusActive, b.FeedStatus == kraft.FeedStatusActive
	if aActive != bActive {
		if aActive {
			return -1
		}
		return 1
	}

	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

type (
	Options struct {
		// DryRun only reports what would happen.
		DryRun bool
		// Repoint moves dependent rows onto the surviving track. Without it,
		// any referenced duplicate blocks the run.
		Repoint bool
	}

	// Removal is one duplicate slated for deletion and what still points at it.
	Removal struct {
		Track      kraft.TrackSummary `json:"track"`
		KeepID     string             `json:"keepId"`
		Dependents kraft.Dependents   `json:"dependents"`
	}

	Report struct {
		DryRun     bool             `json:"dryRun"`
		Groups     []Group          `json:"-"`
		Removals   []Removal        `json:"removals"`
		Dependents kraft.Dependents `json:"dependents"`
		Removed    int              `json:"removed"`
	}
)

// ReferentialIntegrityError blocks a run whose duplicates are still
// referenced and that wasn't allowed to re-point them.
type ReferentialIntegrityError struct {
	Blocked []Removal
}

func (e *ReferentialIntegrityError) Error() string {
	var refs int
	for _, b := range e.Blocked {
		refs += b.Dependents.Total()
	}
	return fmt.Sprintf("%d duplicate tracks are still referenced by %d rows", len(e.Blocked), refs)
}

type Deduplicator struct {
	repo kraft.CatalogRepo
}

func New(repo kraft.CatalogRepo) *Deduplicator {
	return &Deduplicator{repo: repo}
}

// Run deduplicates the whole catalog. Every dependent reference is counted
// before anything is touched; the report is returned even when the run is
// blocked or fails partway.
func (d *Deduplicator) Run(ctx context.Context, opts Options) (Report, error) {
	sums, err := d.repo.TrackSummaries(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("error listing tracks: %w", err)
	}

	report := Report{DryRun: opts.DryRun, Groups: Plan(sums, CatalogKey)}
	for _, g := range report.Groups {
		for _, t := range g.Remove {
			deps, err := d.repo.Dependents(ctx, t.ID)
			if err != nil {
				return report, fmt.Errorf("error counting dependents of %s: %w", t.ID, err)
			}

			report.Removals = append(report.Removals, Removal{Track: t, KeepID: g.Keep.ID, Dependents: deps})
			report.Dependents.PlaylistTracks += deps.PlaylistTracks
			report.Dependents.Favorites += deps.Favorites
			report.Dependents.SocialPosts += deps.SocialPosts
			report.Dependents.BoostEvents += deps.BoostEvents
		}
	}

	slog.InfoContext(ctx, "dedup plan",
		"groups", len(report.Groups),
		"removals", len(report.Removals),
		"dependents", report.Dependents.Total(),
		"dry_run", opts.DryRun,
	)
	if opts.DryRun {
		return report, nil
	}

	if !opts.Repoint {
		blocked := lo.Filter(report.Removals, func(r Removal, _ int) bool { return r.Dependents.Total() > 0 })
		if len(blocked) > 0 {
			return report, &ReferentialIntegrityError{Blocked: blocked}
		}
	}

	for _, r := range report.Removals {
		if err := d.repo.MergeTrack(ctx, r.Track.ID, r.KeepID); err != nil {
			return report, fmt.Errorf("error merging %s into %s: %w", r.Track.ID, r.KeepID, err)
		}
		report.Removed++
		metrics.DedupRemovals.Inc()
	}

	return report, nil
}

// FavoriteAction is one change to a user's favorites.
type FavoriteAction struct {
	FavoriteID  string `json:"favoriteId"`
	Key         string `json:"key"`
	Action      string `json:"action"`
	FromTrackID string `json:"fromTrackId"`
	ToTrackID   string `json:"toTrackId,omitempty"`
}

const (
	ActionRepoint = "repoint"
	ActionDelete  = "delete"
)

// MatchFavorites points a session's favorites at the canonical catalog track
// for their title and artist, and drops favorites that duplicate an older one.
func (d *Deduplicator) MatchFavorites(ctx context.Context, sessionID string, dryRun bool) ([]FavoriteAction, error) {
	sums, err := d.repo.TrackSummaries(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing tracks: %w", err)
	}
	favs, err := d.repo.Favorites(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error listing favorites: %w", err)
	}

	byID := lo.KeyBy(sums, func(t kraft.TrackSummary) string { return t.ID })
	canonical := map[string]kraft.TrackSummary{}
	for key, members := range lo.GroupBy(sums, trackFavoriteKey) {
		if key == "" {
			continue
		}
		canonical[key] = slices.MinFunc(members, compareKeep)
	}

	var (
		actions []FavoriteAction
		kept    = map[string]bool{}
	)
	for _, fav := range favs {
		key := FavoriteKey(fav.Title, fav.Artist)
		if key == "" {
			// Older favorites didn't copy the title; use the track's.
			key = trackFavoriteKey(byID[fav.TrackID])
		}
		if key == "" {
			continue
		}

		if kept[key] {
			actions = append(actions, FavoriteAction{FavoriteID: fav.ID, Key: key, Action: ActionDelete, FromTrackID: fav.TrackID})
			continue
		}
		kept[key] = true

		if canon, ok := canonical[key]; ok && canon.ID != fav.TrackID {
			actions = append(actions, FavoriteAction{FavoriteID: fav.ID, Key: key, Action: ActionRepoint, FromTrackID: fav.TrackID, ToTrackID: canon.ID})
		}
	}

	if dryRun {
		return actions, nil
	}

	for _, a := range actions {
		var err error
		switch a.Action {
		case ActionRepoint:
			err = d.repo.UpdateFavoriteTrack(ctx, a.FavoriteID, a.ToTrackID)
		case ActionDelete:
			err = d.repo.DeleteFavorite(ctx, a.FavoriteID)
		}
		if err != nil {
			return actions, fmt.Errorf("error applying favorite %s of %s: %w", a.Action, a.FavoriteID, err)
		}
	}

	return actions, nil
}
