// Package playlist assembles playlist feeds into ordered, cached payloads.
//
// A read never waits for a full assembly. The first read of a playlist gets a
// placeholder while the build runs in the background; later reads get the
// cached result, stale or not, and stale reads trigger a rebuild.
package playlist

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/feed"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/resolve"
	"github.com/ChadFarrow/stablekraft-app-sub011/logger"
)

type (
	// Playlist is the assembled payload.
	//
	// Tracks is the strict view: resolved and playable, in declared order.
	// Items is the raw view: every declared reference, including the ones
	// that failed or resolved to a placeholder.
	Playlist struct {
		ID          string    `json:"id"`
		Title       string    `json:"title"`
		Description string    `json:"description,omitempty"`
		ImageURL    string    `json:"imageUrl,omitempty"`
		Tracks      []Track   `json:"tracks"`
		Items       []Item    `json:"items,omitempty"`
		Episodes    []Episode `json:"episodes,omitempty"`
		// TotalTracks is the number of declared references. On a placeholder
		// it's the count stored at the last sync.
		TotalTracks int `json:"totalTracks"`
		// ResolvedTracks counts playable tracks only.
		ResolvedTracks int       `json:"resolvedTracks"`
		Placeholder    bool      `json:"placeholder,omitempty"`
		BuiltAt        time.Time `json:"builtAt,omitzero"`
	}

	Track struct {
		Position int    `json:"position"`
		Episode  int    `json:"episode"`
		FeedGUID string `json:"feedGuid"`
		ItemGUID string `json:"itemGuid"`
		kraft.Track
	}

	Item struct {
		Position int    `json:"position"`
		Episode  int    `json:"episode"`
		FeedGUID string `json:"feedGuid"`
		ItemGUID string `json:"itemGuid"`
		Status   string `json:"status"`
		Reason   string `json:"reason,omitempty"`
		Detail   string `json:"detail,omitempty"`
		TrackID  string `json:"trackId,omitempty"`
	}

	// Episode is a run of consecutive tracks under one marker. Tracks
	// declared before the first marker have Index -1.
	Episode struct {
		Index  int     `json:"index"`
		Title  string  `json:"title,omitempty"`
		Tracks []Track `json:"tracks"`
	}
)

const (
	ItemResolved    = "resolved"
	ItemPlaceholder = "placeholder"
	ItemFailed      = "failed"
)

// Placeholder is what a read returns before the first full assembly.
func Placeholder(p kraft.Playlist) Playlist {
	return Playlist{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Tracks:      []Track{},
		TotalTracks: max(p.ItemCount, 0),
		Placeholder: true,
	}
}

// SourceItems lists a parsed playlist feed's references as stored items,
// each labeled with the marker it falls under.
func SourceItems(ch feed.Channel) []kraft.PlaylistItem {
	titles := make(map[int]string, len(ch.Episodes))
	for _, m := range ch.Episodes {
		titles[m.Index] = m.Title
	}

	items := make([]kraft.PlaylistItem, len(ch.RemoteItems))
	for i, ref := range ch.RemoteItems {
		items[i] = kraft.PlaylistItem{
			Position:     ref.Position,
			FeedGUID:     ref.FeedGUID,
			ItemGUID:     ref.ItemGUID,
			EpisodeIndex: ref.Episode,
			EpisodeTitle: titles[ref.Episode],
		}
	}

	return items
}

type (
	Store interface {
		Playlist(ctx context.Context, id string) (kraft.Playlist, error)
		PlaylistItems(ctx context.Context, playlistID string) ([]kraft.PlaylistItem, error)
		ReplacePlaylistTracks(ctx context.Context, playlistID string, trackIDs []string) error
	}

	Resolver interface {
		ResolveBatch(ctx context.Context, refs []kraft.RemoteItemRef, opts resolve.Options) resolve.BatchResult
	}
)

type Config struct {
	TTL time.Duration
	// BuildTimeout bounds a background assembly.
	BuildTimeout time.Duration
}

type Assembler struct {
	store    Store
	resolver Resolver
	cache    Cache
	cfg      Config

	flights singleflight.Group
	mu      sync.Mutex
	pending map[string]bool
	wg      sync.WaitGroup

	now func() time.Time
}

func New(store Store, resolver Resolver, cache Cache, cfg Config) *Assembler {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = 5 * time.Minute
	}

	return &Assembler{
		store:    store,
		resolver: resolver,
		cache:    cache,
		cfg:      cfg,
		pending:  map[string]bool{},
		now:      time.Now,
	}
}

// Get returns the best payload available without waiting on resolution.
// Only an unknown playlist is an error.
func (a *Assembler) Get(ctx context.Context, id string) (Playlist, error) {
	ctx = logger.Ctx(ctx, logger.Playlist(id))

	entry, ok, err := a.cache.Get(ctx, CacheKey(id))
	if err != nil {
		slog.WarnContext(ctx, "error reading playlist cache", "error", err)
		ok = false
	}
	if ok {
		if entry.Fresh(a.now()) {
			metrics.PlaylistReads.WithLabelValues("fresh").Inc()
			return entry.Payload, nil
		}

		metrics.PlaylistReads.WithLabelValues("stale").Inc()
		a.refresh(ctx, id)
		return entry.Payload, nil
	}

	p, err := a.store.Playlist(ctx, id)
	if err != nil {
		return Playlist{}, fmt.Errorf("error getting playlist: %w", err)
	}

	metrics.PlaylistReads.WithLabelValues("placeholder").Inc()
	a.refresh(ctx, id)
	return Placeholder(p), nil
}

// refresh starts a background build unless one is already running for id.
func (a *Assembler) refresh(ctx context.Context, id string) {
	a.mu.Lock()
	if a.pending[id] {
		a.mu.Unlock()
		return
	}
	a.pending[id] = true
	a.mu.Unlock()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			a.mu.Lock()
			delete(a.pending, id)
			a.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.BuildTimeout)
		defer cancel()

		if _, err := a.Build(ctx, id); err != nil {
			slog.ErrorContext(ctx, "error building playlist", "error", err)
		}
	}()
}

// Wait blocks until every background build has finished.
func (a *Assembler) Wait() {
	a.wg.Wait()
}

// Invalidate drops the cached payload so the next read starts over.
func (a *Assembler) Invalidate(ctx context.Context, id string) error {
	return a.cache.Invalidate(ctx, CacheKey(id))
}

// Build runs a full assembly and caches it. Concurrent builds of the same
// playlist share one run.
func (a *Assembler) Build(ctx context.Context, id string) (Playlist, error) {
	return a.BuildWith(ctx, id, resolve.Options{})
}

// BuildWith is Build with resolution options, e.g. Force to ask the index
// again about items it recently didn't have.
func (a *Assembler) BuildWith(ctx context.Context, id string, opts resolve.Options) (Playlist, error) {
	key := id
	if opts.Force {
		key += ":force"
	}
	v, err, _ := a.flights.Do(key, func() (any, error) {
		return a.build(ctx, id, opts)
	})
	if err != nil {
		return Playlist{}, err
	}

	return v.(Playlist), nil
}

func (a *Assembler) build(ctx context.Context, id string, opts resolve.Options) (Playlist, error) {
	defer metrics.ObserveSince(metrics.PlaylistBuildDuration, time.Now())
	ctx = logger.Ctx(ctx, logger.Playlist(id))

	p, err := a.store.Playlist(ctx, id)
	if err != nil {
		return Playlist{}, fmt.Errorf("error getting playlist: %w", err)
	}

	items, err := a.store.PlaylistItems(ctx, id)
	if err != nil {
		return Playlist{}, fmt.Errorf("error getting playlist items: %w", err)
	}
	slices.SortStableFunc(items, func(x, y kraft.PlaylistItem) int { return cmp.Compare(x.Position, y.Position) })

	refs := make([]kraft.RemoteItemRef, len(items))
	for i, it := range items {
		refs[i] = kraft.RemoteItemRef{
			FeedGUID: it.FeedGUID,
			ItemGUID: it.ItemGUID,
			Position: it.Position,
			Episode:  it.EpisodeIndex,
		}
	}

	batch := a.resolver.ResolveBatch(ctx, refs, opts)
	payload := assemble(p, items, batch.Results)
	payload.BuiltAt = a.now().UTC()

	trackIDs := make([]string, len(payload.Tracks))
	for i, t := range payload.Tracks {
		trackIDs[i] = t.ID
	}
	if err := a.store.ReplacePlaylistTracks(ctx, id, trackIDs); err != nil {
		return Playlist{}, fmt.Errorf("error linking playlist tracks: %w", err)
	}

	if err := a.cache.Put(ctx, CacheKey(id), payload, a.cfg.TTL); err != nil {
		return Playlist{}, fmt.Errorf("error caching playlist: %w", err)
	}

	slog.InfoContext(ctx, "playlist built",
		"total", payload.TotalTracks,
		"playable", payload.ResolvedTracks,
		"failed", len(batch.Failed),
	)

	return payload, nil
}

// assemble lays results over items. Both are in declared order, so result i
// belongs to item i whatever order the resolutions finished in.
func assemble(p kraft.Playlist, items []kraft.PlaylistItem, results []resolve.Result) Playlist {
	out := Playlist{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		ImageURL:    p.ImageURL,
		Tracks:      []Track{},
		Items:       make([]Item, 0, len(items)),
		TotalTracks: len(items),
	}

	titles := map[int]string{}
	for i, it := range items {
		if it.EpisodeTitle != "" {
			titles[it.EpisodeIndex] = it.EpisodeTitle
		}

		item := Item{
			Position: it.Position,
			Episode:  it.EpisodeIndex,
			FeedGUID: it.FeedGUID,
			ItemGUID: it.ItemGUID,
		}

		var res resolve.Result
		if i < len(results) {
			res = results[i]
		} else {
			res = resolve.Result{Reason: resolve.ReasonError, Err: errors.New("no result")}
		}

		switch {
		case !res.OK():
			item.Status = ItemFailed
			item.Reason = res.Reason
			if res.Reason != resolve.ReasonNotFound {
				item.Detail = res.Err.Error()
			}
		case !res.Track.Playable():
			item.Status = ItemPlaceholder
			item.TrackID = res.Track.ID
		default:
			item.Status = ItemResolved
			item.TrackID = res.Track.ID
			out.Tracks = append(out.Tracks, Track{
				Position: it.Position,
				Episode:  it.EpisodeIndex,
				FeedGUID: it.FeedGUID,
				ItemGUID: it.ItemGUID,
				Track:    res.Track,
			})
		}

		out.Items = append(out.Items, item)
	}

	out.ResolvedTracks = len(out.Tracks)
	out.Episodes = episodes(out.Tracks, titles)
	return out
}

// episodes groups consecutive tracks by marker. A playlist without markers
// has no episodes.
func episodes(tracks []Track, titles map[int]string) []Episode {
	if !slices.ContainsFunc(tracks, func(t Track) bool { return t.Episode >= 0 }) {
		return nil
	}

	var out []Episode
	for _, t := range tracks {
		if n := len(out); n > 0 && out[n-1].Index == t.Episode {
			out[n-1].Tracks = append(out[n-1].Tracks, t)
			continue
		}
		out = append(out, Episode{Index: t.Episode, Title: titles[t.Episode], Tracks: []Track{t}})
	}

	return out
}

// Mismatch is a track whose place in a payload disagrees with the source.
type Mismatch struct {
	Index    int    `json:"index"`
	FeedGUID string `json:"feedGuid"`
	ItemGUID string `json:"itemGuid"`
	Want     int    `json:"want"`
	Got      int    `json:"got"`
}

// VerifyOrder checks a payload's tracks against freshly parsed source
// references. Every track must sit at its declared position and the tracks
// must appear in declaration order. Want is -1 for a track the source
// doesn't declare.
func VerifyOrder(source []kraft.RemoteItemRef, payload Playlist) []Mismatch {
	// A reference may be declared more than once; each track consumes the
	// next declaration of its pair.
	declared := make(map[string][]int, len(source))
	for _, ref := range source {
		key := ref.FeedGUID + "\x00" + ref.ItemGUID
		declared[key] = append(declared[key], ref.Position)
	}

	var (
		out  []Mismatch
		prev = -1
	)
	for i, t := range payload.Tracks {
		key := t.FeedGUID + "\x00" + t.ItemGUID

		want := -1
		if positions := declared[key]; len(positions) > 0 {
			want, declared[key] = positions[0], positions[1:]
		}

		if want < 0 || want != t.Position || want <= prev {
			out = append(out, Mismatch{Index: i, FeedGUID: t.FeedGUID, ItemGUID: t.ItemGUID, Want: want, Got: t.Position})
		}
		prev = max(prev, want)
	}

	return out
}
