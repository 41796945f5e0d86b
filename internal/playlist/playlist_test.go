package playlist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/feed"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/index"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/resolve"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/sqlite"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/sqlite/sqlitetest"
)

const testPlaylistFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:podcast="https://podcastindex.org/namespace/1.0">
  <channel>
    <title>Three Songs</title>
    <podcast:guid>playlist-guid</podcast:guid>
    <podcast:medium>musicL</podcast:medium>
    <podcast:remoteItem feedGuid="feed-a" itemGuid="A"/>
    <podcast:remoteItem feedGuid="feed-b" itemGuid="B"></podcast:remoteItem>
    <podcast:remoteItem feedGuid="feed-c" itemGuid="C"/>
  </channel>
</rss>`

// stubResolver resolves every reference to a fresh track whose title carries
// the call number.
type stubResolver struct {
	calls  atomic.Int32
	forced atomic.Int32
	fail   map[string]string
}

func (s *stubResolver) ResolveBatch(_ context.Context, refs []kraft.RemoteItemRef, opts resolve.Options) resolve.BatchResult {
	n := s.calls.Add(1)
	if opts.Force {
		s.forced.Add(1)
	}

	var batch resolve.BatchResult
	for _, ref := range refs {
		if reason, ok := s.fail[ref.ItemGUID]; ok {
			batch.Results = append(batch.Results, resolve.Result{Ref: ref, Reason: reason, Err: kraft.ErrResolutionNotFound})
			continue
		}
		batch.Results = append(batch.Results, resolve.Result{Ref: ref, Track: kraft.Track{
			ID:       ref.ItemGUID + "-trk",
			Title:    ref.ItemGUID + " build " + string(rune('0'+n)),
			AudioURL: "https://cdn.example.com/" + ref.ItemGUID + ".mp3",
		}})
		batch.Resolved++
	}
	return batch
}

// linkStore lets tracks that only exist in a stub resolver be linked.
type linkStore struct {
	sqlite.Repo

	mu    sync.Mutex
	links map[string][]string
}

func (s *linkStore) ReplacePlaylistTracks(_ context.Context, id string, trackIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[id] = trackIDs
	return nil
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func seedPlaylist(t *testing.T, repo sqlite.Repo) (kraft.Playlist, feed.Channel) {
	t.Helper()
	ctx := context.Background()

	parsed, err := feed.Parse([]byte(testPlaylistFeed))
	require.NoError(t, err)

	f, err := repo.InsertFeed(ctx, kraft.Feed{GUID: parsed.Channel.GUID, Title: parsed.Channel.Title, Medium: parsed.Channel.Medium})
	require.NoError(t, err)

	p, _, err := repo.UpsertPlaylist(ctx, kraft.Playlist{FeedID: f.ID, Title: parsed.Channel.Title}, SourceItems(parsed.Channel))
	require.NoError(t, err)

	return p, parsed.Channel
}

func newTestAssembler(t *testing.T, res Resolver) (*Assembler, *linkStore, *testClock, kraft.Playlist) {
	t.Helper()

	repo := sqlitetest.New(t)
	p, _ := seedPlaylist(t, repo)
	store := &linkStore{Repo: repo, links: map[string][]string{}}

	clock := &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	cache, err := NewMemoryCache(16)
	require.NoError(t, err)
	cache.now = clock.now

	a := New(store, res, cache, Config{TTL: time.Minute})
	a.now = clock.now
	t.Cleanup(a.Wait)

	return a, store, clock, p
}

func TestGet_UnknownPlaylist(t *testing.T) {
	a, _, _, _ := newTestAssembler(t, &stubResolver{})

	_, err := a.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, kraft.ErrNotFound)
}

func TestGet_PlaceholderThenFresh(t *testing.T) {
	res := &stubResolver{}
	a, store, _, p := newTestAssembler(t, res)
	ctx := context.Background()

	got, err := a.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Placeholder)
	assert.NotNil(t, got.Tracks)
	assert.Empty(t, got.Tracks)
	assert.Equal(t, 3, got.TotalTracks)
	assert.Equal(t, "Three Songs", got.Title)

	a.Wait()
	require.EqualValues(t, 1, res.calls.Load())

	got, err = a.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Placeholder)
	require.Len(t, got.Tracks, 3)
	assert.Equal(t, "A build 1", got.Tracks[0].Title)
	assert.Equal(t, []string{"A-trk", "B-trk", "C-trk"}, store.links[p.ID])

	// A fresh hit never rebuilds.
	_, err = a.Get(ctx, p.ID)
	require.NoError(t, err)
	a.Wait()
	assert.EqualValues(t, 1, res.calls.Load())
}

func TestBuildWith_Force(t *testing.T) {
	res := &stubResolver{}
	a, _, _, p := newTestAssembler(t, res)
	ctx := context.Background()

	_, err := a.Build(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, res.forced.Load())

	got, err := a.BuildWith(ctx, p.ID, resolve.Options{Force: true})
	require.NoError(t, err)
	assert.Len(t, got.Tracks, 3)
	assert.EqualValues(t, 1, res.forced.Load())
}

func TestGet_StaleServedWhileRefreshing(t *testing.T) {
	res := &stubResolver{}
	a, _, clock, p := newTestAssembler(t, res)
	ctx := context.Background()

	_, err := a.Build(ctx, p.ID)
	require.NoError(t, err)

	clock.advance(2 * time.Minute)

	got, err := a.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "A build 1", got.Tracks[0].Title, "stale payload is returned as is")

	a.Wait()
	assert.EqualValues(t, 2, res.calls.Load())

	got, err = a.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "A build 2", got.Tracks[0].Title)
}

func TestInvalidate(t *testing.T) {
	res := &stubResolver{}
	a, _, _, p := newTestAssembler(t, res)
	ctx := context.Background()

	_, err := a.Build(ctx, p.ID)
	require.NoError(t, err)
	require.NoError(t, a.Invalidate(ctx, p.ID))

	got, err := a.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Placeholder)
}

type slowIndex struct {
	episodes map[string]index.EpisodeMetadata
	delays   map[string]time.Duration
}

func (s *slowIndex) LookupFeedByGUID(_ context.Context, feedGUID string) (index.FeedMetadata, error) {
	return index.FeedMetadata{GUID: feedGUID, Title: "Album " + feedGUID, Author: "Artist"}, nil
}

func (s *slowIndex) LookupEpisode(ctx context.Context, feedGUID, itemGUID string) (index.EpisodeMetadata, error) {
	select {
	case <-time.After(s.delays[itemGUID]):
	case <-ctx.Done():
		return index.EpisodeMetadata{}, ctx.Err()
	}

	ep, ok := s.episodes[itemGUID]
	if !ok {
		return index.EpisodeMetadata{}, kraft.ErrResolutionNotFound
	}
	return ep, nil
}

func TestBuild_EndToEnd(t *testing.T) {
	ctx := context.Background()
	repo := sqlitetest.New(t)
	p, ch := seedPlaylist(t, repo)

	idx := &slowIndex{
		episodes: map[string]index.EpisodeMetadata{
			"A": {GUID: "A", FeedGUID: "feed-a", Title: "Song A", AudioURL: "https://cdn.example.com/a.mp3", Duration: 200},
			"C": {GUID: "C", FeedGUID: "feed-c", Title: "Song C", AudioURL: "https://cdn.example.com/c.mp3", Duration: 150},
		},
		// A finishes last.
		delays: map[string]time.Duration{"A": 50 * time.Millisecond},
	}
	res := resolve.New(repo, idx, resolve.Config{Concurrency: 3})

	cache, err := NewMemoryCache(16)
	require.NoError(t, err)
	a := New(repo, res, cache, Config{})

	got, err := a.Build(ctx, p.ID)
	require.NoError(t, err)

	require.Len(t, got.Tracks, 2)
	assert.Equal(t, "Song A", got.Tracks[0].Title)
	assert.Equal(t, 0, got.Tracks[0].Position)
	assert.Equal(t, "Song C", got.Tracks[1].Title)
	assert.Equal(t, 2, got.Tracks[1].Position)
	assert.Equal(t, 2, got.ResolvedTracks)
	assert.Equal(t, 3, got.TotalTracks)

	require.Len(t, got.Items, 3)
	assert.Equal(t, ItemResolved, got.Items[0].Status)
	assert.Equal(t, Item{Position: 1, Episode: -1, FeedGUID: "feed-b", ItemGUID: "B", Status: ItemFailed, Reason: resolve.ReasonNotFound}, got.Items[1])
	assert.Equal(t, ItemResolved, got.Items[2].Status)

	assert.Empty(t, VerifyOrder(ch.RemoteItems, got))

	deps, err := repo.Dependents(ctx, got.Tracks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deps.PlaylistTracks)

	cached, ok, err := cache.Get(ctx, CacheKey(p.ID))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, got, cached.Payload)
}

func TestAssemble_EpisodesAndPlaceholders(t *testing.T) {
	items := []kraft.PlaylistItem{
		{Position: 0, FeedGUID: "f", ItemGUID: "intro", EpisodeIndex: -1},
		{Position: 1, FeedGUID: "f", ItemGUID: "a", EpisodeIndex: 0, EpisodeTitle: "Episode 1"},
		{Position: 2, FeedGUID: "f", ItemGUID: "silent", EpisodeIndex: 0, EpisodeTitle: "Episode 1"},
		{Position: 3, FeedGUID: "f", ItemGUID: "b", EpisodeIndex: 1, EpisodeTitle: "Episode 2"},
		{Position: 4, FeedGUID: "f", ItemGUID: "slow", EpisodeIndex: 1, EpisodeTitle: "Episode 2"},
	}
	track := func(id string) kraft.Track {
		return kraft.Track{ID: id, AudioURL: "https://cdn.example.com/" + id + ".mp3"}
	}
	results := []resolve.Result{
		{Track: track("intro")},
		{Track: track("a")},
		{Track: kraft.Track{ID: "silent"}},
		{Track: track("b")},
		{Reason: resolve.ReasonTimeout, Err: context.DeadlineExceeded},
	}

	got := assemble(kraft.Playlist{ID: "pl"}, items, results)

	assert.Equal(t, 5, got.TotalTracks)
	assert.Equal(t, 3, got.ResolvedTracks)
	assert.Equal(t, ItemPlaceholder, got.Items[2].Status)
	assert.Equal(t, "silent", got.Items[2].TrackID)
	assert.Equal(t, ItemFailed, got.Items[4].Status)
	assert.Equal(t, resolve.ReasonTimeout, got.Items[4].Reason)
	assert.Equal(t, context.DeadlineExceeded.Error(), got.Items[4].Detail)

	require.Len(t, got.Episodes, 3)
	assert.Equal(t, -1, got.Episodes[0].Index)
	assert.Len(t, got.Episodes[0].Tracks, 1)
	assert.Equal(t, "Episode 1", got.Episodes[1].Title)
	assert.Len(t, got.Episodes[1].Tracks, 1)
	assert.Equal(t, "Episode 2", got.Episodes[2].Title)
	assert.Equal(t, "b", got.Episodes[2].Tracks[0].ID)
}

func TestAssemble_NoMarkersNoEpisodes(t *testing.T) {
	items := []kraft.PlaylistItem{{Position: 0, ItemGUID: "a", EpisodeIndex: -1}}
	results := []resolve.Result{{Track: kraft.Track{ID: "a", AudioURL: "u"}}}

	got := assemble(kraft.Playlist{}, items, results)
	assert.Len(t, got.Tracks, 1)
	assert.Nil(t, got.Episodes)
}

func TestVerifyOrder(t *testing.T) {
	source := []kraft.RemoteItemRef{
		{FeedGUID: "f", ItemGUID: "a", Position: 0},
		{FeedGUID: "f", ItemGUID: "b", Position: 1},
		{FeedGUID: "f", ItemGUID: "a", Position: 2},
	}
	tr := func(item string, pos int) Track { return Track{FeedGUID: "f", ItemGUID: item, Position: pos} }

	assert.Empty(t, VerifyOrder(source, Playlist{Tracks: []Track{tr("a", 0), tr("b", 1), tr("a", 2)}}))
	assert.Empty(t, VerifyOrder(source, Playlist{Tracks: []Track{tr("a", 0), tr("a", 2)}}), "gaps are fine")

	got := VerifyOrder(source, Playlist{Tracks: []Track{tr("b", 1), tr("a", 0)}})
	require.Len(t, got, 1)
	assert.Equal(t, Mismatch{Index: 1, FeedGUID: "f", ItemGUID: "a", Want: 0, Got: 0}, got[0])

	got = VerifyOrder(source, Playlist{Tracks: []Track{tr("zzz", 0)}})
	require.Len(t, got, 1)
	assert.Equal(t, -1, got[0].Want)
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}

	c, err := NewMemoryCache(2)
	require.NoError(t, err)
	c.now = clock.now

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "k", Playlist{ID: "one"}, time.Minute))
	e, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", e.Payload.ID)
	assert.True(t, e.Fresh(clock.now()))

	clock.advance(time.Minute)
	e, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok, "expired entries are still served")
	assert.False(t, e.Fresh(clock.now()))

	require.NoError(t, c.Invalidate(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheKey(t *testing.T) {
	assert.Equal(t, "playlist:v3:abc-pl", CacheKey("abc-pl"))
}

type brokenCache struct{ Cache }

func (brokenCache) Get(context.Context, string) (Entry, bool, error) {
	return Entry{}, false, errors.New("connection refused")
}

func TestGet_CacheErrorFallsBackToPlaceholder(t *testing.T) {
	repo := sqlitetest.New(t)
	p, _ := seedPlaylist(t, repo)

	mem, err := NewMemoryCache(4)
	require.NoError(t, err)
	a := New(&linkStore{Repo: repo, links: map[string][]string{}}, &stubResolver{}, brokenCache{Cache: mem}, Config{})
	t.Cleanup(a.Wait)

	got, err := a.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.True(t, got.Placeholder)
}
