package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/sqlite/sqlitetest"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func summary(id string, age int, hasV4V bool, status kraft.FeedStatus) kraft.TrackSummary {
	return kraft.TrackSummary{
		ID:         id,
		Title:      "Song",
		Artist:     "Artist",
		AudioURL:   "https://example.com/song.mp3",
		HasV4V:     hasV4V,
		FeedStatus: status,
		CreatedAt:  epoch.Add(time.Duration(age) * time.Hour),
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name     string
		tracks   []kraft.TrackSummary
		wantKeep string
	}{
		{
			name: "payment data wins over age",
			tracks: []kraft.TrackSummary{
				summary("oldest", 0, false, kraft.FeedStatusActive),
				summary("paid", 2, true, kraft.FeedStatusError),
				summary("newest", 3, false, kraft.FeedStatusActive),
			},
			wantKeep: "paid",
		},
		{
			name: "active feed wins over age",
			tracks: []kraft.TrackSummary{
				summary("oldest", 0, false, kraft.FeedStatusError),
				summary("active", 5, false, kraft.FeedStatusActive),
				summary("sidebar", 1, false, kraft.FeedStatusSidebarOnly),
			},
			wantKeep: "active",
		},
		{
			name: "oldest wins otherwise",
			tracks: []kraft.TrackSummary{
				summary("b", 4, true, kraft.FeedStatusActive),
				summary("a", 1, true, kraft.FeedStatusActive),
				summary("c", 9, true, kraft.FeedStatusActive),
			},
			wantKeep: "a",
		},
		{
			name: "id breaks exact ties",
			tracks: []kraft.TrackSummary{
				summary("z", 0, false, kraft.FeedStatusActive),
				summary("m", 0, false, kraft.FeedStatusActive),
			},
			wantKeep: "m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups := Plan(tt.tracks, CatalogKey)
			require.Len(t, groups, 1)
			assert.Equal(t, tt.wantKeep, groups[0].Keep.ID)
			assert.Len(t, groups[0].Remove, len(tt.tracks)-1)
			for _, r := range groups[0].Remove {
				assert.NotEqual(t, tt.wantKeep, r.ID)
			}
		})
	}
}

func TestPlan_SkipsSingletonsAndPlaceholders(t *testing.T) {
	other := summary("other", 0, false, kraft.FeedStatusActive)
	other.Title = "Another Song"

	p1 := summary("p1", 0, false, kraft.FeedStatusActive)
	p1.AudioURL = ""
	p2 := summary("p2", 1, false, kraft.FeedStatusActive)
	p2.AudioURL = ""

	groups := Plan([]kraft.TrackSummary{summary("one", 0, false, kraft.FeedStatusActive), other, p1, p2}, CatalogKey)
	assert.Empty(t, groups)
}

func TestFavoriteKey(t *testing.T) {
	assert.Equal(t, FavoriteKey("Song", "Artist"), FavoriteKey("  song ", "ARTIST"))
	assert.NotEqual(t, FavoriteKey("Song", "Artist"), FavoriteKey("Song", "Other"))
	assert.Empty(t, FavoriteKey(" ", "Artist"))
}

// fakeCatalog is an in-memory CatalogRepo.
type fakeCatalog struct {
	tracks    []kraft.TrackSummary
	deps      map[string]kraft.Dependents
	favorites []kraft.Favorite
	merged    [][2]string
	mergeErr  error
}

func (f *fakeCatalog) TrackSummaries(context.Context) ([]kraft.TrackSummary, error) {
	return f.tracks, nil
}

func (f *fakeCatalog) Dependents(_ context.Context, id string) (kraft.Dependents, error) {
	return f.deps[id], nil
}

func (f *fakeCatalog) MergeTrack(_ context.Context, from, into string) error {
	if f.mergeErr != nil {
		return f.mergeErr
	}
	f.merged = append(f.merged, [2]string{from, into})
	return nil
}

func (f *fakeCatalog) Favorites(_ context.Context, sessionID string) ([]kraft.Favorite, error) {
	var out []kraft.Favorite
	for _, fav := range f.favorites {
		if fav.SessionID == sessionID {
			out = append(out, fav)
		}
	}
	return out, nil
}

func (f *fakeCatalog) UpdateFavoriteTrack(_ context.Context, favID, trackID string) error {
	for i := range f.favorites {
		if f.favorites[i].ID == favID {
			f.favorites[i].TrackID = trackID
		}
	}
	return nil
}

func (f *fakeCatalog) DeleteFavorite(_ context.Context, favID string) error {
	for i := range f.favorites {
		if f.favorites[i].ID == favID {
			f.favorites = append(f.favorites[:i], f.favorites[i+1:]...)
			return nil
		}
	}
	return nil
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	repo := &fakeCatalog{
		tracks: []kraft.TrackSummary{
			summary("keep", 0, true, kraft.FeedStatusActive),
			summary("drop", 1, false, kraft.FeedStatusActive),
		},
		deps: map[string]kraft.Dependents{"drop": {Favorites: 2, BoostEvents: 1}},
	}

	report, err := New(repo).Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)

	assert.True(t, report.DryRun)
	require.Len(t, report.Removals, 1)
	assert.Equal(t, "drop", report.Removals[0].Track.ID)
	assert.Equal(t, "keep", report.Removals[0].KeepID)
	assert.Equal(t, 3, report.Dependents.Total())
	assert.Zero(t, report.Removed)
	assert.Empty(t, repo.merged)
}

func TestRun_BlockedByReferences(t *testing.T) {
	repo := &fakeCatalog{
		tracks: []kraft.TrackSummary{
			summary("keep", 0, false, kraft.FeedStatusActive),
			summary("drop", 1, false, kraft.FeedStatusActive),
		},
		deps: map[string]kraft.Dependents{"drop": {PlaylistTracks: 1}},
	}

	report, err := New(repo).Run(context.Background(), Options{})

	var rie *ReferentialIntegrityError
	require.ErrorAs(t, err, &rie)
	require.Len(t, rie.Blocked, 1)
	assert.Equal(t, "drop", rie.Blocked[0].Track.ID)
	assert.Len(t, report.Removals, 1)
	assert.Empty(t, repo.merged)
}

func TestRun_UnreferencedWithoutRepoint(t *testing.T) {
	repo := &fakeCatalog{
		tracks: []kraft.TrackSummary{
			summary("keep", 0, false, kraft.FeedStatusActive),
			summary("drop", 1, false, kraft.FeedStatusActive),
		},
	}

	report, err := New(repo).Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.Equal(t, [][2]string{{"drop", "keep"}}, repo.merged)
}

func TestRun_MergeFailureStops(t *testing.T) {
	repo := &fakeCatalog{
		tracks: []kraft.TrackSummary{
			summary("keep", 0, false, kraft.FeedStatusActive),
			summary("drop", 1, false, kraft.FeedStatusActive),
		},
		mergeErr: errors.New("database is locked"),
	}

	report, err := New(repo).Run(context.Background(), Options{Repoint: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Zero(t, report.Removed)
}

func TestRun_Repoint(t *testing.T) {
	ctx := context.Background()
	repo := sqlitetest.New(t)

	f, err := repo.InsertFeed(ctx, kraft.Feed{GUID: "feed-guid"})
	require.NoError(t, err)

	guid := func(s string) *string { return &s }
	insert := func(g string, age int, value *v4v.Value) kraft.Track {
		tr, err := repo.InsertTrack(ctx, kraft.Track{
			FeedID:    f.ID,
			GUID:      guid(g),
			Title:     "Song",
			AudioURL:  "https://example.com/song.mp3",
			V4V:       value,
			CreatedAt: epoch.Add(time.Duration(age) * time.Hour),
		})
		require.NoError(t, err)
		return tr
	}

	oldest := insert("a", 0, nil)
	paid := insert("b", 1, &v4v.Value{Recipients: []v4v.Recipient{{Name: "artist", Type: v4v.RecipientNode, Address: "node", Split: 100}}})
	newest := insert("c", 2, nil)

	p, _, err := repo.UpsertPlaylist(ctx, kraft.Playlist{FeedID: f.ID}, nil)
	require.NoError(t, err)
	require.NoError(t, repo.ReplacePlaylistTracks(ctx, p.ID, []string{oldest.ID, newest.ID}))

	d := New(repo)

	_, err = d.Run(ctx, Options{})
	var rie *ReferentialIntegrityError
	require.ErrorAs(t, err, &rie)

	report, err := d.Run(ctx, Options{Repoint: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Removed)

	for _, id := range []string{oldest.ID, newest.ID} {
		_, err := repo.Track(ctx, id)
		assert.ErrorIs(t, err, kraft.ErrNotFound)
	}

	deps, err := repo.Dependents(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, deps.PlaylistTracks)

	report, err = d.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Removals, "a second run finds nothing")
}

func TestMatchFavorites(t *testing.T) {
	canon := summary("canon", 0, true, kraft.FeedStatusActive)
	dupe := summary("dupe", 3, false, kraft.FeedStatusActive)
	dupe.AudioURL = "https://mirror.example.com/song.mp3"
	other := summary("other", 0, false, kraft.FeedStatusActive)
	other.Title = "Other Song"

	repo := &fakeCatalog{
		tracks: []kraft.TrackSummary{canon, dupe, other},
		favorites: []kraft.Favorite{
			{ID: "fav-1", SessionID: "s", TrackID: "dupe", Title: "song ", Artist: "artist", CreatedAt: epoch},
			{ID: "fav-2", SessionID: "s", TrackID: "canon", Title: "Song", Artist: "Artist", CreatedAt: epoch.Add(time.Hour)},
			{ID: "fav-3", SessionID: "s", TrackID: "other", CreatedAt: epoch.Add(2 * time.Hour)},
			{ID: "fav-4", SessionID: "someone-else", TrackID: "dupe", Title: "Song", Artist: "Artist"},
		},
	}
	d := New(repo)

	actions, err := d.MatchFavorites(context.Background(), "s", true)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, FavoriteAction{FavoriteID: "fav-1", Key: "song|artist", Action: ActionRepoint, FromTrackID: "dupe", ToTrackID: "canon"}, actions[0])
	assert.Equal(t, FavoriteAction{FavoriteID: "fav-2", Key: "song|artist", Action: ActionDelete, FromTrackID: "canon"}, actions[1])
	assert.Len(t, repo.favorites, 4, "dry run")

	_, err = d.MatchFavorites(context.Background(), "s", false)
	require.NoError(t, err)

	favs, err := repo.Favorites(context.Background(), "s")
	require.NoError(t, err)
	require.Len(t, favs, 2)
	assert.Equal(t, "fav-1", favs[0].ID)
	assert.Equal(t, "canon", favs[0].TrackID)
	assert.Equal(t, "fav-3", favs[1].ID)
	assert.Equal(t, "other", favs[1].TrackID)
}
