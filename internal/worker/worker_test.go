package worker

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/ingest"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
)

type fakeSyncer struct {
	mu      sync.Mutex
	results map[string]ingest.Result
	errs    map[string]error
	calls   map[string]int
}

func (f *fakeSyncer) SyncFeed(_ context.Context, feedID string) (ingest.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[feedID]++
	if err := f.errs[feedID]; err != nil {
		return ingest.Result{FeedID: feedID, Status: kraft.FeedStatusError}, err
	}
	return f.results[feedID], nil
}

type fakeStore struct {
	feeds     []kraft.Feed
	playlists []kraft.Playlist
}

func (f fakeStore) AllFeeds(context.Context) ([]kraft.Feed, error) { return f.feeds, nil }

func (f fakeStore) Playlists(context.Context) ([]kraft.Playlist, error) { return f.playlists, nil }

type fakeBuilder struct {
	mu    sync.Mutex
	built []string
}

func (f *fakeBuilder) Build(_ context.Context, id string) (playlist.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id == "missing" {
		return playlist.Playlist{}, kraft.ErrNotFound
	}
	f.built = append(f.built, id)
	return playlist.Playlist{ID: id, TotalTracks: 3, ResolvedTracks: 2}, nil
}

func newTestEnv(t *testing.T, a *activities) *testsuite.TestWorkflowEnvironment {
	t.Helper()

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterActivity(a)
	return env
}

func TestSyncAllFeeds(t *testing.T) {
	var (
		syncer = &fakeSyncer{
			results: map[string]ingest.Result{
				"album":    {FeedID: "album", Status: kraft.FeedStatusActive, NewTracks: 4},
				"list":     {FeedID: "list", Status: kraft.FeedStatusActive, PlaylistID: "pl-1", PlaylistChanged: true},
				"samelist": {FeedID: "samelist", Status: kraft.FeedStatusActive, PlaylistID: "pl-2"},
			},
			errs: map[string]error{
				"broken": &kraft.ParseError{URL: "https://example.com/broken.xml", Err: errors.New("EOF")},
			},
			calls: map[string]int{},
		}
		store = fakeStore{feeds: []kraft.Feed{
			{ID: "album", OriginalURL: "https://example.com/album.xml"},
			{ID: "list", OriginalURL: "https://example.com/list.xml"},
			{ID: "samelist", OriginalURL: "https://example.com/samelist.xml"},
			{ID: "broken", OriginalURL: "https://example.com/broken.xml"},
			// Created from index metadata; nothing to fetch.
			{ID: "resolved-only"},
		}}
		builder = &fakeBuilder{}
		env     = newTestEnv(t, &activities{ingest: syncer, store: store, playlists: builder})
	)

	env.ExecuteWorkflow(workflows{}.SyncAllFeeds)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var report SyncReport
	require.NoError(t, env.GetWorkflowResult(&report))
	assert.Equal(t, 3, report.Synced)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []PlaylistSummary{{ID: "pl-1", Total: 3, Resolved: 2}}, report.Playlists)

	assert.Equal(t, []string{"pl-1"}, builder.built)
	assert.Zero(t, syncer.calls["resolved-only"])
	// Parse failures aren't retried.
	assert.Equal(t, 1, syncer.calls["broken"])
}

func TestSyncFeed_NonRetryableCarriesStructuredError(t *testing.T) {
	var (
		syncer = &fakeSyncer{
			errs: map[string]error{
				"gone": &kraft.TransportError{URL: "https://example.com/gone.xml", StatusCode: http.StatusNotFound},
			},
			calls: map[string]int{},
		}
		env = newTestEnv(t, &activities{ingest: syncer, store: fakeStore{}, playlists: &fakeBuilder{}})
	)

	env.ExecuteWorkflow(workflows{}.SyncFeed, "gone")

	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)

	var appErr *temporal.ApplicationError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, errTypeFeed, appErr.Type())
	assert.True(t, appErr.NonRetryable())

	sErr := &krafterrs.Error{}
	require.True(t, asKrafterr(err, &sErr))
	assert.Equal(t, http.StatusBadGateway, sErr.Status)
	assert.Equal(t, 1, syncer.calls["gone"])
}

func TestResolveAllPlaylists(t *testing.T) {
	var (
		builder = &fakeBuilder{}
		store   = fakeStore{playlists: []kraft.Playlist{{ID: "pl-1"}, {ID: "missing"}, {ID: "pl-2"}}}
		env     = newTestEnv(t, &activities{ingest: &fakeSyncer{}, store: store, playlists: builder})
	)

	env.ExecuteWorkflow(workflows{}.ResolveAllPlaylists)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var sums []PlaylistSummary
	require.NoError(t, env.GetWorkflowResult(&sums))
	require.Len(t, sums, 2)
	assert.Equal(t, "pl-1", sums[0].ID)
	assert.Equal(t, "pl-2", sums[1].ID)
	assert.Equal(t, []string{"pl-1", "pl-2"}, builder.built)
}

func TestAsKrafterr(t *testing.T) {
	sErr := &krafterrs.Error{}
	assert.False(t, asKrafterr(nil, &sErr))
	assert.False(t, asKrafterr(errors.New("plain"), &sErr))
}
