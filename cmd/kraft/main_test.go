package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/dedup"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/ingest"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/publisher"
)

const albumFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd" xmlns:podcast="https://podcastindex.org/namespace/1.0">
  <channel>
    <title>Stay Awhile</title>
    <itunes:author>The Able Band</itunes:author>
    <podcast:guid>album-guid</podcast:guid>
    <podcast:medium>music</podcast:medium>
    <podcast:publisher>
      <podcast:remoteItem medium="publisher" feedGuid="publisher-guid" feedUrl="https://wavlake.com/feed/artist/aa11bb22"/>
    </podcast:publisher>
    <item>
      <title>One</title>
      <guid isPermaLink="false">t1</guid>
      <enclosure url="https://cdn.example.com/one.mp3" length="1" type="audio/mpeg"/>
    </item>
    <item>
      <title>Two</title>
      <guid isPermaLink="false">t2</guid>
      <enclosure url="https://cdn.example.com/two.mp3" length="1" type="audio/mpeg"/>
    </item>
    <item>
      <title>Three</title>
      <guid isPermaLink="false">t3</guid>
      <enclosure url="https://cdn.example.com/three.mp3" length="1" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

// Same audio and title as "One" on the album, from another feed.
const reissueFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:podcast="https://podcastindex.org/namespace/1.0">
  <channel>
    <title>Reissue</title>
    <podcast:guid>reissue-guid</podcast:guid>
    <podcast:medium>music</podcast:medium>
    <item>
      <title>One</title>
      <guid isPermaLink="false">r1</guid>
      <enclosure url="https://cdn.example.com/one.mp3" length="1" type="audio/mpeg"/>
    </item>
  </channel>
</rss>`

const playlistFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:podcast="https://podcastindex.org/namespace/1.0">
  <channel>
    <title>Mixed Up</title>
    <podcast:guid>playlist-guid</podcast:guid>
    <podcast:medium>musicL</podcast:medium>
    <podcast:remoteItem feedGuid="album-guid" itemGuid="t3"/>
    <podcast:remoteItem feedGuid="album-guid" itemGuid="t1"/>
    <podcast:remoteItem feedGuid="album-guid" itemGuid="t2"/>
  </channel>
</rss>`

func setupCLITest(t *testing.T) *httptest.Server {
	t.Helper()

	t.Setenv("DATABASE", filepath.Join(t.TempDir(), "kraft.db"))
	t.Setenv("CACHE_BACKEND", "memory")
	t.Setenv("PODCASTINDEX_API_KEY", "")
	t.Setenv("PODCASTINDEX_API_SECRET", "")

	bodies := map[string]string{
		"/album.xml":    albumFeed,
		"/reissue.xml":  reissueFeed,
		"/playlist.xml": playlistFeed,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := bodies[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return srv
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func addFeed(t *testing.T, url string) ingest.Result {
	t.Helper()

	out, err := runCLI(t, "sync", "--add", url, "--json")
	require.NoError(t, err, out)

	var results []ingest.Result
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	return results[0]
}

func TestPlaylistAndVerifyOrder(t *testing.T) {
	srv := setupCLITest(t)

	album := addFeed(t, srv.URL+"/album.xml")
	assert.Equal(t, 3, album.NewTracks)

	list := addFeed(t, srv.URL+"/playlist.xml")
	require.NotEmpty(t, list.PlaylistID)
	assert.True(t, list.PlaylistChanged)

	out, err := runCLI(t, "playlist", list.PlaylistID, "--json")
	require.NoError(t, err, out)

	var p playlist.Playlist
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	require.Len(t, p.Tracks, 3)
	assert.Equal(t, []string{"Three", "One", "Two"}, []string{p.Tracks[0].Title, p.Tracks[1].Title, p.Tracks[2].Title})
	assert.Empty(t, p.Items)

	out, err = runCLI(t, "verify-order", list.PlaylistID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "3 of 3 declared items playable, all in order.")

	out, err = runCLI(t, "playlist", list.PlaylistID, "--raw")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Mixed Up (3 of 3 playable)")
	assert.Contains(t, out, "resolved")
}

func TestResolveNeedsTarget(t *testing.T) {
	setupCLITest(t)

	_, err := runCLI(t, "resolve")
	assert.EqualError(t, err, "give playlist IDs or --all")

	out, err := runCLI(t, "resolve", "--all", "--retry-failed", "--json")
	require.NoError(t, err, out)
	assert.Equal(t, "null\n", out)
}

func TestPublishers(t *testing.T) {
	srv := setupCLITest(t)
	addFeed(t, srv.URL+"/album.xml")

	out, err := runCLI(t, "publishers", "--json")
	require.NoError(t, err, out)

	var pubs []publisher.Publisher
	require.NoError(t, json.Unmarshal([]byte(out), &pubs))
	require.Len(t, pubs, 1)
	assert.Equal(t, "publisher-guid", pubs[0].GUID)
	assert.Equal(t, "The Able Band", pubs[0].DisplayName)
	assert.True(t, pubs[0].Referenced)
	assert.Equal(t, 1, pubs[0].Albums)
}

func TestDedup(t *testing.T) {
	srv := setupCLITest(t)
	addFeed(t, srv.URL+"/album.xml")
	addFeed(t, srv.URL+"/reissue.xml")

	out, err := runCLI(t, "dedup", "--dry-run", "--json")
	require.NoError(t, err, out)

	var report dedup.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.DryRun)
	require.Len(t, report.Removals, 1)
	assert.Zero(t, report.Removed)

	out, err = runCLI(t, "dedup")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Removed 1 duplicates.")

	out, err = runCLI(t, "dedup", "--dry-run", "--json")
	require.NoError(t, err, out)
	report = dedup.Report{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Empty(t, report.Removals)
}

func TestSyncFlagValidation(t *testing.T) {
	setupCLITest(t)

	_, err := runCLI(t, "sync", "--feed", "x", "--add", "https://example.com/feed.xml")
	assert.EqualError(t, err, "--feed and --add are mutually exclusive")

	_, err = runCLI(t, "sync", "--temporal")
	assert.EqualError(t, err, "--temporal needs --feed")
}
