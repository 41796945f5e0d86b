package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"The Doerfels":            "the-doerfels",
		"BitPunk.fm":              "bitpunkfm",
		"Wavlake Artist 0123abcd": "wavlake-artist-0123abcd",
		"Ollie (and the Band)":    "ollie-and-the-band",
		"already-slugged":         "already-slugged",
	}

	for in, want := range tests {
		assert.Equal(t, want, Slug(in), in)
	}
}

func TestExtract(t *testing.T) {
	feeds := []kraft.Feed{
		{ID: "pub-1", Medium: "publisher", GUID: "pub-guid-1", Title: "The Doerfels", OriginalURL: "https://re.podtards.com/pub.xml"},
		// No guid stored; taken from the artist url.
		{ID: "pub-2", Medium: "Publisher", OriginalURL: "https://wavlake.com/feed/artist/0123abcd-aaaa-bbbb-cccc-ddddeeeeffff"},
		{ID: "pub-3", Medium: "publisher"},
		{ID: "album-1", Medium: "music", Artist: "The Doerfels", PublisherGUID: "pub-guid-1"},
		{ID: "album-2", Medium: "music", Artist: "The Doerfels", PublisherGUID: "pub-guid-1"},
		{ID: "album-3", Medium: "music", Artist: "Solo Act", PublisherGUID: "ref-guid-1", PublisherURL: "https://example.com/pub.xml"},
		{ID: "album-4", Medium: "music", PublisherURL: "https://wavlake.com/feed/artist/99887766-0000-1111-2222-333344445555"},
		{ID: "album-5", Medium: "music", PublisherGUID: "ref-guid-without-name"},
		{ID: "album-6", Medium: "music"},
	}

	got := Extract(feeds)
	require.Len(t, got, 5)

	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.DisplayName
	}
	assert.Equal(t, []string{
		"Publisher ref-guid",
		"Solo Act",
		"The Doerfels",
		"Wavlake Artist 0123abcd",
		"Wavlake Artist 99887766",
	}, names)

	doerfels, ok := BySlug(got, "the-doerfels")
	require.True(t, ok)
	assert.Equal(t, Publisher{
		GUID:        "pub-guid-1",
		FeedID:      "pub-1",
		FeedURL:     "https://re.podtards.com/pub.xml",
		DisplayName: "The Doerfels",
		Slug:        "the-doerfels",
		Albums:      2,
	}, doerfels)

	solo, ok := BySlug(got, "solo-act")
	require.True(t, ok)
	assert.True(t, solo.Referenced)
	assert.Empty(t, solo.FeedID)
	assert.Equal(t, 1, solo.Albums)

	wl, ok := BySlug(got, "wavlake-artist-0123abcd")
	require.True(t, ok)
	assert.Equal(t, "0123abcd-aaaa-bbbb-cccc-ddddeeeeffff", wl.GUID)
	assert.Equal(t, "pub-2", wl.FeedID)
	assert.Zero(t, wl.Albums)

	_, ok = BySlug(got, "nobody")
	assert.False(t, ok)
}
