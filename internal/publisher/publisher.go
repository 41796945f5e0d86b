// Package publisher builds the directory of music publishers from stored
// feeds.
package publisher

import (
	"cmp"
	"slices"
	"strings"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

const mediumPublisher = "publisher"

const wavlakeArtistPath = "wavlake.com/feed/artist/"

// Publisher is one entry of the directory. FeedID is empty for publishers
// that are only known through albums pointing at them.
type Publisher struct {
	GUID        string `json:"guid"`
	FeedID      string `json:"feedId,omitempty"`
	FeedURL     string `json:"feedUrl,omitempty"`
	DisplayName string `json:"displayName"`
	Slug        string `json:"slug"`
	Albums      int    `json:"albums"`
	Referenced  bool   `json:"referenced"`
}

// Extract finds every publisher: feeds whose medium is publisher, plus the
// publishers album feeds reference without us holding their feed. Entries
// without any way to identify them are dropped. The result is sorted by
// display name.
func Extract(feeds []kraft.Feed) []Publisher {
	type entry struct {
		Publisher
		title, artist string
	}
	byGUID := map[string]*entry{}

	for _, f := range feeds {
		if !strings.EqualFold(f.Medium, mediumPublisher) {
			continue
		}
		guid := cmp.Or(f.GUID, guidFromURL(f.OriginalURL))
		if guid == "" {
			continue
		}
		byGUID[guid] = &entry{
			Publisher: Publisher{GUID: guid, FeedID: f.ID, FeedURL: f.OriginalURL},
			title:     f.Title,
			artist:    f.Artist,
		}
	}

	for _, f := range feeds {
		guid := cmp.Or(f.PublisherGUID, guidFromURL(f.PublisherURL))
		if guid == "" {
			continue
		}

		e, ok := byGUID[guid]
		if !ok {
			e = &entry{
				Publisher: Publisher{GUID: guid, FeedURL: f.PublisherURL, Referenced: true},
				artist:    f.Artist,
			}
			byGUID[guid] = e
		}
		e.Albums++
	}

	out := make([]Publisher, 0, len(byGUID))
	for _, e := range byGUID {
		p := e.Publisher
		p.DisplayName = displayName(p.GUID, p.FeedURL, e.title, e.artist)
		p.Slug = Slug(p.DisplayName)
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Publisher) int {
		return cmp.Or(cmp.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.GUID, b.GUID))
	})

	return out
}

// BySlug finds a publisher by its url slug.
func BySlug(pubs []Publisher, slug string) (Publisher, bool) {
	i := slices.IndexFunc(pubs, func(p Publisher) bool { return p.Slug == slug })
	if i < 0 {
		return Publisher{}, false
	}
	return pubs[i], true
}

// Wavlake artist feeds end in the artist's guid.
func guidFromURL(u string) string {
	i := strings.Index(u, wavlakeArtistPath)
	if i < 0 {
		return ""
	}
	rest := strings.Trim(u[i+len(wavlakeArtistPath):], "/")
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

func displayName(guid, feedURL, title, artist string) string {
	if name := cmp.Or(strings.TrimSpace(title), strings.TrimSpace(artist)); name != "" {
		return name
	}
	if strings.Contains(feedURL, wavlakeArtistPath) {
		return "Wavlake Artist " + short(guid)
	}
	return "Publisher " + short(guid)
}

func short(guid string) string {
	if len(guid) > 8 {
		return guid[:8]
	}
	return guid
}

var slugReplacer = strings.NewReplacer(" ", "-", "(", "", ")", "", ".", "")

// Slug makes a display name url-safe.
func Slug(name string) string {
	return slugReplacer.Replace(strings.ToLower(name))
}
