// Package feed fetches podcast feeds and parses them, including the podcast
// namespace extensions (value blocks, remote items, episode markers).
package feed

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
)

type (
	// Parsed is a feed after parsing, before anything is persisted.
	Parsed struct {
		Channel Channel
		Items   []Item
	}

	Channel struct {
		Title       string
		Description string
		Link        string
		Language    string
		ImageURL    string
		Author      string
		Explicit    bool

		// podcast:guid and podcast:medium
		GUID   string
		Medium string

		// Channel-level podcast:value, the default for every item.
		Value *v4v.Raw

		// podcast:remoteItem children of the channel, in declaration order.
		RemoteItems []kraft.RemoteItemRef
		Episodes    []EpisodeMarker

		// The podcast:publisher reference of an album feed, if any.
		Publisher *kraft.RemoteItemRef
	}

	// EpisodeMarker is a podcast:txt purpose="episode" boundary. Position is
	// the position of the first remote item it covers.
	EpisodeMarker struct {
		Index    int
		Title    string
		Position int
	}

	Item struct {
		GUID        string
		Title       string
		Description string
		Link        string
		Author      string
		AudioURL    string
		AudioType   string
		AudioLength int64
		// Seconds
		Duration    int
		PublishedAt *time.Time
		ImageURL    string
		Explicit    bool

		ChaptersURL  string
		ChaptersType string

		// Value is the effective block: the item's own when it declares one,
		// otherwise the channel's. OwnValue records which.
		Value    *v4v.Raw
		OwnValue bool

		Episode      int
		EpisodeTitle string
	}
)

// IsPlaylist reports whether the feed is a list of references to other feeds.
func (p *Parsed) IsPlaylist() bool {
	return len(p.Channel.RemoteItems) > 0
}

// Parse turns raw feed bytes into a Parsed feed. Anything optional that is
// missing is left zero; only XML that can't be read at all is an error, and
// that comes back as a *kraft.ParseError.
func Parse(data []byte) (*Parsed, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &kraft.ParseError{Err: errors.New("empty document")}
	}

	gf, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &kraft.ParseError{Err: err}
	}

	ns, err := scanPodcast(data)
	if err != nil {
		return nil, &kraft.ParseError{Err: err}
	}

	ch := Channel{
		Title:       strings.TrimSpace(gf.Title),
		Description: sanitize(gf.Description),
		Link:        strings.TrimSpace(gf.Link),
		Language:    strings.TrimSpace(gf.Language),
		GUID:        ns.guid,
		Medium:      ns.medium,
		Value:       ns.value,
		RemoteItems: ns.remoteItems,
		Episodes:    ns.episodes,
		Publisher:   ns.publisher,
	}
	if gf.Image != nil {
		ch.ImageURL = strings.TrimSpace(gf.Image.URL)
	}
	if gf.ITunesExt != nil {
		if ch.ImageURL == "" {
			ch.ImageURL = strings.TrimSpace(gf.ITunesExt.Image)
		}
		ch.Author = strings.TrimSpace(gf.ITunesExt.Author)
		ch.Explicit = parseExplicit(gf.ITunesExt.Explicit)
	}
	if ch.Author == "" {
		ch.Author = personName(gf.Author, gf.Authors)
	}

	items := make([]Item, 0, len(gf.Items))
	for i, gi := range gf.Items {
		it := Item{
			GUID:        strings.TrimSpace(gi.GUID),
			Title:       strings.TrimSpace(gi.Title),
			Description: sanitize(firstNonEmpty(gi.Description, gi.Content)),
			Link:        strings.TrimSpace(gi.Link),
			Author:      personName(gi.Author, gi.Authors),
			PublishedAt: gi.PublishedParsed,
			Explicit:    ch.Explicit,
			Episode:     -1,
		}
		if enc := pickEnclosure(gi.Enclosures); enc != nil {
			it.AudioURL = strings.TrimSpace(enc.URL)
			it.AudioType = strings.TrimSpace(enc.Type)
			it.AudioLength, _ = strconv.ParseInt(strings.TrimSpace(enc.Length), 10, 64)
		}
		if gi.Image != nil {
			it.ImageURL = strings.TrimSpace(gi.Image.URL)
		}
		if gi.ITunesExt != nil {
			it.Duration = ParseDuration(gi.ITunesExt.Duration)
			if it.ImageURL == "" {
				it.ImageURL = strings.TrimSpace(gi.ITunesExt.Image)
			}
			if it.Author == "" {
				it.Author = strings.TrimSpace(gi.ITunesExt.Author)
			}
			if gi.ITunesExt.Explicit != "" {
				it.Explicit = parseExplicit(gi.ITunesExt.Explicit)
			}
		}
		if it.Author == "" {
			it.Author = ch.Author
		}
		if it.ImageURL == "" {
			it.ImageURL = ch.ImageURL
		}

		// Both passes walk items in document order, so indexes line up.
		if i < len(ns.items) {
			sc := ns.items[i]
			it.ChaptersURL = sc.chaptersURL
			it.ChaptersType = sc.chaptersType
			it.Episode = sc.episode
			it.EpisodeTitle = sc.episodeTitle
			if sc.value != nil {
				it.Value = sc.value
				it.OwnValue = true
			}
		}
		// An item block replaces the channel block outright; the two are never merged.
		if it.Value == nil {
			it.Value = ch.Value
		}

		items = append(items, it)
	}

	return &Parsed{Channel: ch, Items: items}, nil
}

// ParseDuration reads itunes-style durations: "HH:MM:SS", "MM:SS", or
// plain (possibly fractional) seconds. Unreadable values are 0.
func ParseDuration(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	total := 0
	for _, part := range strings.Split(s, ":") {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil || f < 0 {
			return 0
		}
		total = total*60 + int(f)
	}
	return total
}

func pickEnclosure(encs []*gofeed.Enclosure) *gofeed.Enclosure {
	var first *gofeed.Enclosure
	for _, e := range encs {
		if e == nil || strings.TrimSpace(e.URL) == "" {
			continue
		}
		if first == nil {
			first = e
		}
		if strings.HasPrefix(e.Type, "audio/") {
			return e
		}
	}
	return first
}

func parseExplicit(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "true", "explicit":
		return true
	}
	return false
}

func personName(p *gofeed.Person, ps []*gofeed.Person) string {
	if p != nil && strings.TrimSpace(p.Name) != "" {
		return strings.TrimSpace(p.Name)
	}
	for _, p := range ps {
		if p != nil && strings.TrimSpace(p.Name) != "" {
			return strings.TrimSpace(p.Name)
		}
	}
	return ""
}

var stripPolicy = bluemonday.StrictPolicy()

// Removes all html tags from the string, usually a description.
//
// Also limits the length of the string so there's not a massive chunk of text being output.
func sanitize(s string) string {
	s = strings.TrimSpace(s)
	s = stripPolicy.Sanitize(s)
	return truncate(s, maxDescription)
}

const maxDescription = 2048

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}
