package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
)

// The podcast namespace has been published under a couple of URLs over the
// years (podcastindex.org and the GitHub podcast-namespace docs), and plenty
// of feeds use the prefix without declaring it at all.
func isPodcast(n xml.Name) bool {
	if n.Space == "podcast" {
		return true
	}
	space := strings.ToLower(n.Space)
	return strings.Contains(space, "podcastindex") || strings.Contains(space, "podcast-namespace")
}

const (
	atomNS = "http://www.w3.org/2005/Atom"
	rss1NS = "http://purl.org/rss/1.0/"
)

func isItem(n xml.Name) bool {
	switch n.Local {
	case "item":
		return n.Space == "" || n.Space == rss1NS
	case "entry":
		return n.Space == atomNS || n.Space == ""
	}
	return false
}

type (
	podcastScan struct {
		guid        string
		medium      string
		value       *v4v.Raw
		remoteItems []kraft.RemoteItemRef
		episodes    []EpisodeMarker
		publisher   *kraft.RemoteItemRef
		items       []itemScan
	}

	itemScan struct {
		value        *v4v.Raw
		chaptersURL  string
		chaptersType string
		episode      int
		episodeTitle string
	}

	remoteItemElem struct {
		FeedGUID string `xml:"feedGuid,attr"`
		ItemGUID string `xml:"itemGuid,attr"`
		FeedURL  string `xml:"feedUrl,attr"`
		Medium   string `xml:"medium,attr"`
	}

	txtElem struct {
		Purpose string `xml:"purpose,attr"`
		Text    string `xml:",chardata"`
	}

	chaptersElem struct {
		URL  string `xml:"url,attr"`
		Type string `xml:"type,attr"`
	}
)

// scanPodcast walks the document once in order, collecting the podcast
// namespace elements gofeed leaves as untyped extensions. Order matters here:
// remote item positions and episode boundaries both come from where an
// element sits relative to its siblings.
func scanPodcast(data []byte) (*podcastScan, error) {
	d := xml.NewDecoder(bytes.NewReader(data))
	d.Strict = false
	d.Entity = xml.HTMLEntity
	d.CharsetReader = charset.NewReaderLabel

	var (
		sc      = &podcastScan{}
		stack   []string
		cur     *itemScan
		episode = -1
		epTitle string
	)
	parent := func() string {
		if len(stack) == 0 {
			return ""
		}
		return stack[len(stack)-1]
	}
	atChannel := func() bool {
		p := parent()
		return cur == nil && (p == "channel" || p == "feed")
	}

	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading podcast namespace: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if isItem(t.Name) && cur == nil {
				cur = &itemScan{episode: episode, episodeTitle: epTitle}
				stack = append(stack, t.Name.Local)
				continue
			}

			if !isPodcast(t.Name) {
				stack = append(stack, t.Name.Local)
				continue
			}

			switch t.Name.Local {
			case "value":
				var raw v4v.Raw
				if err := d.DecodeElement(&raw, &t); err != nil {
					return nil, fmt.Errorf("error decoding podcast:value: %w", err)
				}
				switch {
				case cur != nil && cur.value == nil:
					cur.value = &raw
				case atChannel() && sc.value == nil:
					sc.value = &raw
				}

			case "remoteItem":
				var el remoteItemElem
				if err := d.DecodeElement(&el, &t); err != nil {
					return nil, fmt.Errorf("error decoding podcast:remoteItem: %w", err)
				}
				ref := kraft.RemoteItemRef{
					FeedGUID: strings.TrimSpace(el.FeedGUID),
					ItemGUID: strings.TrimSpace(el.ItemGUID),
					FeedURL:  strings.TrimSpace(el.FeedURL),
					Medium:   strings.TrimSpace(el.Medium),
				}
				switch {
				case parent() == "publisher" && cur == nil:
					if sc.publisher == nil {
						ref.Episode = -1
						sc.publisher = &ref
					}
				case atChannel():
					ref.Position = len(sc.remoteItems)
					ref.Episode = episode
					sc.remoteItems = append(sc.remoteItems, ref)
				}

			case "txt":
				var el txtElem
				if err := d.DecodeElement(&el, &t); err != nil {
					return nil, fmt.Errorf("error decoding podcast:txt: %w", err)
				}
				if atChannel() && strings.EqualFold(strings.TrimSpace(el.Purpose), "episode") {
					episode = len(sc.episodes)
					epTitle = strings.TrimSpace(el.Text)
					sc.episodes = append(sc.episodes, EpisodeMarker{
						Index:    episode,
						Title:    epTitle,
						Position: len(sc.remoteItems),
					})
				}

			case "chapters":
				var el chaptersElem
				if err := d.DecodeElement(&el, &t); err != nil {
					return nil, fmt.Errorf("error decoding podcast:chapters: %w", err)
				}
				if cur != nil && cur.chaptersURL == "" {
					cur.chaptersURL = strings.TrimSpace(el.URL)
					cur.chaptersType = strings.TrimSpace(el.Type)
				}

			case "guid", "medium":
				var text string
				if err := d.DecodeElement(&text, &t); err != nil {
					return nil, fmt.Errorf("error decoding podcast:%s: %w", t.Name.Local, err)
				}
				if !atChannel() {
					continue
				}
				if t.Name.Local == "guid" {
					sc.guid = strings.TrimSpace(text)
				} else {
					sc.medium = strings.ToLower(strings.TrimSpace(text))
				}

			case "valueTimeSplit":
				// Time splits carry their own remote items and recipients,
				// which belong to a time range and not to the item or playlist.
				if err := d.Skip(); err != nil {
					return nil, fmt.Errorf("error skipping podcast:valueTimeSplit: %w", err)
				}

			default:
				stack = append(stack, t.Name.Local)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			stack = stack[:len(stack)-1]
			if isItem(t.Name) && cur != nil {
				sc.items = append(sc.items, *cur)
				cur = nil
			}
		}
	}

	return sc, nil
}
