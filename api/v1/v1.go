// Package v1 holds the request and response bodies of the HTTP api.
package v1

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
)

type AddFeedRequest struct {
	URL string `json:"url"`
}

// Validate checks that the body (minus logic checks) is valid.
//
// Returns a 400 with per-field details if the request is invalid.
func (r AddFeedRequest) Validate() error {
	details := []krafterrs.Detail{}
	switch u, err := url.Parse(strings.TrimSpace(r.URL)); {
	case r.URL == "":
		details = append(details, krafterrs.Detail{Field: "url", Error: "url is required"})
	case err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "":
		details = append(details, krafterrs.Detail{Field: "url", Error: "url must be an absolute http(s) url"})
	}
	if len(details) > 0 {
		return krafterrs.E(http.StatusBadRequest, "request was invalid", details)
	}

	return nil
}

// Track is a stored track with its payment fields flattened for players.
type Track struct {
	ID          string     `json:"id"`
	FeedID      string     `json:"feedId"`
	GUID        string     `json:"guid,omitempty"`
	Title       string     `json:"title"`
	Artist      string     `json:"artist"`
	AudioURL    string     `json:"audioUrl"`
	Duration    int        `json:"duration"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	Playable    bool       `json:"playable"`
	HasV4V      bool       `json:"hasV4V"`
	// Primary is who a single-recipient payment goes to.
	Primary *v4v.Recipient `json:"primaryRecipient,omitempty"`
	V4V     *v4v.Value     `json:"v4vValue,omitempty"`
}

func TrackFrom(t kraft.Track) Track {
	out := Track{
		ID:          t.ID,
		FeedID:      t.FeedID,
		GUID:        t.GUIDString(),
		Title:       t.Title,
		Artist:      t.Artist,
		AudioURL:    t.AudioURL,
		Duration:    t.Duration,
		ImageURL:    t.ImageURL,
		PublishedAt: t.PublishedAt,
		Playable:    t.Playable(),
		HasV4V:      t.HasV4V(),
		V4V:         t.V4V,
	}
	if r, ok := v4v.PrimaryRecipient(t.V4V, t.V4VRecipient); ok {
		out.Primary = &r
	}
	return out
}
