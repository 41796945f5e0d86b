// Package index is a client for the Podcast Index API, used to look up
// feeds and episodes that are referenced by guid but not stored locally.
package index

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/metrics"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/v4v"
)

const DefaultBaseURL = "https://api.podcastindex.org/api/1.0"

// ErrMissingCredentials is a configuration error; nothing can be resolved
// without an api key and secret.
var ErrMissingCredentials = errors.New("podcast index api key and secret are required")

type Config struct {
	BaseURL   string
	APIKey    string
	APISecret string
	UserAgent string
	Timeout   time.Duration
	Retries   uint64
}

type Client struct {
	base      string
	key       string
	secret    string
	userAgent string
	retries   uint64
	client    *http.Client

	now func() time.Time
}

func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "StableKraft/1.0"
	}

	return &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		key:       cfg.APIKey,
		secret:    cfg.APISecret,
		userAgent: cfg.UserAgent,
		retries:   cfg.Retries,
		client:    &http.Client{Timeout: cfg.Timeout},
		now:       time.Now,
	}, nil
}

type (
	FeedMetadata struct {
		GUID        string
		Title       string
		Author      string
		URL         string
		ImageURL    string
		Description string
		Medium      string
		Value       *v4v.Raw
	}

	EpisodeMetadata struct {
		GUID        string
		FeedGUID    string
		FeedTitle   string
		Title       string
		AudioURL    string
		AudioType   string
		ImageURL    string
		Duration    int
		PublishedAt *time.Time
		Value       *v4v.Raw
	}
)

type feedResponse struct {
	Status string          `json:"status"`
	Feed   json.RawMessage `json:"feed"`
}

type feedBody struct {
	PodcastGUID string   `json:"podcastGuid"`
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	URL         string   `json:"url"`
	Image       string   `json:"image"`
	Artwork     string   `json:"artwork"`
	Description string   `json:"description"`
	Medium      string   `json:"medium"`
	Value       *v4v.Raw `json:"value"`
}

// LookupFeedByGUID fetches a feed's metadata. A feed the index doesn't know
// is kraft.ErrResolutionNotFound.
func (c *Client) LookupFeedByGUID(ctx context.Context, feedGUID string) (FeedMetadata, error) {
	q := url.Values{"guid": {feedGUID}}

	var resp feedResponse
	if err := c.get(ctx, "podcasts/byguid", q, &resp); err != nil {
		return FeedMetadata{}, err
	}

	var body feedBody
	if !decodeObject(resp.Feed, &body) {
		return FeedMetadata{}, fmt.Errorf("feed %s: %w", feedGUID, kraft.ErrResolutionNotFound)
	}

	guid := body.PodcastGUID
	if guid == "" {
		guid = feedGUID
	}
	return FeedMetadata{
		GUID:        guid,
		Title:       strings.TrimSpace(body.Title),
		Author:      strings.TrimSpace(body.Author),
		URL:         strings.TrimSpace(body.URL),
		ImageURL:    firstNonEmpty(body.Artwork, body.Image),
		Description: strings.TrimSpace(body.Description),
		Medium:      strings.TrimSpace(body.Medium),
		Value:       body.Value,
	}, nil
}

type episodeResponse struct {
	Status  string          `json:"status"`
	Episode json.RawMessage `json:"episode"`
}

type episodeBody struct {
	GUID          string   `json:"guid"`
	Title         string   `json:"title"`
	EnclosureURL  string   `json:"enclosureUrl"`
	EnclosureType string   `json:"enclosureType"`
	Duration      *int     `json:"duration"`
	DatePublished int64    `json:"datePublished"`
	Image         string   `json:"image"`
	FeedImage     string   `json:"feedImage"`
	FeedTitle     string   `json:"feedTitle"`
	PodcastGUID   string   `json:"podcastGuid"`
	Value         *v4v.Raw `json:"value"`
}

// LookupEpisode fetches one item of a feed. An item with no enclosure can't be
// played, so it is reported as not found along with items the index lacks.
func (c *Client) LookupEpisode(ctx context.Context, feedGUID, itemGUID string) (EpisodeMetadata, error) {
	q := url.Values{"guid": {itemGUID}, "feedguid": {feedGUID}}

	var resp episodeResponse
	if err := c.get(ctx, "episodes/byguid", q, &resp); err != nil {
		return EpisodeMetadata{}, err
	}

	var body episodeBody
	if !decodeObject(resp.Episode, &body) || strings.TrimSpace(body.EnclosureURL) == "" {
		return EpisodeMetadata{}, fmt.Errorf("episode %s/%s: %w", feedGUID, itemGUID, kraft.ErrResolutionNotFound)
	}

	ep := EpisodeMetadata{
		GUID:      firstNonEmpty(body.GUID, itemGUID),
		FeedGUID:  firstNonEmpty(body.PodcastGUID, feedGUID),
		FeedTitle: strings.TrimSpace(body.FeedTitle),
		Title:     strings.TrimSpace(body.Title),
		AudioURL:  strings.TrimSpace(body.EnclosureURL),
		AudioType: strings.TrimSpace(body.EnclosureType),
		ImageURL:  firstNonEmpty(body.Image, body.FeedImage),
		Value:     body.Value,
	}
	if body.Duration != nil && *body.Duration > 0 {
		ep.Duration = *body.Duration
	}
	if body.DatePublished > 0 {
		t := time.Unix(body.DatePublished, 0).UTC()
		ep.PublishedAt = &t
	}
	return ep, nil
}

// The index answers a miss with an empty array (or nothing) where the object
// would be.
func decodeObject(raw json.RawMessage, v any) bool {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	start := time.Now()
	defer metrics.ObserveSince(metrics.IndexRequestDuration.WithLabelValues(endpoint), start)

	u := c.base + "/" + endpoint + "?" + q.Encode()

	return retry.Do(ctx, retry.WithMaxRetries(c.retries, retry.NewExponential(250*time.Millisecond)), func(ctx context.Context) error {
		err := c.getOnce(ctx, u, out)
		var te *kraft.TransportError
		if errors.As(err, &te) && te.Retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) getOnce(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("error building index request: %w", err)
	}
	c.sign(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return &kraft.TransportError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", u, kraft.ErrResolutionNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &kraft.TransportError{URL: u, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &kraft.TransportError{URL: u, Err: err}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error decoding index response: %w", err)
	}

	return nil
}

// sign adds the index's auth headers: the key, the unix time, and the sha1
// of key+secret+time.
func (c *Client) sign(req *http.Request) {
	date := strconv.FormatInt(c.now().Unix(), 10)
	sum := sha1.Sum([]byte(c.key + c.secret + date))

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Auth-Key", c.key)
	req.Header.Set("X-Auth-Date", date)
	req.Header.Set("Authorization", hex.EncodeToString(sum[:]))
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
