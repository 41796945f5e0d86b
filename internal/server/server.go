// Package server is the public HTTP api over the catalog.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "github.com/ChadFarrow/stablekraft-app-sub011/api/v1"
	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/ingest"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/publisher"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/serverutil"
)

type (
	Playlists interface {
		Get(ctx context.Context, id string) (playlist.Playlist, error)
		Invalidate(ctx context.Context, id string) error
	}

	Ingester interface {
		AddFeed(ctx context.Context, url string) (ingest.Result, error)
		SyncFeed(ctx context.Context, feedID string) (ingest.Result, error)
	}

	Store interface {
		Track(ctx context.Context, id string) (kraft.Track, error)
		AllFeeds(ctx context.Context) ([]kraft.Feed, error)
	}
)

type (
	// Server is the HTTP portion serving the public API.
	Server struct {
		*http.Server

		playlists Playlists
		ingest    Ingester
		store     Store
	}

	// Config holds all of the different options for making a
	// server.
	Config struct {
		Port       int
		CorsOrigin string
		// WriteTimeout has to cover a full feed sync.
		WriteTimeout time.Duration
	}
)

func New(config Config, playlists Playlists, ingester Ingester, store Store) *Server {
	if config.CorsOrigin == "" {
		config.CorsOrigin = "*"
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = time.Minute
	}

	r := serverutil.ErrRouter{Router: mux.NewRouter()}
	srvr := &Server{
		playlists: playlists,
		ingest:    ingester,
		store:     store,
		Server: &http.Server{
			Addr:         fmt.Sprintf(":%d", config.Port),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: config.WriteTimeout,
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFuncE("/healthz", srvr.getHealth).Methods(http.MethodGet)

	// Playlists
	r.HandleFuncE("/api/playlists/{id}", srvr.getPlaylist).Methods(http.MethodGet)
	r.HandleFuncE("/api/playlists/{id}/raw", srvr.getPlaylistRaw).Methods(http.MethodGet)
	r.HandleFuncE("/api/playlists/{id}/rebuild", srvr.postPlaylistRebuild).Methods(http.MethodPost)

	// Feeds and tracks
	r.HandleFuncE("/api/feeds", srvr.postFeeds).Methods(http.MethodPost)
	r.HandleFuncE("/api/feeds/{id}/sync", srvr.postFeedSync).Methods(http.MethodPost)
	r.HandleFuncE("/api/tracks/{id}", srvr.getTrack).Methods(http.MethodGet)

	// Publisher directory
	r.HandleFuncE("/api/publishers", srvr.getPublishers).Methods(http.MethodGet)
	r.HandleFuncE("/api/publishers/{slug}", srvr.getPublisher).Methods(http.MethodGet)

	slog.Debug("configured server", "port", config.Port)

	return srvr
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) error {
	return serverutil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Players only ever see playable tracks; the per-item outcomes live on /raw.
func (s *Server) getPlaylist(w http.ResponseWriter, r *http.Request) error {
	p, err := s.playlists.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return err
	}

	p.Items = nil
	return serverutil.WriteJSON(w, http.StatusOK, p)
}

func (s *Server) getPlaylistRaw(w http.ResponseWriter, r *http.Request) error {
	p, err := s.playlists.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, p)
}

// Drops the cached payload and kicks off a fresh build. The response is the
// placeholder; callers poll the playlist for the result.
func (s *Server) postPlaylistRebuild(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx = r.Context()
		id  = mux.Vars(r)["id"]
	)
	if err := s.playlists.Invalidate(ctx, id); err != nil {
		return fmt.Errorf("error invalidating playlist: %w", err)
	}

	p, err := s.playlists.Get(ctx, id)
	if err != nil {
		return err
	}

	p.Items = nil
	return serverutil.WriteJSON(w, http.StatusAccepted, p)
}

func (s *Server) postFeeds(w http.ResponseWriter, r *http.Request) error {
	req, err := serverutil.DecodeValid[v1.AddFeedRequest](r.Body)
	if err != nil {
		return err
	}

	res, err := s.ingest.AddFeed(r.Context(), req.URL)
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusCreated, res)
}

func (s *Server) postFeedSync(w http.ResponseWriter, r *http.Request) error {
	res, err := s.ingest.SyncFeed(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, ingest.ErrNoURL) {
		return krafterrs.E(http.StatusBadRequest, err)
	}
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, res)
}

func (s *Server) getTrack(w http.ResponseWriter, r *http.Request) error {
	t, err := s.store.Track(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, v1.TrackFrom(t))
}

func (s *Server) publishers(ctx context.Context) ([]publisher.Publisher, error) {
	feeds, err := s.store.AllFeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing feeds: %w", err)
	}
	return publisher.Extract(feeds), nil
}

func (s *Server) getPublishers(w http.ResponseWriter, r *http.Request) error {
	pubs, err := s.publishers(r.Context())
	if err != nil {
		return err
	}

	return serverutil.WriteJSON(w, http.StatusOK, pubs)
}

func (s *Server) getPublisher(w http.ResponseWriter, r *http.Request) error {
	pubs, err := s.publishers(r.Context())
	if err != nil {
		return err
	}

	p, ok := publisher.BySlug(pubs, mux.Vars(r)["slug"])
	if !ok {
		return krafterrs.E(http.StatusNotFound, "publisher not found")
	}

	return serverutil.WriteJSON(w, http.StatusOK, p)
}
