// Package serverutil holds the pieces every HTTP surface shares: JSON
// bodies, request validation, access logging and error-returning handlers.
package serverutil

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/metrics"
)

// WriteJSON sends body with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		return fmt.Errorf("error encoding response body: %w", err)
	}
	return nil
}

// Validator is implemented by request bodies that check their own fields.
type Validator interface {
	Validate() error
}

// DecodeValid reads a V from the body and validates it. A body that is not
// JSON is a 400; validation errors are returned untouched.
func DecodeValid[V Validator](body io.Reader) (V, error) {
	var v V
	if err := json.NewDecoder(body).Decode(&v); err != nil {
		return v, krafterrs.E(http.StatusBadRequest, fmt.Errorf("error decoding request: %w", err))
	}
	return v, v.Validate()
}

// AccessLogMiddleware logs each request once it finishes and counts it
// under its route template, so ids don't explode the label set.
func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, routeOf(r), strconv.Itoa(rec.status)).Inc()
		slog.InfoContext(r.Context(), "request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"status_code", rec.status,
			"duration", time.Since(start),
		)
	})
}

func routeOf(r *http.Request) string {
	route := mux.CurrentRoute(r)
	if route == nil {
		return r.URL.Path
	}
	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return r.URL.Path
	}
	return tmpl
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// HandlerFuncE is an [http.HandlerFunc] that can fail. Errors are mapped
// with [krafterrs.FromDomain] and written back as JSON.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	resp := krafterrs.FromDomain(err)
	if resp.Status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "error handling request", "path", r.URL.Path, "error", err)
	}
	if err := WriteJSON(w, resp.Status, resp); err != nil {
		slog.ErrorContext(r.Context(), "error writing error response", "error", err)
	}
}

// ErrRouter lets HandlerFuncE values be mounted directly on a mux router.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}
