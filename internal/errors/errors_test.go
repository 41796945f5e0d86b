package errors_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	krafterrs "github.com/ChadFarrow/stablekraft-app-sub011/internal/errors"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/kraft"
)

func TestEConstructor(t *testing.T) {
	got := krafterrs.E(
		"something went wrong",
		krafterrs.Detail{Field: "url", Error: "was bad"},
		http.StatusBadRequest,
	)
	want := &krafterrs.Error{
		Err: errors.New("something went wrong"),
		Details: []krafterrs.Detail{
			{Field: "url", Error: "was bad"},
		},
		Status: http.StatusBadRequest,
	}

	assert.Equal(t, want, got)
}

func TestJSONRoundTrip(t *testing.T) {
	byts, err := json.Marshal(krafterrs.E(http.StatusConflict, "already exists"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"already exists","details":null,"status":409}`, string(byts))

	var got krafterrs.Error
	require.NoError(t, json.Unmarshal(byts, &got))
	assert.Equal(t, http.StatusConflict, got.Status)
	assert.EqualError(t, got.Err, "already exists")
}

func TestFromDomain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("error getting playlist: %w", kraft.ErrNotFound), http.StatusNotFound},
		{"resolution not found", fmt.Errorf("episode a/b: %w", kraft.ErrResolutionNotFound), http.StatusNotFound},
		{"conflict", kraft.ErrConflict, http.StatusConflict},
		{"parse", &kraft.ParseError{URL: "https://example.com/feed.xml", Err: errors.New("EOF")}, http.StatusUnprocessableEntity},
		{"transport", &kraft.TransportError{URL: "https://example.com/feed.xml", StatusCode: 503}, http.StatusBadGateway},
		{"structured", fmt.Errorf("wrapped: %w", krafterrs.E(http.StatusTeapot, "short and stout")), http.StatusTeapot},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := krafterrs.FromDomain(tt.err)
			assert.Equal(t, tt.want, got.Status)
		})
	}

	assert.EqualError(t, krafterrs.FromDomain(errors.New("disk on fire")).Err, "internal server error")
}
