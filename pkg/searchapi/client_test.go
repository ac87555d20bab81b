package searchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	want := searchResponse{
		Code: 200,
		Data: []Result{
			{Title: "Rose Bakery", URL: "https://rosebakery.com", Snippet: "Fresh bread daily"},
			{Title: "Elm Deli", URL: "https://elmdeli.com", Snippet: "Sandwiches and more"},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		// The query lands as one form-encoded path segment.
		assert.Equal(t, "/bakery+Portland+OR", r.URL.EscapedPath())

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "bakery", WithLocation("Portland OR"))

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Rose Bakery", got[0].Title)
	assert.Equal(t, "https://elmdeli.com", got[1].URL)
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"no results"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "nonexistent query")

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearch_RetriesTransientFailure(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(searchResponse{Code: 200, Data: []Result{{Title: "Rose Bakery"}}})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithSearchBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "bakery")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestFetch_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "markdown", r.Header.Get("X-Return-Format"))
		assert.Equal(t, "/https://rosebakery.com/contact", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(fetchResponse{
			Code: 200,
			Data: Page{
				Title:   "Contact Us",
				URL:     "https://rosebakery.com/contact",
				Content: "# Contact\n\nrose@rosebakery.com",
			},
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithReaderBaseURL(srv.URL))
	got, err := client.Fetch(context.Background(), "https://rosebakery.com/contact")

	require.NoError(t, err)
	assert.Equal(t, "Contact Us", got.Title)
	assert.Contains(t, got.Content, "rose@rosebakery.com")
}

func TestFetch_ClientError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`not found`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithReaderBaseURL(srv.URL))
	_, err := client.Fetch(context.Background(), "https://rosebakery.com/missing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetch_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithReaderBaseURL(srv.URL))
	_, err := client.Fetch(context.Background(), "https://rosebakery.com")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}
