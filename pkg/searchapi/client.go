// Package searchapi provides a client for the reader/search HTTP API used
// for lead discovery and page fetching.
package searchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the discovery search and page fetch operations.
type Client interface {
	// Search runs a web search and returns ranked results.
	Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error)
	// Fetch retrieves a page and returns its markdown rendition.
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"description"`
}

// Page is a fetched page rendered as markdown.
type Page struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

type searchResponse struct {
	Code int      `json:"code"`
	Data []Result `json:"data"`
}

type fetchResponse struct {
	Code int  `json:"code"`
	Data Page `json:"data"`
}

// SearchOption configures a search request.
type SearchOption func(*searchOpts)

type searchOpts struct {
	site     string
	location string
}

// WithSite restricts results to a single domain.
func WithSite(domain string) SearchOption {
	return func(o *searchOpts) { o.site = domain }
}

// WithLocation biases results toward a geographic region.
func WithLocation(region string) SearchOption {
	return func(o *searchOpts) { o.location = region }
}

// Option configures the client.
type Option func(*httpClient)

// WithReaderBaseURL overrides the page fetch endpoint (for testing).
func WithReaderBaseURL(u string) Option {
	return func(c *httpClient) { c.readerBaseURL = u }
}

// WithSearchBaseURL overrides the search endpoint (for testing).
func WithSearchBaseURL(u string) Option {
	return func(c *httpClient) { c.searchBaseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.http = hc }
}

type httpClient struct {
	apiKey        string
	readerBaseURL string
	searchBaseURL string
	http          *http.Client
}

// NewClient creates a search API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:        apiKey,
		readerBaseURL: "https://r.jina.ai",
		searchBaseURL: "https://s.jina.ai",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable
}

// retryDo executes a request with exponential backoff on transient
// failures (429, 500, 502, 503). Returns the body and status code on
// success, or the last error after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		retryReq := req.Clone(ctx)

		resp, err := c.http.Do(retryReq)
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "searchapi: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("searchapi: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

func (c *httpClient) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	so := &searchOpts{}
	for _, opt := range opts {
		opt(so)
	}

	if so.location != "" {
		query = query + " " + so.location
	}
	reqURL := fmt.Sprintf("%s/%s", c.searchBaseURL, url.QueryEscape(query))
	if so.site != "" {
		reqURL += "?site=" + url.QueryEscape(so.site)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "searchapi: create search request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "searchapi: search request failed")
	}

	// The API answers 422 when the query matches nothing. Treat that as
	// an empty result set rather than an error.
	if statusCode == http.StatusUnprocessableEntity {
		return nil, nil
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("searchapi: search unexpected status %d: %s", statusCode, string(body))
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "searchapi: unmarshal search response")
	}
	return result.Data, nil
}

func (c *httpClient) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	reqURL := fmt.Sprintf("%s/%s", c.readerBaseURL, pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "searchapi: create fetch request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Return-Format", "markdown")

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "searchapi: fetch request failed")
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("searchapi: fetch unexpected status %d: %s", statusCode, string(body))
	}

	var result fetchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, eris.Wrap(err, "searchapi: unmarshal fetch response")
	}
	return &result.Data, nil
}
