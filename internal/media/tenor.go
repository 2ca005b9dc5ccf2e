// Package media resolves a topic term to an illustrative clip URL.
package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound is returned when the search has no usable result. Callers
// treat it as "render without media", never as a failure.
var ErrNotFound = errors.New("media not found")

// Resolver looks up one clip URL for a term.
type Resolver interface {
	Resolve(ctx context.Context, term string) (string, error)
}

const DefaultTenorURL = "https://tenor.googleapis.com/v2/search"

// Tenor queries the Tenor v2 search API and returns the first result's
// medium GIF rendition.
type Tenor struct {
	endpoint      string
	apiKey        string
	contentFilter string
	httpClient    *http.Client
}

// NewTenor builds a Tenor resolver. An empty endpoint uses DefaultTenorURL;
// an empty contentFilter uses "medium".
func NewTenor(endpoint, apiKey, contentFilter string, httpClient *http.Client) *Tenor {
	if endpoint == "" {
		endpoint = DefaultTenorURL
	}
	if contentFilter == "" {
		contentFilter = "medium"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Tenor{endpoint: endpoint, apiKey: apiKey, contentFilter: contentFilter, httpClient: httpClient}
}

type tenorResponse struct {
	Results []struct {
		MediaFormats map[string]struct {
			URL string `json:"url"`
		} `json:"media_formats"`
	} `json:"results"`
}

func (t *Tenor) Resolve(ctx context.Context, term string) (string, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("key", t.apiKey)
	q.Set("limit", "1")
	q.Set("contentfilter", t.contentFilter)
	q.Set("media_filter", "mediumgif")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("media search %q: %w", term, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("media search %q HTTP %d: %s", term, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var res tenorResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", fmt.Errorf("decode media search: %w", err)
	}
	if len(res.Results) == 0 {
		return "", ErrNotFound
	}
	gif, ok := res.Results[0].MediaFormats["mediumgif"]
	if !ok || gif.URL == "" {
		return "", ErrNotFound
	}
	return gif.URL, nil
}

// Disabled resolves nothing. Used when no media API key is configured.
type Disabled struct{}

func (Disabled) Resolve(context.Context, string) (string, error) { return "", ErrNotFound }
