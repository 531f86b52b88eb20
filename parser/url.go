package parser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"
)

// fetchTimeout bounds the whole URL fetch, redirects included.
const fetchTimeout = 10 * time.Second

// browserUA spares us the 403s some sites return to non-browser agents.
const browserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var urlClient = &http.Client{Timeout: fetchTimeout}

// ParseURL fetches rawURL and extracts the readable article text and
// title. When no title can be determined the URL itself stands in.
func ParseURL(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %q: %w", rawURL, err)
	}
	req.Header.Set("User-Agent", browserUA)

	resp, err := urlClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %q: HTTP %d", rawURL, resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return nil, fmt.Errorf("extracting article from %q: %w", rawURL, err)
	}

	title := article.Title
	if title == "" {
		title = rawURL
	}
	return &Result{
		Text:  article.TextContent,
		Title: title,
		Meta: map[string]string{
			"source_type": TypeURL,
			"url":         rawURL,
		},
	}, nil
}
