package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"

	"github.com/PuerkitoBio/goquery"
)

const maxRedirects = 10

// Client issues requests against one provider's resolved base address.
// It is rebuilt by every Resolve.
type Client struct {
	r    *Resolver
	base string
}

// BaseURL returns the address this client was built for.
func (c *Client) BaseURL() string {
	return c.base
}

// URL resolves a path (or absolute URL) against the base address.
func (c *Client) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.base + path
}

// Get fetches path, following redirects itself. A redirect that leaves the
// provider's host is still followed, but the new host is captured and a
// background refresh is scheduled.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) (*http.Response, error) {
	target := c.URL(path)

	for i := 0; i <= maxRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", types.DefaultUserAgent)
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.r.do(req, false)
		if err != nil {
			return nil, err
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode < 300 || resp.StatusCode >= 400 || location == "" {
			return resp, nil
		}
		resp.Body.Close()

		next := urlutil.ResolveURL(location, target)
		if urlutil.SameHost(target, c.base) && !urlutil.SameHost(next, c.base) {
			c.r.noteDrift(next)
		}
		target = next
	}

	return nil, fmt.Errorf("too many redirects fetching %s", c.URL(path))
}

// GetDocument fetches path and parses it as HTML.
func (c *Client) GetDocument(ctx context.Context, path string, headers map[string]string) (*goquery.Document, error) {
	resp, err := c.Get(ctx, path, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", c.URL(path), resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", c.URL(path), err)
	}
	doc.Url = resp.Request.URL
	return doc, nil
}
