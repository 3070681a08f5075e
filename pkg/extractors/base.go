// Package extractors provides the stream extraction strategies.
// Host-specific extractors handle one hosting platform each; the drill-down
// extractor is the generic catch-all that follows embedded documents.
//
// To add a new extractor:
// 1. Create a new file (e.g., myplatform.go)
// 2. Implement the Extractor interface
// 3. Register it in the registry (see internal/app)
package extractors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"stream-resolver-go/pkg/challenge"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

// Challenger solves interstitials and knows which bodies look like one.
// *challenge.Engine implements it.
type Challenger interface {
	interfaces.ChallengeSolver
	PolicyFor(url string) challenge.Policy
}

// Document is a fetched (or rendered) page.
type Document struct {
	URL      string // URL requested; becomes the Referer of anything found in it
	FinalURL string // URL after redirects; relative references resolve against it
	Body     string
	Cookies  []*http.Cookie
	Rendered bool
}

// BaseExtractor provides common functionality for extractors.
type BaseExtractor struct {
	client     interfaces.HTTPClient
	challenger Challenger
	log        *logging.Logger
}

// NewBaseExtractor creates a new base extractor. challenger may be nil, in
// which case challenged documents are returned as fetched.
func NewBaseExtractor(client interfaces.HTTPClient, challenger Challenger, log *logging.Logger) *BaseExtractor {
	return &BaseExtractor{
		client:     client,
		challenger: challenger,
		log:        log,
	}
}

// Close releases resources.
func (b *BaseExtractor) Close() error {
	return nil
}

// DoRequest performs an HTTP request with the given headers.
func (b *BaseExtractor) DoRequest(ctx context.Context, method, urlStr string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, nil)
	if err != nil {
		return nil, err
	}

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", types.DefaultUserAgent)
	}

	return b.client.Do(req)
}

// FetchDocument fetches urlStr. A response that looks like an interstitial
// (403/503 or a challenge marker in the body) is handed to the challenge
// engine and the rendered DOM is returned instead. When the engine gives up
// but has a partial DOM, that DOM is used.
func (b *BaseExtractor) FetchDocument(ctx context.Context, urlStr string, headers map[string]string) (*Document, error) {
	resp, err := b.DoRequest(ctx, http.MethodGet, urlStr, headers)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", urlStr, err)
	}

	finalURL := urlStr
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	status := resp.StatusCode
	cookies := resp.Cookies()

	body, err := httpclient.ReadBody(resp)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", urlStr, err)
	}

	doc := &Document{URL: urlStr, FinalURL: finalURL, Body: body, Cookies: cookies}

	if !b.looksChallenged(urlStr, status, body) {
		if status >= 400 {
			return nil, fmt.Errorf("fetching %s: status %d", urlStr, status)
		}
		return doc, nil
	}

	if b.challenger == nil {
		if status >= 400 {
			return nil, fmt.Errorf("fetching %s: status %d (challenge, no solver)", urlStr, status)
		}
		return doc, nil
	}

	b.log.Debug("document is challenged, rendering", "url", urlStr, "status", status)

	rendered, err := b.challenger.Solve(ctx, urlStr, headers)
	if err != nil {
		partial, ok := challenge.PartialDocument(err)
		if !ok || errors.Is(err, types.ErrChallengeCancelled) {
			return nil, err
		}
		b.log.WithError(err).Info("challenge unsolved, continuing with partial DOM", "url", urlStr)
		rendered = partial
	}

	return &Document{
		URL:      urlStr,
		FinalURL: rendered.URL,
		Body:     rendered.HTML,
		Cookies:  rendered.Cookies,
		Rendered: true,
	}, nil
}

func (b *BaseExtractor) looksChallenged(urlStr string, status int, body string) bool {
	if challenge.IsChallengeStatus(status) {
		return true
	}
	if b.challenger == nil {
		return challenge.DefaultPolicy().LooksChallenged(body)
	}
	return b.challenger.PolicyFor(urlStr).LooksChallenged(body)
}

// RequestHeaders builds the headers sent when fetching a reference: the
// reference's own hints plus its cookies.
func RequestHeaders(ref *types.ServerReference) map[string]string {
	headers := make(map[string]string, len(ref.Headers)+1)
	for k, v := range ref.Headers {
		headers[k] = v
	}
	if len(ref.Cookies) > 0 {
		parts := make([]string, 0, len(ref.Cookies))
		for _, c := range ref.Cookies {
			parts = append(parts, c.Name+"="+c.Value)
		}
		headers["Cookie"] = strings.Join(parts, "; ")
	}
	return headers
}

// StreamHeaders are the transport headers a descriptor found in a document
// needs to be playable on its own.
func StreamHeaders(referer string) map[string]string {
	return map[string]string{
		"Referer":    referer,
		"User-Agent": types.DefaultUserAgent,
	}
}
