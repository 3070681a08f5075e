// Package interfaces defines the core abstractions of the resolution engine.
// Extractors, renderers and stores implement these interfaces so the engine
// never depends on a concrete provider, browser or database.
package interfaces

import (
	"context"
	"net/http"

	"stream-resolver-go/pkg/types"
)

// Extractor turns a server reference into a playable stream descriptor.
//
// To add a new extractor:
// 1. Create a new file in pkg/extractors/
// 2. Implement this interface
// 3. Register it in the ExtractorRegistry (see internal/app)
type Extractor interface {
	// Name returns a unique identifier for this extractor.
	Name() string

	// Hosts returns the host patterns this extractor is selected for.
	// "mixdrop.co" matches the host and its subdomains; "mixdrop.*" matches any TLD.
	Hosts() []string

	// Extract resolves the reference to a stream descriptor.
	Extract(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// ChallengeSolver renders a challenged page until it clears.
type ChallengeSolver interface {
	Solve(ctx context.Context, url string, headers map[string]string) (*types.RenderedDocument, error)
}

// Renderer is a script-executing document renderer owned by one solve call.
type Renderer interface {
	// Load navigates to the URL with the given request headers.
	Load(ctx context.Context, url string, headers map[string]string) error

	// HTML returns the live DOM serialized as a string.
	HTML(ctx context.Context) (string, error)

	// Cookies returns the cookies currently visible to the page.
	Cookies(ctx context.Context) ([]*http.Cookie, error)

	// URL returns the page's current location.
	URL(ctx context.Context) (string, error)

	// Viewport returns the page size in CSS pixels.
	Viewport() (width, height float64)

	// Interactive reports whether Tap and Screenshot are supported.
	Interactive() bool

	// Tap synthesizes a pointer-down, move and pointer-up at the point.
	Tap(ctx context.Context, at types.Point) error

	// Screenshot returns a PNG of the visible page.
	Screenshot(ctx context.Context) ([]byte, error)

	// Close tears the renderer down. It must be safe to call more than once.
	Close() error
}

// RendererFactory creates one renderer per solve call.
type RendererFactory interface {
	NewRenderer(ctx context.Context) (Renderer, error)
}

// Store is the persisted key/value store keyed by provider name.
// Reads and writes are synchronous from the caller's point of view.
type Store interface {
	Get(provider, key string) (string, bool)
	Set(provider, key, value string) error
	Close() error
}

// HTTPClient abstracts HTTP operations for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Transport is the network surface the endpoint resolver needs: redirect
// exposure and a certificate-validation-disabled variant of each call.
type Transport interface {
	HTTPClient
	DoNoRedirect(req *http.Request) (*http.Response, error)
	DoInsecure(req *http.Request) (*http.Response, error)
	DoInsecureNoRedirect(req *http.Request) (*http.Response, error)
}

// Logger defines the logging interface used throughout the application.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
