package extractors

import (
	"context"
	"net/url"
	"path"
	"strings"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
)

var directExtensions = []string{".m3u8", ".mpd", ".mp4", ".mkv", ".webm", ".ts"}

// DirectExtractor passes through references that already point at media.
// It makes no request.
type DirectExtractor struct{}

// NewDirectExtractor creates the pass-through extractor.
func NewDirectExtractor() *DirectExtractor {
	return &DirectExtractor{}
}

func (e *DirectExtractor) Name() string    { return "direct" }
func (e *DirectExtractor) Hosts() []string { return nil }
func (e *DirectExtractor) Close() error    { return nil }

// MatchesURL reports whether the URL path ends in a media extension.
func (e *DirectExtractor) MatchesURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, d := range directExtensions {
		if ext == d {
			return true
		}
	}
	return false
}

// Extract returns the reference URL with the reference's own headers.
func (e *DirectExtractor) Extract(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error) {
	headers := RequestHeaders(ref)
	if headers["User-Agent"] == "" {
		headers["User-Agent"] = types.DefaultUserAgent
	}
	return &types.StreamDescriptor{
		Source:    ref.URL,
		Headers:   headers,
		Extractor: e.Name(),
	}, nil
}

var _ interfaces.Extractor = (*DirectExtractor)(nil)
