// Package services ties the extractor registry to callers: it turns a server
// reference into exactly one playable descriptor or a typed failure.
package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
)

// Selector picks the one extractor responsible for a URL.
// *registry.ExtractorRegistry implements it.
type Selector interface {
	Get(url string) interfaces.Extractor
}

// ExtractionService implements extractStream.
type ExtractionService struct {
	log      *logging.Logger
	registry Selector
	timeout  time.Duration
}

// NewExtractionService creates a new extraction service. timeout bounds one
// extraction; zero means no bound beyond the caller's context.
func NewExtractionService(log *logging.Logger, registry Selector, timeout time.Duration) *ExtractionService {
	return &ExtractionService{
		log:      log.WithComponent("extraction-service"),
		registry: registry,
		timeout:  timeout,
	}
}

// Extract returns a playable descriptor for ref. A reference that already
// carries a playable descriptor is returned without network access. Otherwise
// exactly one extractor is selected and its result is final.
func (s *ExtractionService) Extract(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error) {
	if ref == nil {
		return nil, types.NewNoStreamError("", "empty server reference")
	}
	if ref.Stream.Playable() {
		s.log.Debug("using pre-known descriptor", "url", ref.URL, "name", ref.Name)
		return ref.Stream, nil
	}

	target := *ref
	target.URL = DecodeURL(ref.URL)
	if target.URL == "" {
		return nil, types.NewNoStreamError(ref.URL, "empty reference URL")
	}

	extractor := s.registry.Get(target.URL)
	if extractor == nil {
		return nil, types.NewNoStreamError(target.URL, "no extractor registered")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.log.Debug("using extractor", "name", extractor.Name(), "url", target.URL)

	desc, err := extractor.Extract(ctx, &target)
	if err != nil {
		s.log.WithDuration(time.Since(start)).Debug("extraction failed", "extractor", extractor.Name(), "url", target.URL, "error", err)
		if errors.Is(err, types.ErrNoStreamFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s via %s: %v", types.ErrNoStreamFound, target.URL, extractor.Name(), err)
	}
	if !desc.Playable() {
		return nil, types.NewNoStreamError(target.URL, extractor.Name()+" returned an empty source")
	}
	if desc.Extractor == "" {
		desc.Extractor = extractor.Name()
	}

	s.log.WithDuration(time.Since(start)).Debug("stream extracted", "extractor", desc.Extractor, "url", target.URL, "source", desc.Source)
	return desc, nil
}

// DecodeURL accepts a plain, query-escaped or base64-encoded URL. An
// absolute http(s) URL is returned as given, escapes included.
func DecodeURL(urlStr string) string {
	urlStr = strings.TrimSpace(urlStr)
	if urlStr == "" || isHTTP(urlStr) {
		return urlStr
	}

	if decoded, err := url.QueryUnescape(urlStr); err == nil && isHTTP(decoded) {
		return decoded
	}

	padded := urlStr
	switch len(urlStr) % 4 {
	case 2:
		padded += "=="
	case 3:
		padded += "="
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding} {
		if decoded, err := enc.DecodeString(padded); err == nil && isHTTP(string(decoded)) {
			return string(decoded)
		}
	}

	return urlStr
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
