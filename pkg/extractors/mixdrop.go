package extractors

import (
	"context"
	"regexp"
	"strings"

	"stream-resolver-go/pkg/deobfuscate"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

var mixdropWurlRe = regexp.MustCompile(`wurl\s*=\s*["']([^"']+)["']`)

// MixdropExtractor extracts streams from Mixdrop.
type MixdropExtractor struct {
	*BaseExtractor
	log *logging.Logger
}

// NewMixdropExtractor creates a new Mixdrop extractor.
func NewMixdropExtractor(client interfaces.HTTPClient, challenger Challenger, log *logging.Logger) *MixdropExtractor {
	log = log.WithComponent("mixdrop-extractor")
	return &MixdropExtractor{
		BaseExtractor: NewBaseExtractor(client, challenger, log),
		log:           log,
	}
}

// Name returns the extractor name.
func (e *MixdropExtractor) Name() string {
	return "mixdrop"
}

// Hosts returns the Mixdrop host patterns.
func (e *MixdropExtractor) Hosts() []string {
	return []string{"mixdrop.*", "mixdrp.*", "mixdroop.*"}
}

// Extract resolves a Mixdrop page to its MDCore.wurl stream.
func (e *MixdropExtractor) Extract(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error) {
	embedURL := mixdropEmbedURL(ref.URL)
	e.log.Debug("extracting Mixdrop stream", "url", embedURL)

	doc, err := e.FetchDocument(ctx, embedURL, RequestHeaders(ref))
	if err != nil {
		return nil, types.NewNoStreamError(ref.URL, err.Error())
	}

	source, ok := mixdropStreamURL(doc.Body)
	if !ok {
		return nil, types.NewNoStreamError(ref.URL, "wurl not found in page")
	}

	return &types.StreamDescriptor{
		Source:    urlutil.ResolveURL(source, doc.FinalURL),
		Headers:   StreamHeaders(embedURL),
		Subtitles: HarvestSubtitles(doc),
		Extractor: e.Name(),
	}, nil
}

// mixdropEmbedURL turns a file page into the embed page that carries the player.
func mixdropEmbedURL(u string) string {
	return strings.Replace(u, "/f/", "/e/", 1)
}

func mixdropStreamURL(body string) (string, bool) {
	texts := []string{body}
	for _, packed := range deobfuscate.FindPacked(body) {
		if unpacked, err := deobfuscate.UnpackScript(packed); err == nil {
			texts = append([]string{unpacked}, texts...)
		}
	}

	for _, text := range texts {
		if m := mixdropWurlRe.FindStringSubmatch(text); m != nil {
			return deobfuscate.NormalizeURL(m[1]), true
		}
	}
	for _, text := range texts {
		if u, ok := deobfuscate.FirstURL(text, deobfuscate.PlayerConfigPatterns); ok {
			return u, true
		}
	}
	return "", false
}

var _ interfaces.Extractor = (*MixdropExtractor)(nil)
