package extractors

import (
	"context"
	"strings"

	"stream-resolver-go/pkg/deobfuscate"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
)

// DefaultMaxDepth is the number of documents the drill-down fetches at most.
const DefaultMaxDepth = 4

// Search strategy names, in the order they are tried.
const (
	StrategyManifest     = "manifest-literal"
	StrategyPacked       = "packed-script"
	StrategyLayered      = "layered-assignment"
	StrategyPlayerConfig = "player-config"
)

// Match is a stream URL found in a document.
type Match struct {
	URL      string
	Strategy string
	Pattern  string
}

// SearchDocument looks for a stream URL in a document body: a manifest
// literal, then manifest literals inside packed scripts, then the layered
// assignment idiom, then player-config idioms. The result may be relative.
func SearchDocument(body string) (Match, bool) {
	if hits := deobfuscate.HarvestAll(body, deobfuscate.ManifestPatterns); len(hits) > 0 {
		return Match{URL: hits[0].URL, Strategy: StrategyManifest, Pattern: hits[0].Pattern}, true
	}

	texts := []string{body}
	for _, packed := range deobfuscate.FindPacked(body) {
		unpacked, err := deobfuscate.UnpackScript(packed)
		if err != nil {
			continue
		}
		if hits := deobfuscate.HarvestAll(unpacked, deobfuscate.ManifestPatterns); len(hits) > 0 {
			return Match{URL: hits[0].URL, Strategy: StrategyPacked, Pattern: hits[0].Pattern}, true
		}
		texts = append(texts, unpacked)
	}

	for _, text := range texts {
		if u, ok := deobfuscate.FindLayeredURL(text); ok {
			return Match{URL: u, Strategy: StrategyLayered}, true
		}
	}

	for _, text := range texts {
		if hits := deobfuscate.HarvestAll(text, deobfuscate.PlayerConfigPatterns); len(hits) > 0 {
			return Match{URL: hits[0].URL, Strategy: StrategyPlayerConfig, Pattern: hits[0].Pattern}, true
		}
	}

	return Match{}, false
}

// DrilldownExtractor is the generic catch-all: it searches a document and,
// when nothing matches, follows the first unvisited embedded frame.
type DrilldownExtractor struct {
	*BaseExtractor
	maxDepth int
	log      *logging.Logger
}

// NewDrilldownExtractor creates the drill-down extractor. maxDepth <= 0
// uses DefaultMaxDepth.
func NewDrilldownExtractor(client interfaces.HTTPClient, challenger Challenger, maxDepth int, log *logging.Logger) *DrilldownExtractor {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	log = log.WithComponent("drilldown-extractor")
	return &DrilldownExtractor{
		BaseExtractor: NewBaseExtractor(client, challenger, log),
		maxDepth:      maxDepth,
		log:           log,
	}
}

// Name returns the extractor name.
func (e *DrilldownExtractor) Name() string {
	return "drilldown"
}

// Hosts is empty; the drill-down is only ever the fallback.
func (e *DrilldownExtractor) Hosts() []string {
	return nil
}

// Extract drills into ref.URL.
func (e *DrilldownExtractor) Extract(ctx context.Context, ref *types.ServerReference) (*types.StreamDescriptor, error) {
	visited := make(map[string]bool)
	return e.drill(ctx, ref.URL, RequestHeaders(ref), 1, visited)
}

// drill fetches one document at the given depth (1 = the reference itself).
// Recursion is depth-first and sequential.
func (e *DrilldownExtractor) drill(ctx context.Context, urlStr string, headers map[string]string, depth int, visited map[string]bool) (*types.StreamDescriptor, error) {
	if depth > e.maxDepth {
		return nil, types.NewNoStreamError(urlStr, "maximum embedding depth reached")
	}
	visited[urlStr] = true

	doc, err := e.FetchDocument(ctx, urlStr, headers)
	if err != nil {
		e.log.Debug("drill-down fetch failed", "url", urlStr, "depth", depth, "error", err)
		return nil, types.NewNoStreamError(urlStr, err.Error())
	}

	if m, ok := SearchDocument(doc.Body); ok {
		source := urlutil.ResolveURL(m.URL, doc.FinalURL)
		e.log.Debug("stream found", "url", urlStr, "depth", depth, "strategy", m.Strategy, "pattern", m.Pattern)
		return &types.StreamDescriptor{
			Source:    source,
			Headers:   StreamHeaders(doc.URL),
			Subtitles: HarvestSubtitles(doc),
			Extractor: e.Name(),
		}, nil
	}

	child, ok := e.nextFrame(doc, visited)
	if !ok {
		e.log.Debug("no stream and no embedded document", "url", urlStr, "depth", depth)
		return nil, types.NewNoStreamError(urlStr, "no stream pattern and no embedded document")
	}

	e.log.Debug("following embedded document", "from", urlStr, "to", child, "depth", depth)

	next := lo.Assign(headers, map[string]string{"Referer": doc.URL})
	return e.drill(ctx, child, next, depth+1, visited)
}

// nextFrame returns the first embedded document not yet visited.
func (e *DrilldownExtractor) nextFrame(doc *Document, visited map[string]bool) (string, bool) {
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Body))
	if err != nil {
		return "", false
	}

	var found string
	parsed.Find("iframe, frame").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
			raw, ok := s.Attr(attr)
			raw = strings.TrimSpace(raw)
			if !ok || raw == "" || strings.HasPrefix(raw, "about:") || strings.HasPrefix(raw, "javascript:") {
				continue
			}
			u := urlutil.ResolveURL(raw, doc.FinalURL)
			if visited[u] || u == doc.FinalURL {
				continue
			}
			found = u
			return false
		}
		return true
	})

	return found, found != ""
}

// HarvestSubtitles collects subtitle tracks from player-config entries and
// <track> elements, resolving relative URLs against the document.
func HarvestSubtitles(doc *Document) []types.Subtitle {
	var subs []types.Subtitle

	for _, m := range deobfuscate.SubtitlePattern.FindAllStringSubmatch(doc.Body, -1) {
		subs = append(subs, types.Subtitle{
			URL:   urlutil.ResolveURL(deobfuscate.NormalizeURL(m[1]), doc.FinalURL),
			Label: m[2],
		})
	}

	if parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc.Body)); err == nil {
		parsed.Find("track[src]").Each(func(_ int, s *goquery.Selection) {
			kind := strings.ToLower(s.AttrOr("kind", "subtitles"))
			if kind != "subtitles" && kind != "captions" {
				return
			}
			subs = append(subs, types.Subtitle{
				URL:      urlutil.ResolveURL(deobfuscate.NormalizeURL(s.AttrOr("src", "")), doc.FinalURL),
				Label:    s.AttrOr("label", ""),
				Language: s.AttrOr("srclang", ""),
			})
		})
	}

	return lo.UniqBy(subs, func(s types.Subtitle) string { return s.URL })
}
