package deobfuscate

import (
	"net/url"
	"regexp"
	"strings"
)

// ManifestPatterns match literal manifest URLs in a raw body.
var ManifestPatterns = []Pattern{
	NewPattern("hls-literal", `https?://[^\s"'<>\\]+?\.m3u8(?:\?[^\s"'<>\\]*)?`),
	NewPattern("dash-literal", `https?://[^\s"'<>\\]+?\.mpd(?:\?[^\s"'<>\\]*)?`),
}

// PlayerConfigPatterns match common player configuration idioms.
// More specific shapes come first.
var PlayerConfigPatterns = []Pattern{
	NewPattern("sources-object", `sources\s*:\s*\[\s*\{[^}]*?(?:file|src)\s*:\s*["']([^"']+)["']`),
	NewPattern("sources-array", `sources\s*:\s*\[\s*["']([^"']+)["']`),
	NewPattern("file-key", `\bfile\s*:\s*["']([^"']+\.(?:m3u8|mp4|mpd)[^"']*)["']`),
	NewPattern("source-key", `\bsource\s*[:=]\s*["']([^"']+\.(?:m3u8|mp4|mpd)[^"']*)["']`),
	NewPattern("src-key", `\bsrc\s*[:=]\s*["']([^"']+\.(?:m3u8|mp4)[^"']*)["']`),
	NewPattern("mp4-literal", `["']((?:https?:)?//[^"'\s]+?\.mp4(?:\?[^"'\s]*)?)["']`),
	NewPattern("m3u8-literal", `["']((?:https?:)?//[^"'\s]+?\.m3u8(?:\?[^"'\s]*)?)["']`),
}

// Layered assignment idioms: a URL hidden behind three base64 layers.
var (
	tripleAtobRe       = regexp.MustCompile(`atob\(\s*atob\(\s*atob\(\s*["']([A-Za-z0-9+/=_-]+)["']\s*\)\s*\)\s*\)`)
	encodedAssignRe    = regexp.MustCompile(`(?:file|source|src|url|link)\s*[:=]\s*["']([A-Za-z0-9+/_-]{24,}={0,2})["']`)
	layeredAssignDepth = 3
)

// FindLayeredURL looks for the triple-layer-encoded assignment idiom and
// returns the decoded URL.
func FindLayeredURL(text string) (string, bool) {
	for _, re := range []*regexp.Regexp{tripleAtobRe, encodedAssignRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			decoded, err := DecodeLayers(m[1], layeredAssignDepth)
			if err != nil {
				continue
			}
			if u := NormalizeURL(string(decoded)); isHTTPURL(u) {
				return u, true
			}
		}
	}
	return "", false
}

// SubtitlePattern matches player-config track entries with a label.
var SubtitlePattern = regexp.MustCompile(`\{\s*(?:file|src)\s*:\s*["']([^"']+\.(?:vtt|srt)[^"']*)["']\s*,\s*label\s*:\s*["']([^"']*)["']`)

func isHTTPURL(s string) bool {
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Host != ""
}
