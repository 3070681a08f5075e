package deobfuscate

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Pattern is a named URL pattern. When the expression has a capture group the
// first group is the URL, otherwise the whole match is.
type Pattern struct {
	Name string
	Re   *regexp.Regexp
}

// NewPattern compiles a named pattern. It panics on an invalid expression and is
// meant for package-level tables.
func NewPattern(name, expr string) Pattern {
	return Pattern{Name: name, Re: regexp.MustCompile(expr)}
}

// Match returns the first URL the pattern finds in text.
func (p Pattern) Match(text string) (string, bool) {
	m := p.Re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	u := m[0]
	if len(m) > 1 {
		u = m[1]
	}
	u = NormalizeURL(u)
	return u, u != ""
}

// Harvest is one pattern hit.
type Harvest struct {
	Pattern string
	URL     string
}

// HarvestURLs applies patterns in priority order and returns the first match
// of each pattern that matched. Duplicate URLs keep their first position.
func HarvestURLs(text string, patterns []Pattern) []string {
	return lo.Uniq(lo.Map(HarvestAll(text, patterns), func(h Harvest, _ int) string {
		return h.URL
	}))
}

// HarvestAll is HarvestURLs keeping the name of the pattern that produced each URL.
func HarvestAll(text string, patterns []Pattern) []Harvest {
	text = unescapeSlashes(text)
	var out []Harvest
	for _, p := range patterns {
		if u, ok := p.Match(text); ok {
			out = append(out, Harvest{Pattern: p.Name, URL: u})
		}
	}
	return out
}

// FirstURL returns the highest-priority match.
func FirstURL(text string, patterns []Pattern) (string, bool) {
	hits := HarvestAll(text, patterns)
	if len(hits) == 0 {
		return "", false
	}
	return hits[0].URL, true
}

// NormalizeURL trims quoting debris and makes protocol-relative URLs absolute.
func NormalizeURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.Trim(u, `'"`)
	u = unescapeSlashes(u)
	if strings.HasPrefix(u, "//") {
		u = "https:" + u
	}
	return u
}

func unescapeSlashes(s string) string {
	return strings.ReplaceAll(s, `\/`, "/")
}
