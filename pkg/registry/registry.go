// Package registry maps server references to extractor strategies.
package registry

import (
	"sort"
	"strings"
	"sync"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/urlutil"

	"github.com/samber/lo"
)

// URLMatcher is implemented by extractors that select on the whole URL
// rather than on the host (e.g. direct media links). They are consulted
// before host rules.
type URLMatcher interface {
	MatchesURL(url string) bool
}

// Rule maps one host pattern to an extractor.
type Rule struct {
	Pattern   string
	Extractor interfaces.Extractor
	order     int
}

// Specificity is the number of concrete host labels in the pattern.
// "cdn.mixdrop.co" beats "mixdrop.co", which beats "mixdrop.*".
func (r Rule) Specificity() int {
	labels := strings.Split(r.Pattern, ".")
	return len(lo.Reject(labels, func(l string, _ int) bool { return l == "*" || l == "" }))
}

// ExtractorRegistry holds the process-wide extractor rules. It is filled at
// startup and only read afterwards.
type ExtractorRegistry struct {
	mu         sync.RWMutex
	rules      []Rule
	matchers   []interfaces.Extractor
	extractors []interfaces.Extractor
	byName     map[string]interfaces.Extractor
	fallback   interfaces.Extractor
}

// NewExtractorRegistry creates a new extractor registry.
func NewExtractorRegistry() *ExtractorRegistry {
	return &ExtractorRegistry{
		byName: make(map[string]interfaces.Extractor),
	}
}

// Register adds an extractor and one rule per host pattern it declares.
func (r *ExtractorRegistry) Register(extractor interfaces.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.extractors = append(r.extractors, extractor)
	r.byName[extractor.Name()] = extractor

	if _, ok := extractor.(URLMatcher); ok {
		r.matchers = append(r.matchers, extractor)
	}

	for _, host := range extractor.Hosts() {
		r.rules = append(r.rules, Rule{Pattern: strings.ToLower(host), Extractor: extractor, order: len(r.rules)})
	}

	sort.SliceStable(r.rules, func(i, j int) bool {
		si, sj := r.rules[i].Specificity(), r.rules[j].Specificity()
		if si != sj {
			return si > sj
		}
		return r.rules[i].order < r.rules[j].order
	})
}

// SetFallback sets the catch-all extractor used when no rule matches.
func (r *ExtractorRegistry) SetFallback(extractor interfaces.Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = extractor
	r.byName[extractor.Name()] = extractor
}

// Get returns the single extractor for url: a URL matcher first, then the
// most specific host rule, then the fallback.
func (r *ExtractorRegistry) Get(url string) interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.matchers {
		if e.(URLMatcher).MatchesURL(url) {
			return e
		}
	}

	host := urlutil.Hostname(url)
	for _, rule := range r.rules {
		if urlutil.MatchHost(host, rule.Pattern) {
			return rule.Extractor
		}
	}
	return r.fallback
}

// GetByName returns an extractor by its name.
func (r *ExtractorRegistry) GetByName(name string) interfaces.Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byName[name]; ok {
		return e
	}
	return r.fallback
}

// Rules returns the host rules in priority order.
func (r *ExtractorRegistry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Rule, len(r.rules))
	copy(result, r.rules)
	return result
}

// Names returns the names of all registered extractors, fallback last.
func (r *ExtractorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Map(r.extractors, func(e interfaces.Extractor, _ int) string { return e.Name() })
	if r.fallback != nil {
		names = append(names, r.fallback.Name())
	}
	return names
}

// Close closes all registered extractors.
func (r *ExtractorRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.extractors {
		_ = e.Close()
	}
	if r.fallback != nil {
		_ = r.fallback.Close()
	}
	return nil
}
