// Package challenge gets past automated-traffic interstitials.
//
// The engine renders the target page, classifies the live DOM on a fixed
// interval and, when content stays absent past a short grace period, exposes
// an interactive surface that accepts directional input. Classification and
// the poll decision are pure functions; the Engine is the side-effecting
// driver around them.
package challenge

import (
	"net/http"
	"strings"
	"time"

	"stream-resolver-go/pkg/config"
)

// Policy is the classification and polling policy for one solve.
type Policy struct {
	ChallengeMarkers []string
	ContentMarkers   []string
	MinContentSize   int
	ClearanceCookies []string

	PollInterval  time.Duration
	MaxAttempts   int
	Deadline      time.Duration
	EscalateAfter int // poll cycles without content before escalating
}

// Default marker sets. Matching is case-insensitive.
var (
	defaultChallengeMarkers = []string{
		"just a moment",
		"checking your browser",
		"ddos-guard",
		"attention required",
		"verify you are human",
		"cf-challenge-running",
		"challenge-platform",
		"cf_chl_opt",
		"turnstile-wrapper",
	}
	defaultContentMarkers = []string{
		"<video",
		"<article",
		"<iframe",
		"jwplayer",
		`id="player`,
		`class="film`,
		`class="movie`,
	}
	defaultClearanceCookies = []string{"cf_clearance"}
)

// DefaultPolicy returns the stock policy: 2s interval, 80 attempts, 120s
// deadline, escalation after 2 cycles.
func DefaultPolicy() Policy {
	return Policy{
		ChallengeMarkers: defaultChallengeMarkers,
		ContentMarkers:   defaultContentMarkers,
		MinContentSize:   2048,
		ClearanceCookies: defaultClearanceCookies,
		PollInterval:     2 * time.Second,
		MaxAttempts:      80,
		Deadline:         120 * time.Second,
		EscalateAfter:    2,
	}
}

// PolicyFromConfig applies the configured timing to the default policy.
func PolicyFromConfig(cfg *config.Config) Policy {
	p := DefaultPolicy()
	if cfg.ChallengePollInterval > 0 {
		p.PollInterval = cfg.ChallengePollInterval
	}
	if cfg.ChallengeMaxAttempts > 0 {
		p.MaxAttempts = cfg.ChallengeMaxAttempts
	}
	if cfg.ChallengeDeadline > 0 {
		p.Deadline = cfg.ChallengeDeadline
	}
	if cfg.ChallengeEscalateAfter > 0 {
		p.EscalateAfter = cfg.ChallengeEscalateAfter
	}
	return p
}

// WithTable returns a copy with a provider's overrides applied. Empty fields
// keep the current values.
func (p Policy) WithTable(t config.ChallengeTable) Policy {
	if len(t.ChallengeMarkers) > 0 {
		p.ChallengeMarkers = t.ChallengeMarkers
	}
	if len(t.ContentMarkers) > 0 {
		p.ContentMarkers = t.ContentMarkers
	}
	if t.MinContentSize > 0 {
		p.MinContentSize = t.MinContentSize
	}
	if len(t.ClearanceCookies) > 0 {
		p.ClearanceCookies = t.ClearanceCookies
	}
	return p
}

// LooksChallenged reports whether a raw (unrendered) body carries one of the
// policy's challenge markers. Extractors use it to decide when to hand a
// fetched document to the engine.
func (p Policy) LooksChallenged(body string) bool {
	return containsAny(strings.ToLower(body), p.ChallengeMarkers)
}

// Verdict is the classification of one rendered snapshot.
type Verdict struct {
	Challenged bool
	HasContent bool
	Cleared    bool
}

// Classify inspects a rendered DOM and the page's cookies.
func Classify(html string, cookies []*http.Cookie, p Policy) Verdict {
	lower := strings.ToLower(html)

	v := Verdict{
		Challenged: containsAny(lower, p.ChallengeMarkers),
		HasContent: len(html) >= p.MinContentSize && containsAny(lower, p.ContentMarkers),
	}

	for _, c := range cookies {
		for _, name := range p.ClearanceCookies {
			if c.Name == name && c.Value != "" {
				v.Cleared = true
			}
		}
	}

	return v
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
