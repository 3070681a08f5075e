package challenge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"
)

// Engine solves challenges with one renderer per call.
type Engine struct {
	factory  interfaces.RendererFactory
	policy   Policy
	sessions *Sessions
	log      *logging.Logger

	mu           sync.RWMutex
	hostPolicies map[string]Policy
}

// NewEngine creates an engine using factory for renderers.
func NewEngine(factory interfaces.RendererFactory, policy Policy, log *logging.Logger) *Engine {
	return &Engine{
		factory:      factory,
		policy:       policy,
		sessions:     NewSessions(),
		log:          log.WithComponent("challenge"),
		hostPolicies: make(map[string]Policy),
	}
}

// Sessions returns the live session registry.
func (e *Engine) Sessions() *Sessions {
	return e.sessions
}

// SetHostPolicy overrides the policy for URLs whose host matches pattern.
func (e *Engine) SetHostPolicy(pattern string, p Policy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hostPolicies[pattern] = p
}

// PolicyFor returns the policy that applies to target. When several host
// patterns match, the most specific one wins.
func (e *Engine) PolicyFor(target string) Policy {
	host := urlutil.Hostname(target)

	e.mu.RLock()
	defer e.mu.RUnlock()
	best, found := "", false
	for pattern := range e.hostPolicies {
		if !urlutil.MatchHost(host, pattern) {
			continue
		}
		if !found || morePrecise(pattern, best) {
			best, found = pattern, true
		}
	}
	if !found {
		return e.policy
	}
	return e.hostPolicies[best]
}

func morePrecise(a, b string) bool {
	sa, sb := registry.Rule{Pattern: a}.Specificity(), registry.Rule{Pattern: b}.Specificity()
	if sa != sb {
		return sa > sb
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a < b
}

// Solve renders url until the page clears, the bounds expire or ctx is
// cancelled. On timeout or cancellation it returns a *types.ChallengeError
// carrying the last DOM seen.
func (e *Engine) Solve(ctx context.Context, url string, headers map[string]string) (*types.RenderedDocument, error) {
	return e.SolveWithPolicy(ctx, url, headers, e.PolicyFor(url))
}

// SolveWithPolicy is Solve with an explicit policy.
func (e *Engine) SolveWithPolicy(ctx context.Context, url string, headers map[string]string, p Policy) (*types.RenderedDocument, error) {
	parent := ctx
	start := time.Now()
	var cancel context.CancelFunc
	if p.Deadline > 0 {
		// The deadline bounds renderer calls too, not only the gaps between polls.
		ctx, cancel = context.WithDeadline(parent, start.Add(p.Deadline))
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	renderer, err := e.factory.NewRenderer(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting renderer: %w", err)
	}
	defer func() {
		if err := renderer.Close(); err != nil {
			e.log.WithError(err).Warn("renderer close failed")
		}
	}()

	sess := e.sessions.open(url, start.Add(p.Deadline), renderer, cancel)
	defer e.sessions.close(sess.id)

	log := e.log.WithSession(sess.id).WithURL(url)
	log.Debug("solving challenge")

	if err := renderer.Load(ctx, url, headers); err != nil {
		if ctx.Err() != nil {
			return nil, e.interrupted(parent, ctx, url, 0, nil)
		}
		return nil, fmt.Errorf("loading %s: %w", url, err)
	}

	userAgent := headers["User-Agent"]
	if userAgent == "" {
		userAgent = types.DefaultUserAgent
	}

	var last *types.RenderedDocument
	for attempt := 1; ; attempt++ {
		sess.setPolls(attempt)

		html, err := renderer.HTML(ctx)
		if err != nil && ctx.Err() == nil {
			log.WithError(err).Debug("reading DOM failed")
		}
		cookies, _ := renderer.Cookies(ctx)
		if ctx.Err() != nil {
			return nil, e.interrupted(parent, ctx, url, attempt, last)
		}

		last = &types.RenderedDocument{
			URL:       e.currentURL(ctx, renderer, url),
			HTML:      html,
			Cookies:   cookies,
			UserAgent: userAgent,
			Polls:     attempt,
		}

		state := State{Attempt: attempt, Elapsed: time.Since(start), Escalated: sess.isEscalated()}
		switch Decide(state, Classify(html, cookies, p), p) {
		case Succeed:
			log.WithDuration(time.Since(start)).Info("challenge cleared", "polls", attempt)
			return last, nil
		case Timeout:
			log.Info("challenge timed out", "polls", attempt)
			return nil, &types.ChallengeError{Kind: types.ErrChallengeTimeout, URL: url, Polls: attempt, Partial: last}
		case Escalate:
			if sess.escalate() != nil {
				log.Info("challenge escalated to interactive surface", "polls", attempt)
			} else {
				log.Info("challenge escalated, renderer is not interactive; polling continues", "polls", attempt)
			}
		}

		wait := p.PollInterval
		if remaining := p.Deadline - time.Since(start); remaining < wait {
			wait = max(remaining, 0)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, e.interrupted(parent, ctx, url, attempt, last)
		case <-timer.C:
		}
	}
}

func (e *Engine) currentURL(ctx context.Context, r interfaces.Renderer, fallback string) string {
	if u, err := r.URL(ctx); err == nil && u != "" {
		return u
	}
	return fallback
}

// interrupted maps the end of ctx to a timeout when the policy deadline fired
// and to a cancellation when the caller or a session command stopped it.
func (e *Engine) interrupted(parent, ctx context.Context, url string, polls int, partial *types.RenderedDocument) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		e.log.Info("challenge timed out", "url", url, "polls", polls)
		return &types.ChallengeError{Kind: types.ErrChallengeTimeout, URL: url, Polls: polls, Partial: partial}
	}
	return e.cancelled(url, polls, partial)
}

func (e *Engine) cancelled(url string, polls int, partial *types.RenderedDocument) error {
	e.log.Info("challenge cancelled", "url", url, "polls", polls)
	return &types.ChallengeError{Kind: types.ErrChallengeCancelled, URL: url, Polls: polls, Partial: partial}
}

// IsChallengeStatus reports whether an HTTP status is the usual interstitial
// response code.
func IsChallengeStatus(code int) bool {
	return code == http.StatusForbidden || code == http.StatusServiceUnavailable
}

// PartialDocument returns the DOM carried by a challenge error, if any.
func PartialDocument(err error) (*types.RenderedDocument, bool) {
	var ce *types.ChallengeError
	if errors.As(err, &ce) && ce.Partial != nil {
		return ce.Partial, true
	}
	return nil, false
}
