// Package endpoint keeps each provider's reachable base address current.
//
// A Resolver owns one provider's address state. Resolve refreshes it from the
// provider's portal page under a refresh lock; EnsureInitialized collapses
// concurrent first-use callers into a single resolution under a separate init
// lock. Failures never propagate: the previous cached or default address is
// kept and the provider client is rebuilt against it.
package endpoint

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/store"
	"stream-resolver-go/pkg/types"
	"stream-resolver-go/pkg/urlutil"

	"github.com/PuerkitoBio/goquery"
)

// Phase is the resolver lifecycle state.
type Phase string

const (
	PhaseUninitialized Phase = "Uninitialized"
	PhaseResolving     Phase = "Resolving"
	PhaseReady         Phase = "Ready"
)

// Definition is the compiled-in identity of one provider.
type Definition struct {
	ID               string
	DefaultBaseURL   string
	DefaultPortalURL string
	Locator          Locator
}

// Resolver maintains one provider's EndpointState.
type Resolver struct {
	def       Definition
	store     interfaces.Store
	transport interfaces.Transport
	timeout   time.Duration
	log       *logging.Logger

	refreshMu sync.Mutex // serializes refreshes
	initMu    sync.Mutex // guards first-time initialization

	initialized atomic.Bool
	insecure    atomic.Bool
	refreshing  atomic.Bool // a drift-triggered background refresh is pending

	mu             sync.RWMutex
	phase          Phase
	client         *Client
	lastResolvedAt time.Time
	driftBase      string

	wg sync.WaitGroup
}

// NewResolver creates a resolver for def. No network access happens until
// Resolve or EnsureInitialized is called.
func NewResolver(def Definition, st interfaces.Store, transport interfaces.Transport, timeout time.Duration, log *logging.Logger) *Resolver {
	if def.Locator == nil {
		def.Locator = TableLocator{BaseAttr: "href"}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		def:       def,
		store:     st,
		transport: transport,
		timeout:   timeout,
		log:       log.WithComponent("endpoint").WithProvider(def.ID),
		phase:     PhaseUninitialized,
	}
}

// ID returns the provider ID.
func (r *Resolver) ID() string {
	return r.def.ID
}

// Resolve refreshes the base address when forced or when auto-update is not
// explicitly disabled, then rebuilds the provider client and marks the
// resolver initialized. It always returns a usable address.
func (r *Resolver) Resolve(ctx context.Context, force bool) string {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	r.setPhase(PhaseResolving)

	if force || r.AutoUpdateEnabled() {
		start := time.Now()
		base, logo, err := r.refresh(ctx)
		if err != nil {
			r.log.WithError(err).Warn("endpoint refresh failed, keeping previous address",
				"address", r.BaseURL(), "force", force)
		} else {
			r.persist(base, logo)
			r.log.WithDuration(time.Since(start)).Info("endpoint refreshed", "address", base)
		}
	}

	base := r.BaseURL()

	r.mu.Lock()
	r.client = &Client{r: r, base: strings.TrimSuffix(base, "/")}
	r.lastResolvedAt = time.Now()
	r.phase = PhaseReady
	r.mu.Unlock()

	r.initialized.Store(true)
	return base
}

// EnsureInitialized resolves once if the provider has never been resolved.
// Concurrent callers wait for the single in-flight resolution.
func (r *Resolver) EnsureInitialized(ctx context.Context) string {
	if r.initialized.Load() {
		return r.BaseURL()
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	if r.initialized.Load() {
		return r.BaseURL()
	}
	return r.Resolve(ctx, false)
}

// BaseURL returns the persisted override, or the default when none is stored.
// Readers outside the refresh lock may see a slightly stale value.
func (r *Resolver) BaseURL() string {
	if v, ok := r.store.Get(r.def.ID, store.KeyCachedBaseURL); ok && v != "" {
		return v
	}
	return r.def.DefaultBaseURL
}

// LogoURL returns the persisted logo address, if any.
func (r *Resolver) LogoURL() string {
	v, _ := r.store.Get(r.def.ID, store.KeyCachedLogoURL)
	return v
}

// AutoUpdateEnabled reports whether refreshes run without being forced.
// Only an explicit "false" disables it.
func (r *Resolver) AutoUpdateEnabled() bool {
	v, ok := r.store.Get(r.def.ID, store.KeyAutoUpdateEnabled)
	return !ok || v != "false"
}

// SetAutoUpdate persists the auto-update flag.
func (r *Resolver) SetAutoUpdate(enabled bool) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	return r.store.Set(r.def.ID, store.KeyAutoUpdateEnabled, fmt.Sprint(enabled))
}

// Phase returns the current lifecycle state.
func (r *Resolver) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// Client returns the provider-bound client, initializing the resolver first
// if needed.
func (r *Resolver) Client(ctx context.Context) *Client {
	r.EnsureInitialized(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Snapshot returns a point-in-time view of the provider's state.
func (r *Resolver) Snapshot() types.EndpointState {
	cached, _ := r.store.Get(r.def.ID, store.KeyCachedBaseURL)

	r.mu.RLock()
	defer r.mu.RUnlock()

	return types.EndpointState{
		ProviderID:        r.def.ID,
		DefaultBaseURL:    r.def.DefaultBaseURL,
		DefaultPortalURL:  r.def.DefaultPortalURL,
		CachedBaseURL:     cached,
		CachedLogoURL:     r.LogoURL(),
		AutoUpdateEnabled: r.AutoUpdateEnabled(),
		LastResolvedAt:    r.lastResolvedAt,
		Phase:             string(r.phase),
		Insecure:          r.insecure.Load(),
	}
}

// Wait blocks until background refreshes scheduled by drift detection finish.
func (r *Resolver) Wait() {
	r.wg.Wait()
}

func (r *Resolver) setPhase(p Phase) {
	r.mu.Lock()
	r.phase = p
	r.mu.Unlock()
}

func (r *Resolver) persist(base, logo string) {
	if err := r.store.Set(r.def.ID, store.KeyCachedBaseURL, base); err != nil {
		r.log.WithError(err).Warn("failed to persist base address")
	}
	if logo != "" {
		if err := r.store.Set(r.def.ID, store.KeyCachedLogoURL, logo); err != nil {
			r.log.WithError(err).Warn("failed to persist logo address")
		}
	}
}

// refresh locates the current base address on the portal page. When that
// fails and normal traffic recently observed a redirect to a new host, the
// redirect target is adopted instead.
func (r *Resolver) refresh(ctx context.Context) (string, string, error) {
	r.mu.Lock()
	drift := r.driftBase
	r.driftBase = ""
	r.mu.Unlock()

	base, logo, err := r.locate(ctx)
	if err == nil {
		return base, logo, nil
	}
	if drift != "" {
		r.log.Info("adopting redirect target as base address", "address", drift)
		return drift, drift + "/favicon.ico", nil
	}
	return "", "", err
}

func (r *Resolver) locate(ctx context.Context) (string, string, error) {
	portal := r.def.DefaultPortalURL
	if portal == "" {
		return "", "", fmt.Errorf("%w: no portal configured", types.ErrResolutionFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, portal, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", types.ErrResolutionFailed, err)
	}
	req.Header.Set("User-Agent", types.DefaultUserAgent)

	resp, err := r.do(req, true)
	if err != nil {
		return "", "", fmt.Errorf("%w: fetching portal: %v", types.ErrResolutionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("%w: portal returned status %d", types.ErrResolutionFailed, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("%w: parsing portal: %v", types.ErrResolutionFailed, err)
	}

	base, logo, err := r.def.Locator.Locate(doc, resp.Request.URL.String())
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", types.ErrResolutionFailed, err)
	}
	return base, logo, nil
}

// do sends req, switching this provider to certificate-validation-disabled
// requests after the first certificate rejection.
func (r *Resolver) do(req *http.Request, follow bool) (*http.Response, error) {
	if r.insecure.Load() {
		return r.send(req, follow, true)
	}

	resp, err := r.send(req, follow, false)
	if err == nil || !httpclient.IsCertificateError(err) {
		return resp, err
	}

	if r.insecure.CompareAndSwap(false, true) {
		r.log.WithError(err).Warn("certificate rejected, disabling certificate validation for this provider")
	}

	resp, err = r.send(req.Clone(req.Context()), follow, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCertificateRejected, err)
	}
	return resp, nil
}

func (r *Resolver) send(req *http.Request, follow, insecure bool) (*http.Response, error) {
	switch {
	case follow && insecure:
		return r.transport.DoInsecure(req)
	case follow:
		return r.transport.Do(req)
	case insecure:
		return r.transport.DoInsecureNoRedirect(req)
	default:
		return r.transport.DoNoRedirect(req)
	}
}

// noteDrift records a redirect to a new host and schedules one background
// forced refresh. Further drift observed while that refresh is pending only
// updates the captured host.
func (r *Resolver) noteDrift(target string) {
	base := urlutil.GetSchemeHost(target)
	if base == "" || base == "://" {
		return
	}

	r.mu.Lock()
	r.driftBase = base
	r.mu.Unlock()

	if !r.refreshing.CompareAndSwap(false, true) {
		return
	}

	r.log.Info("redirect to new host detected, scheduling refresh", "target", base)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.refreshing.Store(false)

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		r.Resolve(ctx, true)
	}()
}
