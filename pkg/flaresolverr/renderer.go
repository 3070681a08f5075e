package flaresolverr

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/types"
)

// Factory creates one session-backed renderer per solve call.
type Factory struct {
	client *Client
}

// NewFactory wraps a client as a renderer factory.
func NewFactory(client *Client) *Factory {
	return &Factory{client: client}
}

// NewRenderer creates a FlareSolverr session.
func (f *Factory) NewRenderer(ctx context.Context) (interfaces.Renderer, error) {
	if !f.client.IsConfigured() {
		return nil, errors.New("FlareSolverr URL not configured")
	}
	session, err := f.client.CreateSession(ctx)
	if err != nil {
		return nil, err
	}
	return &Renderer{client: f.client, session: session}, nil
}

// Renderer re-renders the target inside its session on every poll after the
// first. It cannot take pointer input.
type Renderer struct {
	client  *Client
	session string

	mu      sync.Mutex
	url     string
	cookies []Cookie
	current *Solution
	fresh   bool // current has not been read yet

	closeOnce sync.Once
	closeErr  error
}

func (r *Renderer) Load(ctx context.Context, url string, headers map[string]string) error {
	var cookies []Cookie
	if raw := headers["Cookie"]; raw != "" {
		if parsed, err := http.ParseCookie(raw); err == nil {
			cookies = FromHTTPCookies(parsed)
		}
	}

	sol, err := r.client.Get(ctx, url, r.session, cookies)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.url = url
	r.cookies = cookies
	r.current = sol
	r.fresh = true
	r.mu.Unlock()
	return nil
}

// snapshot returns the latest solution, re-rendering when the previous one
// has already been consumed.
func (r *Renderer) snapshot(ctx context.Context) (*Solution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return nil, errors.New("page not loaded")
	}
	if r.fresh {
		r.fresh = false
		return r.current, nil
	}

	sol, err := r.client.Get(ctx, r.url, r.session, r.cookies)
	if err != nil {
		return r.current, err
	}
	r.current = sol
	return sol, nil
}

func (r *Renderer) HTML(ctx context.Context) (string, error) {
	sol, err := r.snapshot(ctx)
	if sol == nil {
		return "", err
	}
	return sol.Response, err
}

// Cookies returns the cookies of the last render without re-rendering.
func (r *Renderer) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil, nil
	}
	return ToHTTPCookies(r.current.Cookies), nil
}

func (r *Renderer) URL(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil && r.current.URL != "" {
		return r.current.URL, nil
	}
	return r.url, nil
}

func (r *Renderer) Viewport() (float64, float64) { return 0, 0 }

func (r *Renderer) Interactive() bool { return false }

func (r *Renderer) Tap(ctx context.Context, at types.Point) error {
	return types.ErrInteractionUnsupported
}

func (r *Renderer) Screenshot(ctx context.Context) ([]byte, error) {
	return nil, types.ErrInteractionUnsupported
}

// Close destroys the session. It uses its own short deadline so teardown
// still happens after the solve context is cancelled.
func (r *Renderer) Close() error {
	r.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.closeErr = r.client.DestroySession(ctx, r.session)
	})
	return r.closeErr
}
