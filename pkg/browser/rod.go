// Package browser provides the script-executing renderer backend built on a
// Chromium instance driven over CDP.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/types"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

const (
	viewportWidth  = 1280
	viewportHeight = 720
)

// Factory launches one browser process lazily and hands out isolated
// (incognito) pages, one per solve call.
type Factory struct {
	bin      string
	headless bool
	log      *logging.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewFactory creates a factory. An empty bin lets the launcher locate or
// download a browser.
func NewFactory(bin string, headless bool, log *logging.Logger) *Factory {
	return &Factory{
		bin:      bin,
		headless: headless,
		log:      log.WithComponent("browser"),
	}
}

func (f *Factory) connect() (*rod.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser != nil {
		return f.browser, nil
	}

	l := launcher.New().
		Headless(f.headless).
		Set("no-sandbox").
		Set("disable-gpu").
		Set("disable-dev-shm-usage")
	if f.bin != "" {
		l = l.Bin(f.bin)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	f.launcher = l
	f.browser = b
	f.log.Info("browser started", "headless", f.headless)
	return b, nil
}

// NewRenderer opens an isolated page.
func (f *Factory) NewRenderer(ctx context.Context) (interfaces.Renderer, error) {
	b, err := f.connect()
	if err != nil {
		return nil, err
	}

	incognito, err := b.Incognito()
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		incognito.Close()
		return nil, fmt.Errorf("opening page: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		page.Close()
		incognito.Close()
		return nil, fmt.Errorf("setting viewport: %w", err)
	}

	return &Renderer{browser: incognito, page: page}, nil
}

// Close shuts the browser process down.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.browser == nil {
		return nil
	}
	err := f.browser.Close()
	f.launcher.Kill()
	f.launcher.Cleanup()
	f.browser = nil
	f.launcher = nil
	return err
}

// Renderer is one page in its own browser context.
type Renderer struct {
	browser *rod.Browser
	page    *rod.Page

	closeOnce sync.Once
	closeErr  error
}

func (r *Renderer) Load(ctx context.Context, url string, headers map[string]string) error {
	p := r.page.Context(ctx)

	extra := make([]string, 0, len(headers)*2)
	for k, v := range headers {
		if strings.EqualFold(k, "User-Agent") {
			continue
		}
		extra = append(extra, k, v)
	}
	if len(extra) > 0 {
		if _, err := p.SetExtraHeaders(extra); err != nil {
			return fmt.Errorf("setting headers: %w", err)
		}
	}

	ua := headers["User-Agent"]
	if ua == "" {
		ua = types.DefaultUserAgent
	}
	if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: ua}); err != nil {
		return fmt.Errorf("setting user agent: %w", err)
	}

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigating: %w", err)
	}
	return p.WaitLoad()
}

func (r *Renderer) HTML(ctx context.Context) (string, error) {
	return r.page.Context(ctx).HTML()
}

func (r *Renderer) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	raw, err := r.page.Context(ctx).Cookies(nil)
	if err != nil {
		return nil, err
	}

	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, hc)
	}
	return cookies, nil
}

func (r *Renderer) URL(ctx context.Context) (string, error) {
	info, err := r.page.Context(ctx).Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (r *Renderer) Viewport() (float64, float64) {
	return viewportWidth, viewportHeight
}

func (r *Renderer) Interactive() bool { return true }

// Tap moves the mouse to the point and clicks it.
func (r *Renderer) Tap(ctx context.Context, at types.Point) error {
	p := r.page.Context(ctx)
	if err := p.Mouse.MoveTo(proto.Point{X: at.X, Y: at.Y}); err != nil {
		return fmt.Errorf("moving pointer: %w", err)
	}
	if err := p.Mouse.Down(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("pointer down: %w", err)
	}
	if err := p.Mouse.Up(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("pointer up: %w", err)
	}
	return nil
}

func (r *Renderer) Screenshot(ctx context.Context) ([]byte, error) {
	return r.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

// Close closes the page and disposes of its browser context.
func (r *Renderer) Close() error {
	r.closeOnce.Do(func() {
		pageErr := r.page.Close()
		ctxErr := r.browser.Close()
		if pageErr != nil {
			r.closeErr = pageErr
		} else {
			r.closeErr = ctxErr
		}
	})
	return r.closeErr
}
