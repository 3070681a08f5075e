package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"stream-resolver-go/pkg/appctx"
	"stream-resolver-go/pkg/challenge"
	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/endpoint"
	"stream-resolver-go/pkg/extractors"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/interfaces"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/services"
	"stream-resolver-go/pkg/store"
	"stream-resolver-go/pkg/types"
)

// tapRenderer shows a challenge until it is tapped.
type tapRenderer struct {
	mu     sync.Mutex
	tapped bool
}

func (r *tapRenderer) Load(ctx context.Context, url string, headers map[string]string) error {
	return nil
}

func (r *tapRenderer) HTML(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tapped {
		return `<html><div id="player"><video></video></div></html>`, nil
	}
	return `<title>Just a moment...</title>`, nil
}

func (r *tapRenderer) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return []*http.Cookie{{Name: "session", Value: "s1"}}, nil
}

func (r *tapRenderer) URL(ctx context.Context) (string, error) { return "https://target.example/", nil }
func (r *tapRenderer) Viewport() (float64, float64)              { return 400, 200 }
func (r *tapRenderer) Interactive() bool                         { return true }
func (r *tapRenderer) Screenshot(ctx context.Context) ([]byte, error) {
	return []byte("\x89PNG"), nil
}
func (r *tapRenderer) Close() error { return nil }

func (r *tapRenderer) Tap(ctx context.Context, at types.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tapped = true
	return nil
}

type tapFactory struct{}

func (tapFactory) NewRenderer(ctx context.Context) (interfaces.Renderer, error) {
	return &tapRenderer{}, nil
}

func newTestHandlers(apiPassword string) *Handlers {
	log := logging.New("debug", false, io.Discard)
	cfg := &config.Config{
		APIPassword:    apiPassword,
		RequestTimeout: 5 * time.Second,
	}
	ctx := appctx.New(cfg, log)

	transport := httpclient.New(cfg, log)
	ctx.WithEndpoints(endpoint.NewManager(store.NewMemory(), transport, 5*time.Second, log))

	policy := challenge.DefaultPolicy()
	policy.PollInterval = 5 * time.Millisecond
	policy.MinContentSize = 10
	policy.MaxAttempts = 2000
	policy.Deadline = 10 * time.Second
	engine := challenge.NewEngine(tapFactory{}, policy, log)
	ctx.WithChallenge(engine)

	reg := registry.NewExtractorRegistry()
	reg.Register(extractors.NewDirectExtractor())
	reg.Register(extractors.NewMixdropExtractor(transport, engine, log))
	reg.SetFallback(extractors.NewDrilldownExtractor(transport, engine, extractors.DefaultMaxDepth, log))
	ctx.WithExtraction(services.NewExtractionService(log, reg, 10*time.Second), reg)

	return NewHandlers(ctx)
}

func serve(h *Handlers, req *http.Request) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHandlers_checkPassword(t *testing.T) {
	tests := []struct {
		name           string
		configPassword string
		queryPassword  string
		bearerToken    string
		xApiPassword   string
		expected       bool
	}{
		{
			name:           "no password configured - allow access",
			configPassword: "",
			expected:       true,
		},
		{
			name:           "correct query parameter",
			configPassword: "secret123",
			queryPassword:  "secret123",
			expected:       true,
		},
		{
			name:           "wrong query parameter",
			configPassword: "secret123",
			queryPassword:  "wrong",
			expected:       false,
		},
		{
			name:           "correct bearer token",
			configPassword: "secret123",
			bearerToken:    "secret123",
			expected:       true,
		},
		{
			name:           "wrong bearer token",
			configPassword: "secret123",
			bearerToken:    "wrong",
			expected:       false,
		},
		{
			name:           "correct X-API-Password header",
			configPassword: "secret123",
			xApiPassword:   "secret123",
			expected:       true,
		},
		{
			name:           "wrong X-API-Password header",
			configPassword: "secret123",
			xApiPassword:   "wrong",
			expected:       false,
		},
		{
			name:           "no credentials provided",
			configPassword: "secret123",
			expected:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(tt.configPassword)

			reqURL := "http://localhost/test"
			if tt.queryPassword != "" {
				reqURL += "?api_password=" + tt.queryPassword
			}

			req := httptest.NewRequest(http.MethodGet, reqURL, nil)
			if tt.bearerToken != "" {
				req.Header.Set("Authorization", "Bearer "+tt.bearerToken)
			}
			if tt.xApiPassword != "" {
				req.Header.Set("X-API-Password", tt.xApiPassword)
			}

			result := h.checkPassword(req)
			if result != tt.expected {
				t.Errorf("checkPassword() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestHandlers_requireAuth(t *testing.T) {
	h := newTestHandlers("secret123")

	handlerCalled := false
	testHandler := func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}

	wrappedHandler := h.requireAuth(testHandler)

	t.Run("unauthorized request", func(t *testing.T) {
		handlerCalled = false
		req := httptest.NewRequest(http.MethodGet, "http://localhost/test", nil)
		w := httptest.NewRecorder()

		wrappedHandler(w, req)

		if handlerCalled {
			t.Error("handler should not be called for unauthorized request")
		}
		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
		}
	})

	t.Run("authorized request", func(t *testing.T) {
		handlerCalled = false
		req := httptest.NewRequest(http.MethodGet, "http://localhost/test?api_password=secret123", nil)
		w := httptest.NewRecorder()

		wrappedHandler(w, req)

		if !handlerCalled {
			t.Error("handler should be called for authorized request")
		}
		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
	})
}

func TestHandlers_parseServerReference(t *testing.T) {
	h := newTestHandlers("")

	tests := []struct {
		name         string
		query        url.Values
		expectedURL  string
		expectedName string
	}{
		{
			name:        "basic url parameter",
			query:       url.Values{"url": []string{"https://example.com/e/abc"}},
			expectedURL: "https://example.com/e/abc",
		},
		{
			name:        "d parameter as alias for url",
			query:       url.Values{"d": []string{"https://example.com/e/def"}},
			expectedURL: "https://example.com/e/def",
		},
		{
			name: "url takes precedence over d",
			query: url.Values{
				"url": []string{"https://example.com/primary"},
				"d":   []string{"https://example.com/fallback"},
			},
			expectedURL: "https://example.com/primary",
		},
		{
			name: "with name",
			query: url.Values{
				"url":  []string{"https://example.com/e/abc"},
				"name": []string{"Server 1"},
			},
			expectedURL:  "https://example.com/e/abc",
			expectedName: "Server 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://localhost/api/extract?"+tt.query.Encode(), nil)

			ref := h.parseServerReference(req)

			if ref.URL != tt.expectedURL {
				t.Errorf("URL = %q, want %q", ref.URL, tt.expectedURL)
			}
			if ref.Name != tt.expectedName {
				t.Errorf("Name = %q, want %q", ref.Name, tt.expectedName)
			}
		})
	}
}

func TestHandlers_parseServerReference_Headers(t *testing.T) {
	h := newTestHandlers("")

	query := url.Values{
		"url":       []string{"https://example.com/e/abc"},
		"h_Referer": []string{"https://origin.example.com"},
		"h_Cookie":  []string{"session=abc123; lang=en"},
	}

	req := httptest.NewRequest(http.MethodGet, "http://localhost/api/extract?"+query.Encode(), nil)
	ref := h.parseServerReference(req)

	if ref.Headers["Referer"] != "https://origin.example.com" {
		t.Errorf("Referer header = %q, want %q", ref.Headers["Referer"], "https://origin.example.com")
	}
	if _, ok := ref.Headers["Cookie"]; ok {
		t.Error("Cookie header should be moved to cookies")
	}
	if len(ref.Cookies) != 2 || ref.Cookies[0].Name != "session" || ref.Cookies[0].Value != "abc123" {
		t.Errorf("cookies = %+v", ref.Cookies)
	}
}

func TestHandlers_writeJSON(t *testing.T) {
	h := newTestHandlers("")

	w := httptest.NewRecorder()
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})

	if w.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}

	body := w.Body.String()
	if !strings.Contains(body, `"status":"ok"`) {
		t.Errorf("body = %q, expected to contain status:ok", body)
	}
}

func TestHandlers_writeError(t *testing.T) {
	h := newTestHandlers("")

	w := httptest.NewRecorder()
	h.writeError(w, http.StatusBadRequest, "missing parameter")

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	body := w.Body.String()
	if !strings.Contains(body, `"error":"missing parameter"`) {
		t.Errorf("body = %q, expected to contain error message", body)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: x", endpoint.ErrUnknownProvider), http.StatusNotFound},
		{types.ErrSessionNotFound, http.StatusNotFound},
		{types.NewNoStreamError("u", "r"), http.StatusUnprocessableEntity},
		{&types.ChallengeError{Kind: types.ErrChallengeTimeout}, http.StatusGatewayTimeout},
		{&types.ChallengeError{Kind: types.ErrChallengeCancelled}, http.StatusConflict},
		{types.ErrInteractionUnsupported, http.StatusNotImplemented},
		{io.ErrUnexpectedEOF, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRoutes_Auth(t *testing.T) {
	h := newTestHandlers("secret123")

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/info", nil))
	if w.Code != http.StatusOK {
		t.Errorf("/api/info status = %d, want public access", w.Code)
	}

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/endpoints", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("/api/endpoints status = %d, want 401", w.Code)
	}
}

func TestRoutes_Endpoints(t *testing.T) {
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<a class="current" href="https://moved.example/">here</a>`)
	}))
	defer portal.Close()

	h := newTestHandlers("")
	h.ctx.Endpoints.Register(endpoint.Definition{
		ID:               "alpha",
		DefaultBaseURL:   "https://alpha.example",
		DefaultPortalURL: portal.URL,
		Locator:          endpoint.TableLocator{BaseSelector: "a.current", BaseAttr: "href"},
	})

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/endpoints/alpha?refresh=1", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var got struct {
		BaseURL string              `json:"base_url"`
		State   types.EndpointState `json:"state"`
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.BaseURL != "https://moved.example" || got.State.CachedBaseURL != "https://moved.example" {
		t.Errorf("response = %+v", got)
	}

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/endpoints/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown provider status = %d, want 404", w.Code)
	}

	w = serve(h, httptest.NewRequest(http.MethodPut, "/api/endpoints/alpha/auto-update", strings.NewReader(`{"enabled":false}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("auto-update status = %d, body = %s", w.Code, w.Body)
	}
	if r, _ := h.ctx.Endpoints.Get("alpha"); r.AutoUpdateEnabled() {
		t.Error("auto-update still enabled")
	}

	w = serve(h, httptest.NewRequest(http.MethodPut, "/api/endpoints/alpha/auto-update", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty body status = %d, want 400", w.Code)
	}
}

func TestRoutes_Extract(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/embed/1" {
			fmt.Fprint(w, `<script>var src = "https://cdn.example/one.m3u8";</script>`)
			return
		}
		http.NotFound(w, r)
	}))
	defer site.Close()

	h := newTestHandlers("")

	q := url.Values{"url": []string{site.URL + "/embed/1"}, "h_Referer": []string{"https://provider.example/"}}
	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/extract?"+q.Encode(), nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body)
	}
	var desc types.StreamDescriptor
	if err := json.NewDecoder(w.Body).Decode(&desc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Source != "https://cdn.example/one.m3u8" || desc.Headers["Referer"] != site.URL+"/embed/1" {
		t.Errorf("descriptor = %+v", desc)
	}

	q.Set("redirect_stream", "true")
	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/extract?"+q.Encode(), nil))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "https://cdn.example/one.m3u8" {
		t.Errorf("redirect: status = %d, location = %q", w.Code, w.Header().Get("Location"))
	}

	q.Set("url", site.URL+"/missing")
	q.Del("redirect_stream")
	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/extract?"+q.Encode(), nil))
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("missing stream status = %d, want 422", w.Code)
	}

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/extract", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("no url status = %d, want 400", w.Code)
	}
}

func TestRoutes_ExtractorList(t *testing.T) {
	h := newTestHandlers("")
	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/extractors", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{`"direct"`, `"mixdrop"`, `"drilldown"`, `"mixdrop.*"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s: %s", want, body)
		}
	}
}

// TestRoutes_InteractiveSolve drives a whole escalated session over HTTP:
// solve blocks, the session shows up escalated, confirm taps the page and
// the solve call returns the cleared DOM.
func TestRoutes_InteractiveSolve(t *testing.T) {
	h := newTestHandlers("")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(h, httptest.NewRequest(http.MethodPost, "/api/challenge/solve", strings.NewReader(`{"url":"https://target.example/"}`)))
	}()

	var id string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sessions := h.ctx.Challenge.Sessions().List()
		if len(sessions) == 1 && sessions[0].Escalated {
			id = sessions[0].ID
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("no escalated session appeared")
	}

	w := serve(h, httptest.NewRequest(http.MethodGet, "/api/challenge/sessions/"+id+"/screen", nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/png" {
		t.Errorf("screen: status = %d, type = %q", w.Code, w.Header().Get("Content-Type"))
	}

	w = serve(h, httptest.NewRequest(http.MethodPost, "/api/challenge/sessions/"+id+"/input?key=sideways", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad key status = %d, want 400", w.Code)
	}

	w = serve(h, httptest.NewRequest(http.MethodPost, "/api/challenge/sessions/"+id+"/input", strings.NewReader(`{"key":"confirm"}`)))
	if w.Code != http.StatusOK {
		t.Errorf("input status = %d, body = %s", w.Code, w.Body)
	}

	select {
	case w := <-done:
		if w.Code != http.StatusOK {
			t.Fatalf("solve status = %d, body = %s", w.Code, w.Body)
		}
		var got solveResponse
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !strings.Contains(got.HTML, "<video>") || got.URL != "https://target.example/" {
			t.Errorf("solve response = %+v", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("solve did not return after confirm")
	}

	w = serve(h, httptest.NewRequest(http.MethodGet, "/api/challenge/sessions/"+id, nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("finished session status = %d, want 404", w.Code)
	}
}

func TestRoutes_CancelSolve(t *testing.T) {
	h := newTestHandlers("")

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- serve(h, httptest.NewRequest(http.MethodPost, "/api/challenge/solve", strings.NewReader(`{"url":"https://target.example/"}`)))
	}()

	var id string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && id == "" {
		if sessions := h.ctx.Challenge.Sessions().List(); len(sessions) == 1 && sessions[0].Polls >= 2 {
			id = sessions[0].ID
		}
		time.Sleep(5 * time.Millisecond)
	}
	if id == "" {
		t.Fatal("no session appeared")
	}

	w := serve(h, httptest.NewRequest(http.MethodDelete, "/api/challenge/sessions/"+id, nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("cancel status = %d", w.Code)
	}

	select {
	case w := <-done:
		if w.Code != http.StatusConflict {
			t.Errorf("solve status = %d, want 409; body = %s", w.Code, w.Body)
		}
		if !strings.Contains(w.Body.String(), `"partial"`) {
			t.Errorf("cancelled solve carries no partial DOM: %s", w.Body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("solve did not return after cancel")
	}
}

func TestRoutes_SolveBadRequest(t *testing.T) {
	h := newTestHandlers("")
	w := serve(h, httptest.NewRequest(http.MethodPost, "/api/challenge/solve", strings.NewReader(`{}`)))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
