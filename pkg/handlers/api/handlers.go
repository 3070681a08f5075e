// Package api provides HTTP handlers for the resolution engine.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"stream-resolver-go/pkg/appctx"
	"stream-resolver-go/pkg/endpoint"
	"stream-resolver-go/pkg/httpclient"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/registry"
	"stream-resolver-go/pkg/types"

	"github.com/samber/lo"
)

const version = "1.0.0"

// Handlers contains all API handlers.
type Handlers struct {
	ctx *appctx.Context
	log *logging.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(ctx *appctx.Context) *Handlers {
	return &Handlers{
		ctx: ctx,
		log: ctx.Log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	// Public routes
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /api/info", h.handleAPIInfo)

	// Endpoint resolution
	mux.HandleFunc("GET /api/endpoints", h.requireAuth(h.handleListEndpoints))
	mux.HandleFunc("GET /api/endpoints/{provider}", h.requireAuth(h.handleResolveEndpoint))
	mux.HandleFunc("PUT /api/endpoints/{provider}/auto-update", h.requireAuth(h.handleSetAutoUpdate))

	// Extraction
	mux.HandleFunc("GET /api/extract", h.requireAuth(h.handleExtract))
	mux.HandleFunc("GET /api/extractors", h.requireAuth(h.handleListExtractors))

	// Challenge solving
	mux.HandleFunc("POST /api/challenge/solve", h.requireAuth(h.handleSolve))
	mux.HandleFunc("GET /api/challenge/sessions", h.requireAuth(h.handleListSessions))
	mux.HandleFunc("GET /api/challenge/sessions/{id}", h.requireAuth(h.handleGetSession))
	mux.HandleFunc("GET /api/challenge/sessions/{id}/screen", h.requireAuth(h.handleScreen))
	mux.HandleFunc("POST /api/challenge/sessions/{id}/input", h.requireAuth(h.handleInput))
	mux.HandleFunc("DELETE /api/challenge/sessions/{id}", h.requireAuth(h.handleCancelSession))
}

// handleIndex lists the available routes.
func (h *Handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"name":    "stream-resolver",
		"version": version,
		"routes": []string{
			"GET /api/info",
			"GET /api/endpoints",
			"GET /api/endpoints/{provider}?refresh=1",
			"PUT /api/endpoints/{provider}/auto-update",
			"GET /api/extract?url=...&name=...&h_<Header>=...",
			"GET /api/extractors",
			"POST /api/challenge/solve",
			"GET /api/challenge/sessions",
			"GET /api/challenge/sessions/{id}",
			"GET /api/challenge/sessions/{id}/screen",
			"POST /api/challenge/sessions/{id}/input",
			"DELETE /api/challenge/sessions/{id}",
		},
	})
}

// handleAPIInfo returns server status as JSON.
func (h *Handlers) handleAPIInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"status":  "running",
		"version": version,
	}
	if h.ctx.Endpoints != nil {
		info["providers"] = len(h.ctx.Endpoints.Snapshots())
	}
	if h.ctx.Registry != nil {
		info["extractors"] = h.ctx.Registry.Names()
	}
	if h.ctx.Challenge != nil {
		info["challenge_sessions"] = len(h.ctx.Challenge.Sessions().List())
	}
	h.writeJSON(w, http.StatusOK, info)
}

// Endpoint handlers

func (h *Handlers) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctx.Endpoints.Snapshots())
}

func (h *Handlers) handleResolveEndpoint(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("provider")
	force := isTruthy(r.URL.Query().Get("refresh"))

	base, err := h.ctx.Endpoints.ResolveEndpoint(r.Context(), id, force)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	resolver, _ := h.ctx.Endpoints.Get(id)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"provider": id,
		"base_url": base,
		"state":    resolver.Snapshot(),
	})
}

func (h *Handlers) handleSetAutoUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("provider")
	resolver, ok := h.ctx.Endpoints.Get(id)
	if !ok {
		h.writeFailure(w, endpoint.ErrUnknownProvider)
		return
	}

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, `body must be {"enabled": true|false}`)
		return
	}

	if err := resolver.SetAutoUpdate(*req.Enabled); err != nil {
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, resolver.Snapshot())
}

// Extraction handlers

func (h *Handlers) handleExtract(w http.ResponseWriter, r *http.Request) {
	ref := h.parseServerReference(r)
	if ref.URL == "" {
		h.writeError(w, http.StatusBadRequest, "url parameter required")
		return
	}

	h.logger(r).Debug("extract request", "url", ref.URL)

	desc, err := h.ctx.Extraction.Extract(r.Context(), ref)
	if err != nil {
		h.writeFailure(w, err)
		return
	}

	if isTruthy(r.URL.Query().Get("redirect_stream")) {
		http.Redirect(w, r, desc.Source, http.StatusFound)
		return
	}

	h.writeJSON(w, http.StatusOK, desc)
}

func (h *Handlers) handleListExtractors(w http.ResponseWriter, r *http.Request) {
	rules := lo.Map(h.ctx.Registry.Rules(), func(rule registry.Rule, _ int) map[string]string {
		return map[string]string{"pattern": rule.Pattern, "extractor": rule.Extractor.Name()}
	})
	h.writeJSON(w, http.StatusOK, map[string]any{
		"extractors": h.ctx.Registry.Names(),
		"rules":      rules,
	})
}

// Challenge handlers

type solveRequest struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

type solveResponse struct {
	URL     string        `json:"url"`
	HTML    string        `json:"html"`
	Cookies []*cookieJSON `json:"cookies,omitempty"`
	Polls   int           `json:"polls"`
}

type cookieJSON struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain,omitempty"`
	Path   string `json:"path,omitempty"`
}

func (h *Handlers) handleSolve(w http.ResponseWriter, r *http.Request) {
	var req solveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		h.writeError(w, http.StatusBadRequest, "body must carry a url")
		return
	}

	start := time.Now()
	doc, err := h.ctx.Challenge.Solve(r.Context(), req.URL, req.Headers)
	if err != nil {
		h.logger(r).WithDuration(time.Since(start)).Info("challenge not solved", "url", req.URL, "error", err)
		h.writeFailure(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toSolveResponse(doc))
}

func toSolveResponse(doc *types.RenderedDocument) solveResponse {
	return solveResponse{
		URL:  doc.URL,
		HTML: doc.HTML,
		Cookies: lo.Map(doc.Cookies, func(c *http.Cookie, _ int) *cookieJSON {
			return &cookieJSON{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path}
		}),
		Polls: doc.Polls,
	}
}

func (h *Handlers) handleListSessions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.ctx.Challenge.Sessions().List())
}

func (h *Handlers) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := h.ctx.Challenge.Sessions().Info(r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) handleScreen(w http.ResponseWriter, r *http.Request) {
	png, err := h.ctx.Challenge.Sessions().Screenshot(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

func (h *Handlers) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	key := r.URL.Query().Get("key")
	if key == "" {
		var req struct {
			Key string `json:"key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			key = req.Key
		}
	}

	k := types.InputKey(strings.ToLower(key))
	if !k.Valid() {
		h.writeError(w, http.StatusBadRequest, "key must be one of up, down, left, right, confirm, back")
		return
	}

	if err := h.ctx.Challenge.Sessions().Input(r.Context(), id, k); err != nil {
		h.writeFailure(w, err)
		return
	}

	info, err := h.ctx.Challenge.Sessions().Info(id)
	if err != nil {
		// back cancels the session; it may already be gone
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handlers) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ctx.Challenge.Sessions().Cancel(r.PathValue("id")); err != nil {
		h.writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helper methods

// parseServerReference builds a reference from url (or d), name and h_ headers.
func (h *Handlers) parseServerReference(r *http.Request) *types.ServerReference {
	q := r.URL.Query()
	urlStr := q.Get("url")
	if urlStr == "" {
		urlStr = q.Get("d")
	}

	ref := &types.ServerReference{
		URL:     urlStr,
		Name:    q.Get("name"),
		Headers: httpclient.ParseHeaderParams(q),
	}
	if cookie := ref.Headers["Cookie"]; cookie != "" {
		if cookies, err := http.ParseCookie(cookie); err == nil {
			ref.Cookies = cookies
			delete(ref.Headers, "Cookie")
		}
	}
	return ref
}

// checkPassword accepts the API password as api_password query parameter,
// bearer token or X-API-Password header.
func (h *Handlers) checkPassword(r *http.Request) bool {
	password := h.ctx.Config.APIPassword
	if password == "" {
		return true
	}
	if r.URL.Query().Get("api_password") == password {
		return true
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && token == password {
		return true
	}
	return r.Header.Get("X-API-Password") == password
}

func (h *Handlers) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.checkPassword(r) {
			h.logger(r).Warn("unauthorized request")
			h.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// logger returns the request-scoped logger set by the logging middleware.
func (h *Handlers) logger(r *http.Request) *logging.Logger {
	return logging.FromContextOr(r.Context(), h.log)
}

// statusFor maps the engine's error taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, endpoint.ErrUnknownProvider), errors.Is(err, types.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrNoStreamFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrChallengeTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrChallengeCancelled):
		return http.StatusConflict
	case errors.Is(err, types.ErrInteractionUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusBadGateway
	}
}

func (h *Handlers) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := map[string]any{"error": err.Error()}

	var ce *types.ChallengeError
	if errors.As(err, &ce) {
		body["polls"] = ce.Polls
		if ce.Partial != nil {
			body["partial"] = toSolveResponse(ce.Partial)
		}
	}
	h.writeJSON(w, status, body)
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes":
		return true
	}
	return false
}
